package tools

import (
	"log/slog"
	"strings"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

// EndpointSpec is one endpoint of a service descriptor.
type EndpointSpec struct {
	Tool        string      `json:"tool_name" yaml:"tool_name"`
	Path        string      `json:"path" yaml:"path"`
	Method      string      `json:"method" yaml:"method"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// ServiceDescriptor describes a downstream service: its base URL and the
// endpoints it exposes.
type ServiceDescriptor struct {
	Service   string         `json:"service_name" yaml:"service_name"`
	BaseURL   string         `json:"base_url" yaml:"base_url"`
	Version   string         `json:"version,omitempty" yaml:"version,omitempty"`
	Endpoints []EndpointSpec `json:"endpoints" yaml:"endpoints"`
}

var knownParamTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// Discovery translates service descriptors into tool bindings. Descriptors
// apply atomically: the whole descriptor is validated before any binding
// registers, and a late registration conflict unwinds the ones already
// registered.
type Discovery struct {
	registry *Registry
}

func NewDiscovery(reg *Registry) *Discovery {
	return &Discovery{registry: reg}
}

// Apply synthesizes and registers a binding per endpoint.
func (d *Discovery) Apply(desc *ServiceDescriptor) error {
	bindings, err := d.synthesize(desc)
	if err != nil {
		return err
	}

	registered := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if err := d.registry.Register(b); err != nil {
			for _, undo := range registered {
				_ = d.registry.Remove(undo.Key())
			}
			return mesherr.Wrap(mesherr.KindOf(err), err,
				"descriptor for service %q rejected", desc.Service)
		}
		registered = append(registered, b)
	}

	slog.Info("Registered service descriptor",
		"service", desc.Service, "tools", len(registered))
	return nil
}

// synthesize validates the descriptor and builds all bindings without
// touching the registry.
func (d *Discovery) synthesize(desc *ServiceDescriptor) ([]Binding, error) {
	if desc == nil || desc.Service == "" {
		return nil, mesherr.New(mesherr.KindInvalidDescriptor, "descriptor requires a service name")
	}
	if desc.BaseURL == "" {
		return nil, mesherr.New(mesherr.KindInvalidDescriptor,
			"descriptor for %q requires a base URL", desc.Service)
	}
	if len(desc.Endpoints) == 0 {
		return nil, mesherr.New(mesherr.KindInvalidDescriptor,
			"descriptor for %q declares no endpoints", desc.Service)
	}

	seen := make(map[string]bool, len(desc.Endpoints))
	bindings := make([]Binding, 0, len(desc.Endpoints))
	base := strings.TrimRight(desc.BaseURL, "/")

	for _, ep := range desc.Endpoints {
		if ep.Tool == "" {
			return nil, mesherr.New(mesherr.KindInvalidDescriptor,
				"descriptor for %q has an endpoint without a tool name", desc.Service)
		}
		if seen[ep.Tool] {
			return nil, mesherr.New(mesherr.KindInvalidDescriptor,
				"descriptor for %q declares tool %q twice", desc.Service, ep.Tool)
		}
		seen[ep.Tool] = true

		method := strings.ToUpper(ep.Method)
		if !allowedMethods[method] {
			return nil, mesherr.New(mesherr.KindInvalidDescriptor,
				"endpoint %q of %q uses unsupported method %q", ep.Tool, desc.Service, ep.Method)
		}

		params := make([]Parameter, 0, len(ep.Parameters))
		for _, p := range ep.Parameters {
			if bodyless(method) && p.Location == InBody {
				return nil, mesherr.New(mesherr.KindInvalidDescriptor,
					"endpoint %q of %q: %s requests must not take body parameter %q",
					ep.Tool, desc.Service, method, p.Name)
			}
			if !knownParamTypes[p.Type] {
				slog.Warn("Unknown parameter type, treating as string",
					"service", desc.Service, "tool", ep.Tool,
					"parameter", p.Name, "type", p.Type)
				p.Type = "string"
			}
			params = append(params, p)
		}

		path := ep.Path
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		bindings = append(bindings, Binding{
			Service:     desc.Service,
			Tool:        ep.Tool,
			Version:     desc.Version,
			URLTemplate: base + path,
			Method:      method,
			Parameters:  params,
			Description: ep.Description,
		})
	}

	return bindings, nil
}
