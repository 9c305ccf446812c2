// Package tools owns the canonical mapping from (service, tool) to an
// invocable HTTP endpoint: the tool registry, the discovery adapter that
// fills it from service descriptors, and the generic invoker.
package tools

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/meshflow/meshflow/pkg/mesherr"
	"github.com/meshflow/meshflow/pkg/registry"
)

// Location says where a parameter travels in the request.
type Location string

const (
	InQuery  Location = "query"
	InBody   Location = "body"
	InPath   Location = "path"
	InHeader Location = "header"
)

// Parameter declares one tool parameter.
type Parameter struct {
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type" yaml:"type"`
	Required bool     `json:"required" yaml:"required"`
	Location Location `json:"in" yaml:"in"`
}

// Binding is the registered mapping from (service, tool) to an HTTP
// endpoint. Bindings are immutable once registered; a new version
// supersedes by key.
type Binding struct {
	Service     string      `json:"service" yaml:"service"`
	Tool        string      `json:"tool" yaml:"tool"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	URLTemplate string      `json:"url_template" yaml:"url_template"`
	Method      string      `json:"http_method" yaml:"http_method"`
	Parameters  []Parameter `json:"parameter_schema,omitempty" yaml:"parameter_schema,omitempty"`
	// ResponseShape maps output keys to dotted paths into the decoded
	// response. Absence means pass-through.
	ResponseShape map[string]string `json:"response_shape,omitempty" yaml:"response_shape,omitempty"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// Key returns the registry key for the binding.
func (b Binding) Key() string {
	return BindingKey(b.Service, b.Tool)
}

func BindingKey(service, tool string) string {
	return service + "/" + tool
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// bodyless marks methods that must not carry body parameters.
func bodyless(method string) bool {
	return method == http.MethodGet || method == http.MethodDelete
}

// Validate checks the binding's internal consistency.
func (b Binding) Validate() error {
	if b.Service == "" || b.Tool == "" {
		return mesherr.New(mesherr.KindValidation, "binding requires service and tool names")
	}
	if b.URLTemplate == "" {
		return mesherr.New(mesherr.KindValidation,
			"binding %s has no URL template", b.Key())
	}
	method := strings.ToUpper(b.Method)
	if !allowedMethods[method] {
		return mesherr.New(mesherr.KindValidation,
			"binding %s uses unsupported method %q", b.Key(), b.Method)
	}
	if bodyless(method) {
		for _, p := range b.Parameters {
			if p.Location == InBody {
				return mesherr.New(mesherr.KindValidation,
					"binding %s: %s requests must not declare body parameter %q",
					b.Key(), method, p.Name)
			}
		}
	}
	return nil
}

// Registry holds tool bindings keyed by (service, tool). Registration is
// serialized; lookups see consistent snapshots.
type Registry struct {
	*registry.BaseRegistry[Binding]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Binding](),
	}
}

// Register installs a binding. An existing key is only superseded by a
// strictly greater version; anything else is duplicate_tool.
func (r *Registry) Register(b Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}
	b.Method = strings.ToUpper(b.Method)

	key := b.Key()
	if existing, ok := r.Get(key); ok {
		if compareVersions(b.Version, existing.Version) <= 0 {
			return mesherr.New(mesherr.KindDuplicateTool,
				"tool %s version %q does not supersede registered version %q",
				key, b.Version, existing.Version)
		}
	}
	r.Replace(key, b)
	return nil
}

// Lookup resolves a binding or reports unknown_tool.
func (r *Registry) Lookup(service, tool string) (Binding, error) {
	b, ok := r.Get(BindingKey(service, tool))
	if !ok {
		return Binding{}, mesherr.New(mesherr.KindUnknownTool,
			"tool %s/%s is not registered", service, tool)
	}
	return b, nil
}

// ListService returns all bindings, optionally filtered by service, sorted
// by key.
func (r *Registry) ListService(service string) []Binding {
	var out []Binding
	for _, name := range r.Names() {
		b, ok := r.Get(name)
		if !ok {
			continue
		}
		if service != "" && b.Service != service {
			continue
		}
		out = append(out, b)
	}
	return out
}

// compareVersions compares dotted numeric versions. Missing or malformed
// segments compare as zero, so "1.2" < "1.2.1" and "" < "0.0.1".
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimSpace(as[i]))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimSpace(bs[i]))
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// String renders the binding for logs.
func (b Binding) String() string {
	return fmt.Sprintf("%s %s -> %s %s", b.Service, b.Tool, b.Method, b.URLTemplate)
}
