package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meshflow/meshflow/pkg/httpclient"
	"github.com/meshflow/meshflow/pkg/mesherr"
	"github.com/meshflow/meshflow/pkg/observability"
)

// Invocation is the normalized outcome of one tool call, kept verbatim in
// the provenance trail.
type Invocation struct {
	Service    string
	Tool       string
	Request    map[string]any
	Response   any
	HTTPStatus int
	Duration   time.Duration
}

// Invoker dispatches any binding through one generic interpreter: no
// per-tool code, no reflection. All bindings go through Invoke.
type Invoker struct {
	client *httpclient.Client
}

func NewInvoker(client *httpclient.Client) *Invoker {
	if client == nil {
		client = httpclient.New()
	}
	return &Invoker{client: client}
}

// Invoke validates arguments against the binding schema, composes the
// request, and issues it. The returned Invocation is populated even on
// downstream failure so callers can snapshot the attempt.
func (inv *Invoker) Invoke(ctx context.Context, b Binding, args map[string]any) (*Invocation, error) {
	start := time.Now()

	tracer := observability.GetTracer("meshflow.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolInvocation,
		trace.WithAttributes(
			attribute.String(observability.AttrToolService, b.Service),
			attribute.String(observability.AttrToolName, b.Tool),
		),
	)
	defer span.End()

	record := &Invocation{
		Service: b.Service,
		Tool:    b.Tool,
		Request: args,
	}

	finish := func(err error) (*Invocation, error) {
		record.Duration = time.Since(start)
		metrics := observability.GetGlobalMetrics()
		metrics.RecordToolInvocation(ctx, b.Service, b.Tool, record.Duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if status := mesherr.StatusOf(err); status > 0 {
				span.SetAttributes(attribute.Int(observability.AttrStatusCode, status))
			}
		} else {
			span.SetStatus(codes.Ok, "success")
			span.SetAttributes(attribute.Int(observability.AttrStatusCode, record.HTTPStatus))
		}
		return record, err
	}

	if err := validateArgs(b, args); err != nil {
		return finish(err)
	}

	requestURL, query, headers, body, err := composeRequest(b, args)
	if err != nil {
		return finish(err)
	}

	resp, err := inv.client.Request(ctx, b.Method, requestURL, query, headers, body)
	if resp != nil {
		record.HTTPStatus = resp.Status
		record.Response = normalizeResponse(b, resp)
	}
	return finish(err)
}

func validateArgs(b Binding, args map[string]any) error {
	declared := make(map[string]Parameter, len(b.Parameters))
	for _, p := range b.Parameters {
		declared[p.Name] = p
	}

	for name := range args {
		if _, ok := declared[name]; !ok {
			return mesherr.New(mesherr.KindValidation,
				"tool %s does not accept argument %q", b.Key(), name)
		}
	}

	for _, p := range b.Parameters {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				return mesherr.New(mesherr.KindValidation,
					"tool %s requires argument %q", b.Key(), p.Name)
			}
			continue
		}
		if !argTypeMatches(p.Type, value) {
			return mesherr.New(mesherr.KindValidation,
				"tool %s argument %q must be of type %s", b.Key(), p.Name, p.Type)
		}
	}
	return nil
}

func argTypeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	// Unknown types were coerced to string at discovery; anything else
	// passes through.
	return true
}

func composeRequest(b Binding, args map[string]any) (string, url.Values, map[string]string, any, error) {
	requestURL := b.URLTemplate
	query := url.Values{}
	headers := make(map[string]string)
	body := make(map[string]any)

	for _, p := range b.Parameters {
		value, present := args[p.Name]
		if !present || value == nil {
			continue
		}
		switch p.Location {
		case InPath:
			placeholder := "{" + p.Name + "}"
			if !strings.Contains(requestURL, placeholder) {
				return "", nil, nil, nil, mesherr.New(mesherr.KindValidation,
					"tool %s: URL template has no placeholder for path parameter %q", b.Key(), p.Name)
			}
			requestURL = strings.ReplaceAll(requestURL, placeholder, url.PathEscape(stringify(value)))
		case InQuery:
			query.Add(p.Name, stringify(value))
		case InHeader:
			headers[p.Name] = stringify(value)
		case InBody:
			body[p.Name] = value
		default:
			return "", nil, nil, nil, mesherr.New(mesherr.KindValidation,
				"tool %s parameter %q has unsupported location %q", b.Key(), p.Name, p.Location)
		}
	}

	if strings.Contains(requestURL, "{") {
		return "", nil, nil, nil, mesherr.New(mesherr.KindValidation,
			"tool %s: unresolved path placeholders in %q", b.Key(), requestURL)
	}

	var payload any
	if len(body) > 0 {
		payload = body
	}
	return requestURL, query, headers, payload, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Render integral floats without the trailing ".0" JSON decoding
		// introduces.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// normalizeResponse applies the binding's declared response shape. Absence
// of a shape passes the decoded body through.
func normalizeResponse(b Binding, resp *httpclient.Response) any {
	if resp.Body == nil {
		if len(resp.Raw) > 0 {
			return string(resp.Raw)
		}
		return nil
	}
	if len(b.ResponseShape) == 0 {
		return resp.Body
	}

	out := make(map[string]any, len(b.ResponseShape))
	for key, path := range b.ResponseShape {
		if value, ok := LookupPath(resp.Body, path); ok {
			out[key] = value
		}
	}
	return out
}

// LookupPath resolves a dotted path inside a decoded JSON value.
func LookupPath(root any, path string) (any, bool) {
	current := root
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
