package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

func TestInvokeComposesRequest(t *testing.T) {
	var got struct {
		path   string
		query  string
		header string
		body   map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.Query().Get("verbose")
		got.header = r.Header.Get("X-Trace")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer srv.Close()

	binding := Binding{
		Service:     "documents",
		Tool:        "annotate",
		URLTemplate: srv.URL + "/documents/{document_id}/annotate",
		Method:      http.MethodPost,
		Parameters: []Parameter{
			{Name: "document_id", Type: "string", Required: true, Location: InPath},
			{Name: "verbose", Type: "boolean", Location: InQuery},
			{Name: "X-Trace", Type: "string", Location: InHeader},
			{Name: "note", Type: "string", Required: true, Location: InBody},
		},
	}

	inv, err := NewInvoker(nil).Invoke(context.Background(), binding, map[string]any{
		"document_id": "doc 1",
		"verbose":     true,
		"X-Trace":     "abc",
		"note":        "check this",
	})
	require.NoError(t, err)

	assert.Equal(t, "/documents/doc 1/annotate", got.path)
	assert.Equal(t, "true", got.query)
	assert.Equal(t, "abc", got.header)
	assert.Equal(t, map[string]any{"note": "check this"}, got.body)

	assert.Equal(t, http.StatusOK, inv.HTTPStatus)
	resp, ok := inv.Response.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", resp["result"])
}

func TestInvokeRejectsUnknownArgument(t *testing.T) {
	binding := Binding{
		Service: "svc", Tool: "echo", URLTemplate: "http://x.local", Method: "POST",
		Parameters: []Parameter{{Name: "a", Type: "string", Location: InBody}},
	}
	_, err := NewInvoker(nil).Invoke(context.Background(), binding, map[string]any{"b": "x"})
	require.Error(t, err)
	assert.Equal(t, mesherr.KindValidation, mesherr.KindOf(err))
}

func TestInvokeRejectsMissingRequired(t *testing.T) {
	binding := Binding{
		Service: "svc", Tool: "echo", URLTemplate: "http://x.local", Method: "POST",
		Parameters: []Parameter{{Name: "a", Type: "string", Required: true, Location: InBody}},
	}
	_, err := NewInvoker(nil).Invoke(context.Background(), binding, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, mesherr.KindValidation, mesherr.KindOf(err))
}

func TestInvokeRejectsTypeViolation(t *testing.T) {
	binding := Binding{
		Service: "svc", Tool: "echo", URLTemplate: "http://x.local", Method: "POST",
		Parameters: []Parameter{{Name: "count", Type: "number", Location: InBody}},
	}
	_, err := NewInvoker(nil).Invoke(context.Background(), binding, map[string]any{"count": "three"})
	require.Error(t, err)
	assert.Equal(t, mesherr.KindValidation, mesherr.KindOf(err))
}

func TestInvokeRejectsUnresolvedPlaceholder(t *testing.T) {
	binding := Binding{
		Service: "svc", Tool: "echo",
		URLTemplate: "http://x.local/items/{id}", Method: "GET",
		Parameters: []Parameter{{Name: "id", Type: "string", Location: InPath}},
	}
	_, err := NewInvoker(nil).Invoke(context.Background(), binding, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, mesherr.KindValidation, mesherr.KindOf(err))
}

func TestInvokeAppliesResponseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"summary": "short", "noise": "drop me"},
		})
	}))
	defer srv.Close()

	binding := Binding{
		Service: "svc", Tool: "analyze",
		URLTemplate: srv.URL, Method: "POST",
		ResponseShape: map[string]string{"summary": "data.summary"},
	}
	inv, err := NewInvoker(nil).Invoke(context.Background(), binding, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "short"}, inv.Response)
}

func TestInvokeKeepsFailedAttemptSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	binding := Binding{Service: "svc", Tool: "flaky", URLTemplate: srv.URL, Method: "POST"}
	inv, err := NewInvoker(nil).Invoke(context.Background(), binding, nil)
	require.Error(t, err)
	assert.Equal(t, mesherr.KindToolNon2xx, mesherr.KindOf(err))
	assert.True(t, mesherr.Retryable(err))
	require.NotNil(t, inv)
	assert.Equal(t, http.StatusServiceUnavailable, inv.HTTPStatus)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", stringify(float64(42)))
	assert.Equal(t, "4.2", stringify(4.2))
	assert.Equal(t, "x", stringify("x"))
	assert.Equal(t, "true", stringify(true))
}

func TestLookupPath(t *testing.T) {
	root := map[string]any{"a": map[string]any{"b": 1.0}}
	v, ok := LookupPath(root, "a.b")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = LookupPath(root, "a.missing")
	assert.False(t, ok)
	_, ok = LookupPath("scalar", "a")
	assert.False(t, ok)
}
