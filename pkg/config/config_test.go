package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullDocument(t *testing.T) {
	doc := []byte(`
server:
  host: 127.0.0.1
  port: 8099
  shutdown_timeout: 5s
engine:
  max_concurrent: 8
  admission_cap: 32
  retention: 30m
  tool_timeout: 2s
persistence:
  enabled: true
  dir: /tmp/meshflow
logging:
  level: debug
tracing:
  enabled: true
  sampling_rate: 0.5
services:
  - service_name: documents
    base_url: http://localhost:8081
    endpoints:
      - tool_name: fetch
        path: /documents/fetch
        method: POST
        parameters:
          - name: document_id
            type: string
            required: true
            in: body
`)
	cfg, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8099, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, cfg.Engine.Retention)
	assert.Equal(t, 2*time.Second, cfg.Engine.ToolTimeout)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0.5, cfg.Tracing.SamplingRate)

	require.Len(t, cfg.Services, 1)
	svc := cfg.Services[0]
	assert.Equal(t, "documents", svc.Service)
	require.Len(t, svc.Endpoints, 1)
	assert.Equal(t, "fetch", svc.Endpoints[0].Tool)
	require.Len(t, svc.Endpoints[0].Parameters, 1)
	assert.Equal(t, "body", string(svc.Endpoints[0].Parameters[0].Location))
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, defaultHost, cfg.Server.Host)
	assert.Equal(t, defaultPort, cfg.Server.Port)
	assert.Equal(t, 64, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 1024, cfg.Engine.AdmissionCap)
	assert.Equal(t, 10_000, cfg.Engine.RecordCap)
	assert.Equal(t, time.Hour, cfg.Engine.Retention)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("DOCS_URL", "http://docs.internal:9000")
	doc := []byte(`
services:
  - service_name: documents
    base_url: "${DOCS_URL}"
    endpoints:
      - tool_name: fetch
        path: "${MISSING_PATH:-/fetch}"
        method: GET
`)
	cfg, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "http://docs.internal:9000", cfg.Services[0].BaseURL)
	assert.Equal(t, "/fetch", cfg.Services[0].Endpoints[0].Path)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad port", "server:\n  port: 99999\n"},
		{"admission below concurrency", "engine:\n  max_concurrent: 100\n  admission_cap: 10\n"},
		{"persistence without dir", "persistence:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr())

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 7000
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr())

	t.Setenv("LISTEN_ADDR", "0.0.0.0:9100")
	assert.Equal(t, "0.0.0.0:9100", cfg.ListenAddr())
}
