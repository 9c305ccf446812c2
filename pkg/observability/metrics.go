package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics holds the engine's instruments. A zero-value Metrics is a no-op,
// so callers can record unconditionally.
type Metrics struct {
	executionDuration metric.Float64Histogram
	executionsTotal   metric.Int64Counter
	executionsActive  metric.Int64UpDownCounter
	toolDuration      metric.Float64Histogram
	toolCalls         metric.Int64Counter
	toolErrors        metric.Int64Counter
	retriesTotal      metric.Int64Counter
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}

// InitMetrics builds the Prometheus-backed meter provider and instruments.
// The collected metrics are served by Handler.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter(DefaultServiceName)

	m := &Metrics{}

	m.executionDuration, err = meter.Float64Histogram(
		"meshflow_execution_duration_seconds",
		metric.WithDescription("Workflow execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution duration histogram: %w", err)
	}

	m.executionsTotal, err = meter.Int64Counter(
		"meshflow_executions_total",
		metric.WithDescription("Total workflow executions by terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}

	m.executionsActive, err = meter.Int64UpDownCounter(
		"meshflow_executions_active",
		metric.WithDescription("Currently running workflow executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active executions counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"meshflow_tool_invocation_duration_seconds",
		metric.WithDescription("Tool invocation duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.toolCalls, err = meter.Int64Counter(
		"meshflow_tool_invocations_total",
		metric.WithDescription("Total tool invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.toolErrors, err = meter.Int64Counter(
		"meshflow_tool_errors_total",
		metric.WithDescription("Total failed tool invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	m.retriesTotal, err = meter.Int64Counter(
		"meshflow_retries_total",
		metric.WithDescription("Total retry attempts across executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) RecordToolInvocation(ctx context.Context, service, tool string, duration time.Duration, err error) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrToolService, service),
		attribute.String(AttrToolName, tool),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordExecution(ctx context.Context, workflow, status string, duration time.Duration) {
	if m == nil || m.executionsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrWorkflowName, workflow),
		attribute.String("status", status),
	)
	m.executionsTotal.Add(ctx, 1, attrs)
	m.executionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) ExecutionStarted(ctx context.Context) {
	if m == nil || m.executionsActive == nil {
		return
	}
	m.executionsActive.Add(ctx, 1)
}

func (m *Metrics) ExecutionFinished(ctx context.Context) {
	if m == nil || m.executionsActive == nil {
		return
	}
	m.executionsActive.Add(ctx, -1)
}

func (m *Metrics) RecordRetry(ctx context.Context, workflow string) {
	if m == nil || m.retriesTotal == nil {
		return
	}
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrWorkflowName, workflow),
	))
}
