// Package observability records gateway, node and run metrics through OpenTelemetry
// and exposes them with the Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "nutrition-agents"

// MetricsConfig metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Metrics instruments of the orchestration core. A nil *Metrics records nothing.
type Metrics struct {
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter
	cacheLookups    metric.Int64Counter
	breakerOpens    metric.Int64Counter
	nodeDuration    metric.Float64Histogram
	runs            metric.Int64Counter
	retrievals      metric.Int64Counter

	provider *sdkmetric.MeterProvider
}

// InitMetrics builds the instruments on a Prometheus backed meter provider.
// It returns a nil *Metrics when disabled.
func InitMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	ret, err := NewMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	ret.provider = mp
	return ret, nil
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   = new(Metrics)
		err error
	)
	if m.llmDuration, err = meter.Float64Histogram("nutri_llm_request_duration_seconds",
		metric.WithDescription("Model provider call duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter("nutri_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to providers")); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter("nutri_llm_tokens_output_total",
		metric.WithDescription("Total output tokens returned by providers")); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter("nutri_llm_errors_total",
		metric.WithDescription("Total failed provider calls")); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("nutri_cache_lookups_total",
		metric.WithDescription("Gateway response cache lookups by result")); err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}
	if m.breakerOpens, err = meter.Int64Counter("nutri_circuit_opens_total",
		metric.WithDescription("Circuit breaker open transitions")); err != nil {
		return nil, fmt.Errorf("failed to create breaker counter: %w", err)
	}
	if m.nodeDuration, err = meter.Float64Histogram("nutri_node_duration_seconds",
		metric.WithDescription("Pipeline node duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create node duration histogram: %w", err)
	}
	if m.runs, err = meter.Int64Counter("nutri_runs_total",
		metric.WithDescription("Pipeline runs by kind and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if m.retrievals, err = meter.Int64Counter("nutri_retrievals_total",
		metric.WithDescription("Knowledge searches by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create retrievals counter: %w", err)
	}
	return m, nil
}

// Handler serves the Prometheus scrape endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordLLMCall records one provider attempt
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, model, role string, duration time.Duration, inputTokens, outputTokens int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("role", role),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, inputTokens, attrs)
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, outputTokens, attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a response cache hit or miss
func (m *Metrics) RecordCacheLookup(ctx context.Context, role string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("result", result),
	))
}

// RecordBreakerOpen records a circuit opening
func (m *Metrics) RecordBreakerOpen(ctx context.Context, provider, model string) {
	if m == nil {
		return
	}
	m.breakerOpens.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	))
}

// RecordNode records one node execution
func (m *Metrics) RecordNode(ctx context.Context, pipeline, node, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("node", node),
		attribute.String("status", status),
	))
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(ctx context.Context, pipeline, status string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", status),
	))
}

// RecordRetrieval records a knowledge search outcome: hit, empty or degraded
func (m *Metrics) RecordRetrieval(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.retrievals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
