package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics records runtime counters and histograms. The zero value is a
// no-op recorder.
type Metrics struct {
	toolDuration    metric.Float64Histogram
	toolCalls       metric.Int64Counter
	toolErrors      metric.Int64Counter
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter
	runDuration     metric.Float64Histogram
	runs            metric.Int64Counter
	runErrors       metric.Int64Counter
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// InitMetrics initializes the OTel meter with a Prometheus exporter and
// installs the global recorder. The /metrics HTTP handler is served by the
// prometheus client default registry.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		m := &Metrics{}
		SetGlobalMetrics(m)
		return m, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("conductor")

	m := &Metrics{}

	if m.toolDuration, err = meter.Float64Histogram(
		"conductor_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter(
		"conductor_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter(
		"conductor_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"conductor_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"conductor_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	); err != nil {
		return nil, err
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"conductor_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	); err != nil {
		return nil, err
	}
	if m.llmErrors, err = meter.Int64Counter(
		"conductor_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram(
		"conductor_agent_run_duration_seconds",
		metric.WithDescription("Agent run duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter(
		"conductor_agent_runs_total",
		metric.WithDescription("Total agent runs"),
	); err != nil {
		return nil, err
	}
	if m.runErrors, err = meter.Int64Counter(
		"conductor_agent_run_errors_total",
		metric.WithDescription("Total failed agent runs"),
	); err != nil {
		return nil, err
	}

	SetGlobalMetrics(m)
	return m, nil
}

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

func (m *Metrics) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrToolName, toolName))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrLLMModel, model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordAgentRun(ctx context.Context, agentName string, duration time.Duration, success bool) {
	if m == nil || m.runs == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrAgentName, agentName))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	if !success {
		m.runErrors.Add(ctx, 1, attrs)
	}
}
