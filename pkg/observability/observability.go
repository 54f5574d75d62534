// Package observability is the ambient logging/tracing/metrics stack shared
// by every other package in this module: a log/slog logger, an
// OpenTelemetry tracer, and a small Prometheus-backed Metrics interface.
package observability

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

func attrToolName(tool string) attribute.KeyValue {
	return attribute.String(AttrToolName, tool)
}

const tracerName = "agentloom"

// GetTracer returns the module-wide tracer, named after the calling
// component for span attribution.
func GetTracer(component string) trace.Tracer {
	return otel.Tracer(tracerName + "/" + component)
}

// Span names used across the engine so traces stay consistent between
// components.
const (
	SpanLLMCall       = "llm.call"
	SpanToolExecution = "tool.execute"
	SpanIteration     = "runner.iteration"
	SpanSubtask       = "orchestrator.subtask"
	SpanPlan          = "orchestrator.plan"
)

// Attribute keys used on spans and log lines across the engine.
const (
	AttrToolName  = "tool.name"
	AttrAgentName = "agent.name"
	AttrTaskID    = "task.id"
	AttrSubtaskID = "subtask.id"
	AttrIteration = "iteration"
	AttrTier      = "tier"
)

var (
	loggerMu sync.RWMutex
	logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// SetLogger replaces the package-wide logger. Intended for CLI bootstrap
// (text vs. JSON handler, level) and for tests (discard handler).
func SetLogger(l *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// Log returns the current package-wide logger, scoped to component via
// With("component", component) the way every package in this module logs.
func Log(component string) *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger.With("component", component)
}

// Metrics is the subset of engine-level measurements this module records.
// Concrete LLM/tool latency and token accounting live here; HTTP/gRPC
// transport metrics are the CLI/server front-end's concern, out of scope.
type Metrics interface {
	RecordLLMCall(ctx context.Context, duration time.Duration, promptTokens, completionTokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordIteration(ctx context.Context, agentName string, duration time.Duration)
	RecordSubtask(ctx context.Context, status string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordLLMCall(context.Context, time.Duration, int, int, error)    {}
func (noopMetrics) RecordToolExecution(context.Context, string, time.Duration, error) {}
func (noopMetrics) RecordIteration(context.Context, string, time.Duration)            {}
func (noopMetrics) RecordSubtask(context.Context, string, time.Duration)              {}

// NoopMetrics is a Metrics implementation that discards every measurement,
// used as the default when no meter provider is wired.
var NoopMetrics Metrics = noopMetrics{}

// PrometheusMetrics records engine measurements onto OpenTelemetry
// instruments, exported via the Prometheus exporter (pkg/config wires the
// exporter; this type only records onto whatever instruments it's given).
type PrometheusMetrics struct {
	llmDuration      metric.Float64Histogram
	llmPromptTokens  metric.Int64Counter
	llmCompleteTokens metric.Int64Counter
	llmErrors        metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	iterationDuration metric.Float64Histogram
	subtaskDuration   metric.Float64Histogram
	subtaskTotal      metric.Int64Counter
}

// NewPrometheusMetrics builds the instrument set from a Meter, the way the
// engine's bootstrap (pkg/config) wires a meter provider once at startup.
func NewPrometheusMetrics(meter metric.Meter) (*PrometheusMetrics, error) {
	llmDuration, err := meter.Float64Histogram("agentloom_llm_call_duration_seconds")
	if err != nil {
		return nil, err
	}
	llmPromptTokens, err := meter.Int64Counter("agentloom_llm_prompt_tokens_total")
	if err != nil {
		return nil, err
	}
	llmCompleteTokens, err := meter.Int64Counter("agentloom_llm_completion_tokens_total")
	if err != nil {
		return nil, err
	}
	llmErrors, err := meter.Int64Counter("agentloom_llm_errors_total")
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("agentloom_tool_execution_duration_seconds")
	if err != nil {
		return nil, err
	}
	toolCalls, err := meter.Int64Counter("agentloom_tool_calls_total")
	if err != nil {
		return nil, err
	}
	toolErrors, err := meter.Int64Counter("agentloom_tool_errors_total")
	if err != nil {
		return nil, err
	}
	iterationDuration, err := meter.Float64Histogram("agentloom_iteration_duration_seconds")
	if err != nil {
		return nil, err
	}
	subtaskDuration, err := meter.Float64Histogram("agentloom_subtask_duration_seconds")
	if err != nil {
		return nil, err
	}
	subtaskTotal, err := meter.Int64Counter("agentloom_subtask_total")
	if err != nil {
		return nil, err
	}

	return &PrometheusMetrics{
		llmDuration:       llmDuration,
		llmPromptTokens:   llmPromptTokens,
		llmCompleteTokens: llmCompleteTokens,
		llmErrors:         llmErrors,
		toolDuration:       toolDuration,
		toolCalls:          toolCalls,
		toolErrors:         toolErrors,
		iterationDuration: iterationDuration,
		subtaskDuration:   subtaskDuration,
		subtaskTotal:      subtaskTotal,
	}, nil
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, duration time.Duration, promptTokens, completionTokens int, err error) {
	if m == nil {
		return
	}
	m.llmDuration.Record(ctx, duration.Seconds())
	m.llmPromptTokens.Add(ctx, int64(promptTokens))
	m.llmCompleteTokens.Add(ctx, int64(completionTokens))
	if err != nil {
		m.llmErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrToolName(tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordIteration(ctx context.Context, agentName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.iterationDuration.Record(ctx, duration.Seconds())
}

func (m *PrometheusMetrics) RecordSubtask(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.subtaskDuration.Record(ctx, duration.Seconds())
	m.subtaskTotal.Add(ctx, 1)
}
