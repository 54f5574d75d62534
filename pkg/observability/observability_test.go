package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetricsDiscardsSilently(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopMetrics.RecordLLMCall(context.Background(), time.Millisecond, 10, 20, nil)
		NoopMetrics.RecordToolExecution(context.Background(), "search", time.Millisecond, nil)
		NoopMetrics.RecordIteration(context.Background(), "agent-1", time.Millisecond)
		NoopMetrics.RecordSubtask(context.Background(), "done", time.Millisecond)
	})
}

func TestLogScopesComponent(t *testing.T) {
	l := Log("toolpack")
	assert.NotNil(t, l)
}

func TestGetTracerReturnsNamedTracer(t *testing.T) {
	tr := GetTracer("toolpack")
	assert.NotNil(t, tr)
}
