package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name     string
	readOnly bool
	result   Result
	err      error
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) InputSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (s *stubTool) ReadOnly() bool { return s.readOnly }
func (s *stubTool) Execute(ctx context.Context, input map[string]any) (Result, error) {
	return s.result, s.err
}

func TestTimedExecute_Success(t *testing.T) {
	st := &stubTool{name: "echo", result: Ok("hi", Metadata{})}
	res := TimedExecute(context.Background(), st, nil)

	require.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
	assert.GreaterOrEqual(t, res.Metadata.DurationMs, int64(0))
}

func TestTimedExecute_Error(t *testing.T) {
	st := &stubTool{name: "boom", err: errors.New("disk full")}
	res := TimedExecute(context.Background(), st, nil)

	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "EXECUTION_ERROR", res.Error.Code)
	assert.Contains(t, res.Error.Error(), "disk full")
}

func TestToDefinition(t *testing.T) {
	st := &stubTool{name: "search", readOnly: true}
	def := ToDefinition("web.search", st)

	assert.Equal(t, "web.search", def.Name)
	assert.Equal(t, "stub", def.Description)
	assert.Equal(t, "object", def.InputSchema["type"])
}
