package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCapability struct{}

func (stubCapability) Complete(ctx context.Context, prompt string, opts CompleteOptions) (CompleteResult, error) {
	return CompleteResult{}, nil
}

func (stubCapability) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts ChatOptions) (ChatResult, error) {
	return ChatResult{}, nil
}

func TestRegisterAndOpen(t *testing.T) {
	Register("test-stub", func(cfg map[string]string) (Capability, error) {
		return stubCapability{}, nil
	})

	cap, err := Open("test-stub", nil)
	require.NoError(t, err)
	assert.NotNil(t, cap)
	assert.Contains(t, Providers(), "test-stub")
}

func TestOpen_UnregisteredProviderReturnsError(t *testing.T) {
	_, err := Open("does-not-exist", nil)
	require.Error(t, err)
}

func TestRegister_PanicsOnDuplicateName(t *testing.T) {
	Register("dup-stub", func(cfg map[string]string) (Capability, error) { return stubCapability{}, nil })
	assert.Panics(t, func() {
		Register("dup-stub", func(cfg map[string]string) (Capability, error) { return stubCapability{}, nil })
	})
}
