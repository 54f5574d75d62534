package ctxstrategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentloom/pkg/llm"
)

func TestRetrieval_SelectReturnsRecentAndRelevant(t *testing.T) {
	r, err := NewRetrieval(2, 2)
	require.NoError(t, err)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "tell me about databases"},
		{Role: llm.RoleAssistant, Content: "databases store structured data"},
		{Role: llm.RoleUser, Content: "what's the weather"},
		{Role: llm.RoleAssistant, Content: "sunny today"},
	}
	r.index(history)

	got := r.Select(history, "databases", 5)
	assert.NotEmpty(t, got)
}

func TestRetrieval_SelectPassesThroughWhenUnderLimit(t *testing.T) {
	r, err := NewRetrieval(10, 2)
	require.NoError(t, err)

	history := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	got := r.Select(history, "task", 1)
	assert.Equal(t, history, got)
}

func TestHashEmbedding_IsDeterministic(t *testing.T) {
	a, err := hashEmbedding(nil, "hello world")
	require.NoError(t, err)
	b, err := hashEmbedding(nil, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
