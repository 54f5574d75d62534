package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentloom/pkg/budget"
	"github.com/kadirpekel/agentloom/pkg/guard"
	"github.com/kadirpekel/agentloom/pkg/llm"
	"github.com/kadirpekel/agentloom/pkg/middleware"
	"github.com/kadirpekel/agentloom/pkg/runctx"
	"github.com/kadirpekel/agentloom/pkg/stopcond"
	"github.com/kadirpekel/agentloom/pkg/tool"
	"github.com/kadirpekel/agentloom/pkg/toolpack"
)

// fakeLLM replays a scripted sequence of (ChatResult, error) pairs, one per
// call to ChatWithTools; the last entry repeats once the script runs out.
type fakeLLM struct {
	mu        sync.Mutex
	calls     int
	results   []llm.ChatResult
	errs      []error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, opts llm.CompleteOptions) (llm.CompleteResult, error) {
	return llm.CompleteResult{}, nil
}

func (f *fakeLLM) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, opts llm.ChatOptions) (llm.ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++

	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.results[idx], err
}

// fakeTool is a configurable tool.Tool test double.
type fakeTool struct {
	name     string
	readOnly bool
	fn       func(ctx context.Context, input map[string]any) (tool.Result, error)
}

func (t *fakeTool) Name() string                    { return t.name }
func (t *fakeTool) Description() string             { return "fake tool " + t.name }
func (t *fakeTool) InputSchema() map[string]any      { return map[string]any{"type": "object"} }
func (t *fakeTool) ReadOnly() bool                   { return t.readOnly }
func (t *fakeTool) Execute(ctx context.Context, input map[string]any) (tool.Result, error) {
	return t.fn(ctx, input)
}

func newTestRunner(t *testing.T, llmCap llm.Capability, tools *toolpack.Manager, cfgFn func(*Config)) (*Runner, *runctx.RunContext) {
	t.Helper()

	if tools == nil {
		tools = toolpack.NewManager(nil)
	}

	cfg := Config{
		LLM:         llmCap,
		Tools:       tools,
		Guards:      &guard.Chain{},
		Middlewares: middleware.NewPipeline(),
		Budget:      budget.New(nil, 12),
	}
	if cfgFn != nil {
		cfgFn(&cfg)
	}

	r := New(cfg)
	rc := runctx.New(context.Background(), "req-1", "do the task", 12)
	return r, rc
}

func TestRun_CompletesOnNoToolCalls(t *testing.T) {
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "here is the final answer"}}},
		},
	}
	r, rc := newTestRunner(t, llmCap, nil, nil)

	outcome := r.Run(context.Background(), rc)

	require.Equal(t, OutcomeComplete, outcome.Kind)
	assert.Equal(t, stopcond.ReasonNoToolCalls, outcome.StoppedReason)
	assert.Equal(t, "here is the final answer", outcome.Result)
}

func TestRun_CompletesViaSubmitResult(t *testing.T) {
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{
				Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "submitting"}},
				ToolCalls: []llm.ToolCall{
					{ID: "call-1", Name: submitResultToolName, Input: map[string]any{"result": "42"}},
				},
			},
		},
	}
	r, rc := newTestRunner(t, llmCap, nil, func(c *Config) {
		c.OutputSchema = map[string]any{"type": "object"}
	})

	outcome := r.Run(context.Background(), rc)

	require.Equal(t, OutcomeComplete, outcome.Kind)
	assert.Equal(t, stopcond.ReasonReportComplete, outcome.StoppedReason)
	assert.Equal(t, "42", outcome.Result)
}

func TestRun_EscalatesOnMaxIterationsWhenEnabled(t *testing.T) {
	callTool := llm.ToolCall{ID: "c1", Name: "ping", Input: map[string]any{}}
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "working"}}, ToolCalls: []llm.ToolCall{callTool}},
		},
	}

	mgr := toolpack.NewManager(nil)
	require.NoError(t, mgr.RegisterPack(&toolpack.Pack{
		ID: "pack", Namespace: "t", Priority: 0, ConflictPolicy: toolpack.ConflictError,
		Tools: []tool.Tool{&fakeTool{name: "ping", fn: func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Ok("pong", tool.Metadata{}), nil
		}}},
	}))

	r, rc := newTestRunner(t, llmCap, mgr, func(c *Config) {
		c.Budget = budget.New(nil, 0)
		c.EscalationEnabled = true
		c.MaxTier = 2
	})

	outcome := r.Run(context.Background(), rc)

	require.Equal(t, OutcomeEscalate, outcome.Kind)
	assert.Equal(t, stopcond.ReasonMaxIterations, outcome.StoppedReason)
}

func TestRun_FailsOnMaxIterationsWhenEscalationDisabled(t *testing.T) {
	callTool := llm.ToolCall{ID: "c1", Name: "ping", Input: map[string]any{}}
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "working"}}, ToolCalls: []llm.ToolCall{callTool}},
		},
	}

	mgr := toolpack.NewManager(nil)
	require.NoError(t, mgr.RegisterPack(&toolpack.Pack{
		ID: "pack", Namespace: "t", Priority: 0, ConflictPolicy: toolpack.ConflictError,
		Tools: []tool.Tool{&fakeTool{name: "ping", fn: func(ctx context.Context, input map[string]any) (tool.Result, error) {
			return tool.Ok("pong", tool.Metadata{}), nil
		}}},
	}))

	r, rc := newTestRunner(t, llmCap, mgr, func(c *Config) {
		c.Budget = budget.New(nil, 0)
		c.EscalationEnabled = false
	})

	outcome := r.Run(context.Background(), rc)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, stopcond.ReasonMaxIterations, outcome.StoppedReason)
}

func TestRun_FailsOnHardBudgetExceeded(t *testing.T) {
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{
				Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "burning tokens"}},
				Usage:    llm.Usage{PromptTokens: 500, CompletionTokens: 600},
			},
		},
	}

	b := budget.New(nil, 12)
	b.HardTokenLimit = 1000

	r, rc := newTestRunner(t, llmCap, nil, func(c *Config) {
		c.Budget = b
	})

	outcome := r.Run(context.Background(), rc)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, stopcond.ReasonHardBudget, outcome.StoppedReason)
	require.NotNil(t, outcome.Failure)
}

func TestRun_AbortedContextEventuallyFails(t *testing.T) {
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "still going"}}},
		},
	}
	r, rc := newTestRunner(t, llmCap, nil, nil)
	rc.Cancel()

	outcome := r.Run(context.Background(), rc)

	// NoToolCallsMade also fires (priority 5) but AbortSignal (priority 0)
	// must win once rc.Aborted is observed.
	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, stopcond.ReasonAbortSignal, outcome.StoppedReason)
}

func TestCallLLMWithRetry_RetriesRetriableErrorThenSucceeds(t *testing.T) {
	llmCap := &fakeLLM{
		results: []llm.ChatResult{
			{},
			{Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "ok now"}}},
		},
		errs: []error{&llm.Error{Kind: llm.ErrorTimeout, Retriable: true, Message: "timeout"}, nil},
	}
	r, _ := newTestRunner(t, llmCap, nil, func(c *Config) {
		c.LLMRetryAttempts = 3
	})

	result, err := r.callLLMWithRetry(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok now", result.Messages[0].Content)
	assert.Equal(t, 2, llmCap.calls)
}

func TestCallLLMWithRetry_NonRetriableStopsImmediately(t *testing.T) {
	llmCap := &fakeLLM{
		results: []llm.ChatResult{{}},
		errs:    []error{&llm.Error{Kind: llm.ErrorInvalid, Retriable: false, Message: "bad request"}},
	}
	r, _ := newTestRunner(t, llmCap, nil, func(c *Config) {
		c.LLMRetryAttempts = 5
	})

	_, err := r.callLLMWithRetry(context.Background(), nil, nil)

	require.Error(t, err)
	assert.Equal(t, 1, llmCap.calls, "a non-retriable error must not be retried")
}

func TestExecuteOne_RetriesOnceThenFallsBackToEmptyOutput(t *testing.T) {
	mgr := toolpack.NewManager(nil)
	var attempts int32
	require.NoError(t, mgr.RegisterPack(&toolpack.Pack{
		ID: "pack", Namespace: "t", ConflictPolicy: toolpack.ConflictError,
		Tools: []tool.Tool{&fakeTool{name: "flaky", fn: func(ctx context.Context, input map[string]any) (tool.Result, error) {
			atomic.AddInt32(&attempts, 1)
			return tool.Err("BOOM", "always fails", tool.Metadata{}), nil
		}}},
	}))

	r, rc := newTestRunner(t, &fakeLLM{results: []llm.ChatResult{{}}}, mgr, nil)

	result := r.executeOne(context.Background(), rc, llm.ToolCall{ID: "c1", Name: "flaky", Input: map[string]any{}})

	assert.True(t, result.Success, "after exhausting the retry, the loop keeps running with empty output rather than failing")
	assert.Equal(t, "", result.Output)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts), "guard chain should run exactly once, then retry once")
}

func TestExecuteOne_SubmitResultShortCircuits(t *testing.T) {
	r, rc := newTestRunner(t, &fakeLLM{results: []llm.ChatResult{{}}}, nil, nil)

	result := r.executeOne(context.Background(), rc, llm.ToolCall{ID: "c1", Name: submitResultToolName, Input: map[string]any{"result": "done"}})

	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"result": "done"}, result.Output)
}

func TestExecuteToolCalls_ReadOnlyFanOutPreservesOrder(t *testing.T) {
	mgr := toolpack.NewManager(nil)
	require.NoError(t, mgr.RegisterPack(&toolpack.Pack{
		ID: "pack", Namespace: "t", ConflictPolicy: toolpack.ConflictError,
		Tools: []tool.Tool{
			&fakeTool{name: "a", readOnly: true, fn: func(ctx context.Context, input map[string]any) (tool.Result, error) {
				time.Sleep(5 * time.Millisecond)
				return tool.Ok("A", tool.Metadata{}), nil
			}},
			&fakeTool{name: "b", readOnly: true, fn: func(ctx context.Context, input map[string]any) (tool.Result, error) {
				return tool.Ok("B", tool.Metadata{}), nil
			}},
		},
	}))

	r, rc := newTestRunner(t, &fakeLLM{results: []llm.ChatResult{{}}}, mgr, nil)

	calls := []llm.ToolCall{
		{ID: "1", Name: "a", Input: map[string]any{}, ReadOnly: true},
		{ID: "2", Name: "b", Input: map[string]any{}, ReadOnly: true},
	}
	messages, sawSubmit, _, _ := r.executeToolCalls(context.Background(), rc, calls)

	require.False(t, sawSubmit)
	require.Len(t, messages, 2)
	assert.Equal(t, "1", messages[0].ToolCallID)
	assert.Equal(t, "A", messages[0].Content)
	assert.Equal(t, "2", messages[1].ToolCallID)
	assert.Equal(t, "B", messages[1].Content)
}

func TestExecuteToolCalls_EmptyReturnsNil(t *testing.T) {
	r, rc := newTestRunner(t, &fakeLLM{results: []llm.ChatResult{{}}}, nil, nil)

	messages, sawSubmit, args, validationFailed := r.executeToolCalls(context.Background(), rc, nil)

	assert.Nil(t, messages)
	assert.False(t, sawSubmit)
	assert.Nil(t, args)
	assert.False(t, validationFailed)
}

func TestToolDefinitions_IncludesSubmitResultWhenSchemaSet(t *testing.T) {
	r, _ := newTestRunner(t, &fakeLLM{results: []llm.ChatResult{{}}}, nil, func(c *Config) {
		c.OutputSchema = map[string]any{"type": "object"}
	})

	defs := r.toolDefinitions()

	var found bool
	for _, d := range defs {
		if d.Name == submitResultToolName {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOnStartMiddlewareFailureFailsTheRun(t *testing.T) {
	mw := &middleware.Middleware{
		Name: "blocker", FailPolicy: middleware.FailClosed,
		OnStart: func(ctx context.Context, rc *runctx.RunContext) error {
			return errors.New("refuses to start")
		},
	}

	r, rc := newTestRunner(t, &fakeLLM{results: []llm.ChatResult{{}}}, nil, func(c *Config) {
		c.Middlewares = middleware.NewPipeline(mw)
	})

	outcome := r.Run(context.Background(), rc)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.NotNil(t, outcome.Failure)
}
