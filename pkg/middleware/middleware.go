// Package middleware is the ordered hook pipeline wrapped around the
// Execution Loop: onStart, beforeIteration, beforeLLMCall, afterLLMCall,
// beforeToolExec, afterToolExec, onStop.
package middleware

import (
	"context"
	"time"

	"github.com/kadirpekel/agentloom/pkg/llm"
	"github.com/kadirpekel/agentloom/pkg/observability"
	"github.com/kadirpekel/agentloom/pkg/runctx"
)

// ControlAction is the decision a beforeIteration/beforeLLMCall hook may
// return to override the loop's default continuation.
type ControlAction string

const (
	ActionContinue ControlAction = "continue"
	ActionStop     ControlAction = "stop"
	ActionEscalate ControlAction = "escalate"
	ActionHandoff  ControlAction = "handoff"
)

// Decision is a hook's return value: a control action plus, for
// beforeLLMCall, an optional patch appending messages (e.g. a convergence
// nudge at the soft budget limit).
type Decision struct {
	Action        ControlAction
	Reason        string
	AppendMessages []llm.Message
}

var continueDecision = Decision{Action: ActionContinue}

// FailPolicy governs what happens when a middleware hook errors or times
// out.
type FailPolicy string

const (
	FailOpen   FailPolicy = "fail-open"
	FailClosed FailPolicy = "fail-closed"
)

const defaultTimeout = 5 * time.Second

// Middleware is one named, ordered hook set. Any method may be left nil;
// a nil hook is treated as an implicit continueDecision.
type Middleware struct {
	Name       string
	Order      int
	FailPolicy FailPolicy
	Timeout    time.Duration

	OnStart        func(ctx context.Context, rc *runctx.RunContext) error
	BeforeIteration func(ctx context.Context, rc *runctx.RunContext) (Decision, error)
	BeforeLLMCall  func(ctx context.Context, rc *runctx.RunContext, messages []llm.Message) (Decision, error)
	AfterLLMCall   func(ctx context.Context, rc *runctx.RunContext, result llm.ChatResult) error
	BeforeToolExec func(ctx context.Context, rc *runctx.RunContext, toolName string, input map[string]any) error
	AfterToolExec  func(ctx context.Context, rc *runctx.RunContext, toolName string, success bool) error
	OnStop         func(ctx context.Context, rc *runctx.RunContext, reason string) error
}

func (m *Middleware) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return defaultTimeout
}

// Pipeline runs an ordered set of Middleware. Middlewares are sorted by
// Order ascending (lower runs first) once, at construction.
type Pipeline struct {
	middlewares []*Middleware
}

// NewPipeline builds a Pipeline from mws, sorted by Order.
func NewPipeline(mws ...*Middleware) *Pipeline {
	sorted := append([]*Middleware(nil), mws...)
	insertionSort(sorted)
	return &Pipeline{middlewares: sorted}
}

func insertionSort(mws []*Middleware) {
	for i := 1; i < len(mws); i++ {
		for j := i; j > 0 && mws[j].Order < mws[j-1].Order; j-- {
			mws[j], mws[j-1] = mws[j-1], mws[j]
		}
	}
}

// runHook executes hook under m's fail policy and timeout, logging and
// swallowing the error on fail-open, or returning it on fail-closed.
func runHook(ctx context.Context, m *Middleware, hookName string, hook func(context.Context) error) error {
	if hook == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &hookError{middleware: m.Name, hook: hookName, cause: nil, panicValue: r}
			}
		}()
		done <- hook(ctx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		return m.handleFailure(hookName, err)
	case <-time.After(m.timeout()):
		return m.handleFailure(hookName, &hookError{middleware: m.Name, hook: hookName, cause: context.DeadlineExceeded})
	}
}

func (m *Middleware) handleFailure(hookName string, err error) error {
	log := observability.Log("middleware").With("middleware", m.Name, "hook", hookName)
	if m.FailPolicy == FailClosed {
		log.Error("middleware hook failed under fail-closed policy", "error", err)
		return err
	}
	log.Warn("middleware hook failed under fail-open policy, continuing", "error", err)
	return nil
}

type hookError struct {
	middleware string
	hook       string
	cause      error
	panicValue any
}

func (e *hookError) Error() string {
	if e.panicValue != nil {
		return e.middleware + "." + e.hook + " panicked: " + toString(e.panicValue)
	}
	return e.middleware + "." + e.hook + " failed: " + e.cause.Error()
}

func (e *hookError) Unwrap() error { return e.cause }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-string panic value"
}

// OnStart runs every middleware's OnStart hook in pipeline order.
func (p *Pipeline) OnStart(ctx context.Context, rc *runctx.RunContext) error {
	for _, m := range p.middlewares {
		if err := runHook(ctx, m, "onStart", func(ctx context.Context) error {
			if m.OnStart == nil {
				return nil
			}
			return m.OnStart(ctx, rc)
		}); err != nil {
			return err
		}
	}
	return nil
}

// BeforeIteration runs every middleware's BeforeIteration hook in pipeline
// order, honoring the first non-continue decision.
func (p *Pipeline) BeforeIteration(ctx context.Context, rc *runctx.RunContext) (Decision, error) {
	for _, m := range p.middlewares {
		if m.BeforeIteration == nil {
			continue
		}
		var decision Decision
		err := runHook(ctx, m, "beforeIteration", func(ctx context.Context) error {
			var hookErr error
			decision, hookErr = m.BeforeIteration(ctx, rc)
			return hookErr
		})
		if err != nil {
			return Decision{Action: ActionStop, Reason: err.Error()}, err
		}
		if decision.Action != "" && decision.Action != ActionContinue {
			return decision, nil
		}
	}
	return continueDecision, nil
}

// BeforeLLMCall runs every middleware's BeforeLLMCall hook in pipeline
// order, accumulating message patches until a non-continue decision is
// reached.
func (p *Pipeline) BeforeLLMCall(ctx context.Context, rc *runctx.RunContext, messages []llm.Message) (Decision, []llm.Message, error) {
	patched := messages
	for _, m := range p.middlewares {
		if m.BeforeLLMCall == nil {
			continue
		}
		var decision Decision
		err := runHook(ctx, m, "beforeLLMCall", func(ctx context.Context) error {
			var hookErr error
			decision, hookErr = m.BeforeLLMCall(ctx, rc, patched)
			return hookErr
		})
		if err != nil {
			return Decision{Action: ActionStop, Reason: err.Error()}, patched, err
		}
		if len(decision.AppendMessages) > 0 {
			patched = append(append([]llm.Message(nil), patched...), decision.AppendMessages...)
		}
		if decision.Action != "" && decision.Action != ActionContinue {
			return decision, patched, nil
		}
	}
	return continueDecision, patched, nil
}

// AfterLLMCall runs every middleware's AfterLLMCall hook in pipeline order.
func (p *Pipeline) AfterLLMCall(ctx context.Context, rc *runctx.RunContext, result llm.ChatResult) error {
	for _, m := range p.middlewares {
		if err := runHook(ctx, m, "afterLLMCall", func(ctx context.Context) error {
			if m.AfterLLMCall == nil {
				return nil
			}
			return m.AfterLLMCall(ctx, rc, result)
		}); err != nil {
			return err
		}
	}
	return nil
}

// BeforeToolExec runs every middleware's BeforeToolExec hook in order.
func (p *Pipeline) BeforeToolExec(ctx context.Context, rc *runctx.RunContext, toolName string, input map[string]any) error {
	for _, m := range p.middlewares {
		if err := runHook(ctx, m, "beforeToolExec", func(ctx context.Context) error {
			if m.BeforeToolExec == nil {
				return nil
			}
			return m.BeforeToolExec(ctx, rc, toolName, input)
		}); err != nil {
			return err
		}
	}
	return nil
}

// AfterToolExec runs every middleware's AfterToolExec hook in order.
func (p *Pipeline) AfterToolExec(ctx context.Context, rc *runctx.RunContext, toolName string, success bool) error {
	for _, m := range p.middlewares {
		if err := runHook(ctx, m, "afterToolExec", func(ctx context.Context) error {
			if m.AfterToolExec == nil {
				return nil
			}
			return m.AfterToolExec(ctx, rc, toolName, success)
		}); err != nil {
			return err
		}
	}
	return nil
}

// OnStop runs every middleware's OnStop hook in order. Failures are
// always logged, never escalated further — the loop is already stopping.
func (p *Pipeline) OnStop(ctx context.Context, rc *runctx.RunContext, reason string) {
	for _, m := range p.middlewares {
		_ = runHook(ctx, m, "onStop", func(ctx context.Context) error {
			if m.OnStop == nil {
				return nil
			}
			return m.OnStop(ctx, rc, reason)
		})
	}
}
