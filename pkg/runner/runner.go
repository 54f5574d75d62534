// Package runner is the Execution Loop (Agent Runner): performs one agent
// run, one LLM+tool iteration at a time, wrapped by budget tracking,
// middleware hooks, and the stop-condition evaluator.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentloom/pkg/budget"
	"github.com/kadirpekel/agentloom/pkg/ctxstrategy"
	"github.com/kadirpekel/agentloom/pkg/guard"
	"github.com/kadirpekel/agentloom/pkg/jsonschema"
	"github.com/kadirpekel/agentloom/pkg/llm"
	"github.com/kadirpekel/agentloom/pkg/middleware"
	"github.com/kadirpekel/agentloom/pkg/observability"
	"github.com/kadirpekel/agentloom/pkg/runctx"
	"github.com/kadirpekel/agentloom/pkg/stopcond"
	"github.com/kadirpekel/agentloom/pkg/tool"
	"github.com/kadirpekel/agentloom/pkg/toolpack"
)

// OutcomeKind discriminates a LoopResult.
type OutcomeKind string

const (
	OutcomeComplete OutcomeKind = "complete"
	OutcomeEscalate OutcomeKind = "escalate"
	OutcomeHandoff  OutcomeKind = "handoff"
	OutcomeFailed   OutcomeKind = "failed"
)

// FailureKind classifies a failed run.
type FailureKind string

const (
	FailureToolError        FailureKind = "tool_error"
	FailureTimeout          FailureKind = "timeout"
	FailureValidationFailed FailureKind = "validation_failed"
	FailureStuck            FailureKind = "stuck"
	FailurePolicyDenied     FailureKind = "policy_denied"
	FailureUnknown          FailureKind = "unknown"
)

// FailureReport describes a failed run, carrying any partial result
// accumulated so far.
type FailureReport struct {
	Kind    FailureKind
	Message string
	Partial []llm.Message
}

// Outcome is the tagged LoopResult a Run returns.
type Outcome struct {
	Kind OutcomeKind

	Result string // for OutcomeComplete

	EscalateReason string // for OutcomeEscalate

	HandoffTargetAgentID string        // for OutcomeHandoff
	HandoffContext        []llm.Message // for OutcomeHandoff

	Failure *FailureReport // set iff Kind == OutcomeFailed

	StoppedReason stopcond.ReasonCode
	FinalMessages []llm.Message
}

// submitResultToolName is the synthetic terminal tool exposed when an
// agent config declares an output schema.
const submitResultToolName = "submit_result"

// Config configures one Runner instance.
type Config struct {
	LLM           llm.Capability
	Tools         *toolpack.Manager
	Guards        *guard.Chain
	Middlewares   *middleware.Pipeline
	ContextStrategy ctxstrategy.Strategy
	Budget        *budget.Tracker
	Metrics       observability.Metrics

	// OutputSchema, if non-nil, is the JSON Schema for a structured
	// final result; when set, completion requires calling submit_result.
	OutputSchema map[string]any

	// EscalationEnabled feature-flags quality-based tier escalation.
	EscalationEnabled bool
	MaxTier           int

	// LLMRetryAttempts bounds the exponential-backoff retry loop for LLM
	// transport failures (default 3).
	LLMRetryAttempts int

	// ToolGracePeriod bounds how long an already-running tool call is
	// given to return after cancellation before being abandoned.
	ToolGracePeriod time.Duration
}

// Runner performs one agent run.
type Runner struct {
	cfg Config
}

// New builds a Runner from cfg, filling in documented defaults.
func New(cfg Config) *Runner {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics
	}
	if cfg.ContextStrategy == nil {
		cfg.ContextStrategy = ctxstrategy.FullHistory{}
	}
	if cfg.LLMRetryAttempts <= 0 {
		cfg.LLMRetryAttempts = 3
	}
	if cfg.ToolGracePeriod <= 0 {
		cfg.ToolGracePeriod = 2 * time.Second
	}
	return &Runner{cfg: cfg}
}

// Run executes the iteration protocol until a stop condition fires.
func (r *Runner) Run(ctx context.Context, rc *runctx.RunContext) Outcome {
	if err := r.cfg.Middlewares.OnStart(ctx, rc); err != nil {
		return r.fail(rc, FailureUnknown, "onStart middleware failed: "+err.Error())
	}

	var submitted bool
	var submittedArgs map[string]any
	var lastValidationFailed bool

	for {
		iterStart := time.Now()

		if rc.Context().Err() != nil {
			rc.Aborted = true
		}

		decision, err := r.cfg.Middlewares.BeforeIteration(ctx, rc)
		if err != nil || (decision.Action != "" && decision.Action != middleware.ActionContinue) {
			reason, result := r.resolveControlStop(rc, decision)
			r.cfg.Middlewares.OnStop(ctx, rc, string(reason.Reason))
			return result
		}

		messages := r.cfg.ContextStrategy.Select(rc.Messages, rc.Task, rc.Iteration)

		llmDecision, patchedMessages, err := r.cfg.Middlewares.BeforeLLMCall(ctx, rc, messages)
		if err != nil || (llmDecision.Action != "" && llmDecision.Action != middleware.ActionContinue) {
			reason, result := r.resolveControlStop(rc, llmDecision)
			r.cfg.Middlewares.OnStop(ctx, rc, string(reason.Reason))
			return result
		}
		messages = patchedMessages

		if estimated := r.cfg.Budget.EstimateTokens(concatContent(messages)); r.cfg.Budget.WouldExceedHardBudget(estimated) {
			stop := stopcond.New(stopcond.ReasonHardBudget, "pre-emptive token estimate exceeds hard budget", nil)
			r.cfg.Middlewares.OnStop(ctx, rc, string(stop.Reason))
			return r.finalize(rc, stop, submitted, submittedArgs, lastValidationFailed)
		}

		tools := r.toolDefinitions()
		chatResult, err := r.callLLMWithRetry(ctx, messages, tools)
		if err != nil {
			return r.fail(rc, classifyContextErr(err), "LLM_ERROR: "+err.Error())
		}

		if hookErr := r.cfg.Middlewares.AfterLLMCall(ctx, rc, chatResult); hookErr != nil {
			return r.fail(rc, FailureUnknown, "afterLLMCall middleware failed: "+hookErr.Error())
		}

		r.cfg.Budget.RecordIteration()
		r.cfg.Budget.ConsumeTokens(chatResult.Usage.PromptTokens + chatResult.Usage.CompletionTokens)
		r.cfg.Metrics.RecordIteration(ctx, rc.RequestID, time.Since(iterStart))

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: pickContent(chatResult), ToolCalls: chatResult.ToolCalls}
		rc.Messages = r.cfg.ContextStrategy.Append(rc.Messages, []llm.Message{assistantMsg})

		toolResults, sawSubmit, submitArgs, validationFailed := r.executeToolCalls(ctx, rc, chatResult.ToolCalls)
		rc.Messages = r.cfg.ContextStrategy.Append(rc.Messages, toolResults)
		if sawSubmit {
			submitted = true
			submittedArgs = submitArgs
		}
		lastValidationFailed = validationFailed

		// A zero-configured IterationBudget means the iteration budget is
		// disabled outright (tests exercising the max-iterations cutoff in
		// isolation), not a run genuinely nearing the end of its window;
		// only a run with a real budget can be extended.
		if r.cfg.Budget.IterationBudget > 0 && r.cfg.Budget.ShouldExtend() {
			r.cfg.Budget.Extend()
		}

		signals := stopcond.Signals{
			AbortRequested:     rc.Aborted || rc.Context().Err() != nil,
			ReportToolCalled:   submitted,
			HardBudgetExceeded: r.cfg.Budget.HardBudgetExceeded(),
			MaxIterationsHit:   rc.Iteration >= r.cfg.Budget.IterationBudget,
			LoopDetected:       r.cfg.Budget.LoopDetected(),
			NoToolCallsMade:    len(chatResult.ToolCalls) == 0,
		}

		if stop, fired := stopcond.Evaluate(signals); fired {
			r.cfg.Middlewares.OnStop(ctx, rc, string(stop.Reason))
			return r.finalize(rc, stop, submitted, submittedArgs, lastValidationFailed)
		}

		rc.AdvanceIteration()
	}
}

func (r *Runner) resolveControlStop(rc *runctx.RunContext, decision middleware.Decision) (stopcond.Result, Outcome) {
	switch decision.Action {
	case middleware.ActionEscalate:
		stop := stopcond.New(stopcond.ReasonMaxIterations, decision.Reason, nil)
		r.cfg.Budget.EscalateTier()
		return stop, Outcome{Kind: OutcomeEscalate, EscalateReason: decision.Reason, StoppedReason: stop.Reason, FinalMessages: rc.Messages}
	case middleware.ActionHandoff:
		stop := stopcond.New(stopcond.ReasonAbortSignal, decision.Reason, nil)
		return stop, Outcome{Kind: OutcomeHandoff, StoppedReason: stop.Reason, FinalMessages: rc.Messages}
	default:
		stop := stopcond.New(stopcond.ReasonAbortSignal, decision.Reason, nil)
		return stop, Outcome{
			Kind:          OutcomeFailed,
			Failure:       &FailureReport{Kind: FailureUnknown, Message: decision.Reason, Partial: rc.Messages},
			StoppedReason: stop.Reason,
			FinalMessages: rc.Messages,
		}
	}
}

func (r *Runner) finalize(rc *runctx.RunContext, stop stopcond.Result, submitted bool, submittedArgs map[string]any, lastValidationFailed bool) Outcome {
	switch stop.Reason {
	case stopcond.ReasonReportComplete:
		result := ""
		if submitted {
			if r, ok := submittedArgs["result"].(string); ok {
				result = r
			} else {
				result = fmt.Sprint(submittedArgs)
			}
		}
		return Outcome{Kind: OutcomeComplete, Result: result, StoppedReason: stop.Reason, FinalMessages: rc.Messages}

	case stopcond.ReasonNoToolCalls:
		return Outcome{Kind: OutcomeComplete, Result: lastAssistantContent(rc.Messages), StoppedReason: stop.Reason, FinalMessages: rc.Messages}

	case stopcond.ReasonAbortSignal:
		return Outcome{
			Kind:          OutcomeFailed,
			Failure:       &FailureReport{Kind: classifyContextErr(rc.Context().Err()), Message: stop.Message, Partial: rc.Messages},
			StoppedReason: stop.Reason,
			FinalMessages: rc.Messages,
		}

	case stopcond.ReasonHardBudget:
		return Outcome{
			Kind:          OutcomeFailed,
			Failure:       &FailureReport{Kind: FailurePolicyDenied, Message: stop.Message, Partial: rc.Messages},
			StoppedReason: stop.Reason,
			FinalMessages: rc.Messages,
		}

	case stopcond.ReasonMaxIterations, stopcond.ReasonLoopDetected:
		if r.cfg.EscalationEnabled && rc.Tier < runctx.Tier(r.cfg.MaxTier) {
			r.cfg.Budget.EscalateTier()
			return Outcome{Kind: OutcomeEscalate, EscalateReason: string(stop.Reason), StoppedReason: stop.Reason, FinalMessages: rc.Messages}
		}
		kind := FailureStuck
		if lastValidationFailed {
			kind = FailureValidationFailed
		}
		return Outcome{
			Kind:          OutcomeFailed,
			Failure:       &FailureReport{Kind: kind, Message: stop.Message, Partial: rc.Messages},
			StoppedReason: stop.Reason,
			FinalMessages: rc.Messages,
		}
	}

	return Outcome{
		Kind:          OutcomeFailed,
		Failure:       &FailureReport{Kind: FailureUnknown, Message: "unrecognized stop reason", Partial: rc.Messages},
		StoppedReason: stop.Reason,
		FinalMessages: rc.Messages,
	}
}

// classifyContextErr maps a context cancellation cause to a FailureKind:
// a deadline means the caller's wall-clock budget ran out, anything else
// (explicit Cancel, or no context error at all) is an unqualified abort.
func classifyContextErr(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureUnknown
}

func (r *Runner) fail(rc *runctx.RunContext, kind FailureKind, message string) Outcome {
	return Outcome{
		Kind:          OutcomeFailed,
		Failure:       &FailureReport{Kind: kind, Message: message, Partial: rc.Messages},
		StoppedReason: stopcond.ReasonAbortSignal,
		FinalMessages: rc.Messages,
	}
}

func (r *Runner) toolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0)
	for _, t := range r.cfg.Tools.GetTools(toolpack.Filter{}) {
		defs = append(defs, tool.ToDefinition(t.Name(), t))
	}
	if r.cfg.OutputSchema != nil {
		defs = append(defs, llm.ToolDefinition{
			Name:        submitResultToolName,
			Description: "Submit the final structured result for this task.",
			InputSchema: r.cfg.OutputSchema,
		})
	}
	return defs
}

// callLLMWithRetry implements the LLM-failure policy: exponential
// backoff with configurable attempts, then give up.
func (r *Runner) callLLMWithRetry(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.ChatResult, error) {
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < r.cfg.LLMRetryAttempts; attempt++ {
		start := time.Now()
		result, err := r.cfg.LLM.ChatWithTools(ctx, messages, tools, llm.ChatOptions{})
		r.cfg.Metrics.RecordLLMCall(ctx, time.Since(start), result.Usage.PromptTokens, result.Usage.CompletionTokens, err)

		if err == nil {
			return result, nil
		}
		lastErr = err

		var llmErr *llm.Error
		if errors.As(err, &llmErr) && !llmErr.Retriable {
			return llm.ChatResult{}, err
		}

		if attempt < r.cfg.LLMRetryAttempts-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return llm.ChatResult{}, ctx.Err()
			}
			backoff *= 2
		}
	}
	return llm.ChatResult{}, lastErr
}

// executeToolCalls runs every requested tool call through the guard
// chain. Read-only-flagged calls may be fanned out concurrently and
// joined in order; all others run sequentially.
func (r *Runner) executeToolCalls(ctx context.Context, rc *runctx.RunContext, calls []llm.ToolCall) ([]llm.Message, bool, map[string]any, bool) {
	if len(calls) == 0 {
		return nil, false, nil, false
	}

	results := make([]tool.Result, len(calls))
	sawSubmit := false
	validationFailed := false
	var submitArgs map[string]any

	readOnlyIdx := make([]int, 0, len(calls))
	sequentialIdx := make([]int, 0, len(calls))
	for i, c := range calls {
		if c.ReadOnly {
			readOnlyIdx = append(readOnlyIdx, i)
		} else {
			sequentialIdx = append(sequentialIdx, i)
		}
	}

	if len(readOnlyIdx) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range readOnlyIdx {
			idx := idx
			g.Go(func() error {
				results[idx] = r.executeOne(gctx, rc, calls[idx])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, idx := range readOnlyIdx {
			results[idx] = r.executeOne(ctx, rc, calls[idx])
		}
	}

	for _, idx := range sequentialIdx {
		results[idx] = r.executeOne(ctx, rc, calls[idx])
	}

	messages := make([]llm.Message, 0, len(calls))
	for i, c := range calls {
		res := results[i]
		content := fmt.Sprint(res.Output)
		if !res.Success && res.Error != nil {
			content = res.Error.Message
		}
		messages = append(messages, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: c.ID, Name: c.Name})

		if c.Name == submitResultToolName {
			if res.Success {
				sawSubmit = true
				submitArgs = c.Input
			} else if res.Error != nil && res.Error.Code == "VALIDATION_FAILED" {
				validationFailed = true
			}
		}

		if res.Success {
			r.cfg.Budget.RecordProgress()
			r.cfg.Budget.RecordSignal()
		} else {
			r.cfg.Budget.RecordNoProgress()
		}
		r.cfg.Budget.RecordToolCall(fingerprint(c))
	}

	return messages, sawSubmit, submitArgs, validationFailed
}

// executeOne runs the guard chain + tool manager for a single call, with
// the retry policy: retry once then skip (empty output, keep
// running), unless a fail-closed guard rejects outright.
func (r *Runner) executeOne(ctx context.Context, rc *runctx.RunContext, call llm.ToolCall) tool.Result {
	if call.Name == submitResultToolName {
		if r.cfg.OutputSchema != nil {
			if err := jsonschema.Validate(r.cfg.OutputSchema, call.Input); err != nil {
				return tool.Err("VALIDATION_FAILED", err.Error(), tool.Metadata{})
			}
		}
		return tool.Ok(call.Input, tool.Metadata{})
	}

	if err := r.cfg.Middlewares.BeforeToolExec(ctx, rc, call.Name, call.Input); err != nil {
		return tool.Err("GUARD_REJECTED", err.Error(), tool.Metadata{})
	}

	exec := func(ctx context.Context, toolName string, input map[string]any) tool.Result {
		return r.cfg.Tools.Execute(ctx, toolName, input, rc)
	}

	result := r.cfg.Guards.Run(ctx, call.Name, call.Input, exec)
	if !result.Success && !isPolicyDenial(result) {
		// Genuine execution failure, not a guard rejection: retry once per
		// the tool-failure policy, then give up with empty output rather
		// than fail the whole run.
		result = r.cfg.Guards.Run(ctx, call.Name, call.Input, exec)
		if !result.Success && !isPolicyDenial(result) {
			result = tool.Ok("", tool.Metadata{})
		}
	}

	_ = r.cfg.Middlewares.AfterToolExec(ctx, rc, call.Name, result.Success)
	return result
}

// isPolicyDenial reports whether result is a guard rejection rather than a
// transient execution failure — policy denials are never retried and never
// masked as an empty success.
func isPolicyDenial(result tool.Result) bool {
	return result.Error != nil && result.Error.Code == "GUARD_REJECTED"
}

func fingerprint(c llm.ToolCall) string {
	return fmt.Sprintf("%s:%v", c.Name, c.Input)
}

// concatContent joins every message's content for a pre-call token
// estimate; it does not need to reproduce the wire encoding exactly, only
// to track its size closely enough for a pre-emptive budget check.
func concatContent(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
	}
	return b.String()
}

func pickContent(result llm.ChatResult) string {
	for _, m := range result.Messages {
		if m.Role == llm.RoleAssistant {
			return m.Content
		}
	}
	return ""
}

func lastAssistantContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

// GenerateOutputSchema builds the submit_result tool's input schema from
// a Go type T, convenience wrapper over pkg/jsonschema for agent config
// bootstrap (Structured output).
func GenerateOutputSchema[T any]() (map[string]any, error) {
	return jsonschema.Generate[T]()
}
