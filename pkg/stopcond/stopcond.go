// Package stopcond is the Stop-Condition Evaluator: a priority-ordered set
// of termination reasons, exactly one of which is chosen per iteration.
package stopcond

// Priority is the fixed, unique-by-construction priority table; lower
// values win.
type Priority int

const (
	PriorityAbortSignal    Priority = 0
	PriorityReportComplete Priority = 1
	PriorityHardBudget     Priority = 2
	PriorityMaxIterations  Priority = 3
	PriorityLoopDetected   Priority = 4
	PriorityNoToolCalls    Priority = 5
)

// ReasonCode is the machine-readable reason attached to a Result.
type ReasonCode string

const (
	ReasonAbortSignal    ReasonCode = "ABORT_SIGNAL"
	ReasonReportComplete ReasonCode = "REPORT_COMPLETE"
	ReasonHardBudget     ReasonCode = "HARD_BUDGET"
	ReasonMaxIterations  ReasonCode = "MAX_ITERATIONS"
	ReasonLoopDetected   ReasonCode = "LOOP_DETECTED"
	ReasonNoToolCalls    ReasonCode = "NO_TOOL_CALLS"
)

// priorityFor maps each reason code to its fixed priority, so a caller
// building a Result from just a reason code can't desynchronize the two.
var priorityFor = map[ReasonCode]Priority{
	ReasonAbortSignal:    PriorityAbortSignal,
	ReasonReportComplete: PriorityReportComplete,
	ReasonHardBudget:     PriorityHardBudget,
	ReasonMaxIterations:  PriorityMaxIterations,
	ReasonLoopDetected:   PriorityLoopDetected,
	ReasonNoToolCalls:    PriorityNoToolCalls,
}

// Result is a single fired stop condition (StopConditionResult).
type Result struct {
	Priority Priority
	Reason   ReasonCode
	Message  string
	Metadata map[string]any
}

// New builds a Result from a reason code, filling in its fixed priority.
func New(reason ReasonCode, message string, metadata map[string]any) Result {
	return Result{Priority: priorityFor[reason], Reason: reason, Message: message, Metadata: metadata}
}

// Signals is the set of facts the Evaluator inspects each iteration. Every
// field is advisory input gathered by the Execution Loop from its
// collaborators (budget.Tracker, the LLM response, middleware decisions).
type Signals struct {
	AbortRequested     bool
	ReportToolCalled   bool
	HardBudgetExceeded bool
	MaxIterationsHit   bool
	LoopDetected       bool
	NoToolCallsMade    bool

	// FatalMiddleware, if non-empty, names a fail-closed middleware whose
	// failure must itself be surfaced (recorded as an abort-priority stop
	// via NewFatalMiddleware so callers don't need a separate code path).
	FatalMiddlewareName string
}

// Evaluate collects every condition that fired this iteration and returns
// the one with the lowest numeric priority. Returns (Result{}, false) if
// nothing fired.
func Evaluate(s Signals) (Result, bool) {
	var fired []Result

	if s.FatalMiddlewareName != "" {
		fired = append(fired, New(ReasonAbortSignal, "fail-closed middleware "+s.FatalMiddlewareName+" failed", nil))
	}
	if s.AbortRequested {
		fired = append(fired, New(ReasonAbortSignal, "cancellation requested", nil))
	}
	if s.ReportToolCalled {
		fired = append(fired, New(ReasonReportComplete, "agent called terminal report tool", nil))
	}
	if s.HardBudgetExceeded {
		fired = append(fired, New(ReasonHardBudget, "hard token limit reached", nil))
	}
	if s.MaxIterationsHit {
		fired = append(fired, New(ReasonMaxIterations, "max iterations reached", nil))
	}
	if s.LoopDetected {
		fired = append(fired, New(ReasonLoopDetected, "repeating-call triple detected", nil))
	}
	if s.NoToolCallsMade {
		fired = append(fired, New(ReasonNoToolCalls, "LLM produced no tool calls", nil))
	}

	if len(fired) == 0 {
		return Result{}, false
	}

	best := fired[0]
	for _, r := range fired[1:] {
		if r.Priority < best.Priority {
			best = r
		}
	}
	return best, true
}
