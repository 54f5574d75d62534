// Package budget tracks the Budget & Progress State for one agent run:
// iteration counters, token consumption, tier, a repeating-call ring
// buffer for loop detection, and stuck-progress tracking.
package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ringWindow is the repeating-call ring buffer size; loop detection
// requires the last 3 calls to exactly repeat the 3 preceding them.
const ringWindow = 6

// defaultIterationCap is the ceiling applied when no token budget is
// active.
const defaultIterationCap = 12

// extensionAmount is how many iterations Extend grants at a time.
const extensionAmount = 5

// stuckThreshold is the default iterationsSinceProgress ceiling used by
// ShouldExtend when the caller doesn't override it.
const stuckThreshold = 4

// Tracker is the mutable per-run Budget & Progress State.
type Tracker struct {
	mu sync.Mutex

	Iteration            int
	IterationBudget      int
	TotalTokensConsumed  int
	HardTokenLimit       int // 0 = unlimited
	CurrentTier          int
	StartTier            int
	TaskBudget           *int // optional LLM-inferred iteration budget

	iterationsSinceProgress int
	lastSignalIteration     int

	ring      [ringWindow]string
	ringCount int

	encoder *tiktoken.Tiktoken
}

// New creates a Tracker. taskBudget is the optional LLM-inferred per-task
// iteration budget (nil if none was inferred); configured is the
// operator-configured ceiling.
func New(taskBudget *int, configured int) *Tracker {
	t := &Tracker{
		TaskBudget: taskBudget,
		StartTier:  0,
	}
	t.IterationBudget = t.initialIterationBudget(configured)
	return t
}

// WithTokenEncoder attaches a tiktoken encoder for EstimateTokens; the
// zero-value Tracker falls back to a rough 4-chars-per-token estimate.
func (t *Tracker) WithTokenEncoder(model string) *Tracker {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err == nil {
		t.encoder = enc
	}
	return t
}

// initialIterationBudget implements the Initial iteration budget
// policy: min(taskBudget ?? ∞, configured), capped further at 12 if no
// token budget is active.
func (t *Tracker) initialIterationBudget(configured int) int {
	budget := configured
	if t.TaskBudget != nil && *t.TaskBudget < budget {
		budget = *t.TaskBudget
	}
	if t.HardTokenLimit == 0 && budget > defaultIterationCap {
		budget = defaultIterationCap
	}
	return budget
}

// EstimateTokens returns a pre-emptive token estimate for text before the
// LLM call returns real usage, via cl100k (or model-specific) encoding
// when available, falling back to a rough 4-chars-per-token heuristic.
func (t *Tracker) EstimateTokens(text string) int {
	if t.encoder == nil {
		return len(text) / 4
	}
	return len(t.encoder.Encode(text, nil, nil))
}

// RecordIteration advances the iteration counter. Iteration is
// monotonically non-decreasing for the run's duration.
func (t *Tracker) RecordIteration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Iteration++
}

// ConsumeTokens accounts for tokens spent on the most recent LLM call.
func (t *Tracker) ConsumeTokens(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TotalTokensConsumed += n
}

// RecordSignal marks the current iteration as having produced a recent
// "search signal" (a finding, a successful tool call judged informative)
// for the Extend policy's lookback window.
func (t *Tracker) RecordSignal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSignalIteration = t.Iteration
}

// RecordProgress resets iterationsSinceProgress to zero, called whenever
// the agent makes forward progress (a finding recorded, a subtask moves
// toward completion).
func (t *Tracker) RecordProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iterationsSinceProgress = 0
}

// RecordNoProgress increments iterationsSinceProgress; called once per
// iteration that made no discernible forward progress.
func (t *Tracker) RecordNoProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iterationsSinceProgress++
}

// IterationsSinceProgress reports the stuck counter.
func (t *Tracker) IterationsSinceProgress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iterationsSinceProgress
}

// RecordToolCall pushes a fingerprint of a tool invocation (qualified
// name + a stable encoding of its input) into the ring buffer used by
// LoopDetected.
func (t *Tracker) RecordToolCall(fingerprint string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy(t.ring[:], t.ring[1:])
	t.ring[ringWindow-1] = fingerprint
	if t.ringCount < ringWindow {
		t.ringCount++
	}
}

// LoopDetected reports whether the last 3 recorded tool invocations are
// identical to the 3 preceding them.
func (t *Tracker) LoopDetected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ringCount < ringWindow {
		return false
	}
	for i := 0; i < ringWindow/2; i++ {
		if t.ring[i] != t.ring[i+ringWindow/2] {
			return false
		}
	}
	for _, v := range t.ring {
		if v == "" {
			return false
		}
	}
	return true
}

// HardBudgetExceeded reports whether the hard token limit has been hit.
func (t *Tracker) HardBudgetExceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.HardTokenLimit > 0 && t.TotalTokensConsumed >= t.HardTokenLimit
}

// WouldExceedHardBudget reports whether consuming estimated more tokens
// would push total consumption at or past HardTokenLimit, letting a caller
// that already has an EstimateTokens figure short-circuit an LLM call it
// knows it can't afford, rather than discovering it only after the call.
func (t *Tracker) WouldExceedHardBudget(estimated int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.HardTokenLimit > 0 && t.TotalTokensConsumed+estimated >= t.HardTokenLimit
}

// Remaining reports how many iterations are left in the current budget.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.IterationBudget - t.Iteration
}

// ShouldExtend implements the Extension policy: at end of run
// window (remaining ≤ 2), extend iff there was a recent search signal
// (≤ 3 iterations ago), recent progress (≤ 2 iterations ago), or
// iterationsSinceProgress is still below the stuck threshold.
func (t *Tracker) ShouldExtend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.IterationBudget-t.Iteration > 2 {
		return false
	}

	recentSignal := t.Iteration-t.lastSignalIteration <= 3
	recentProgress := t.iterationsSinceProgress <= 2
	notStuck := t.iterationsSinceProgress < stuckThreshold

	return recentSignal || recentProgress || notStuck
}

// Extend grants another extensionAmount iterations, the way ShouldExtend
// indicates the run is worth continuing.
func (t *Tracker) Extend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.IterationBudget += extensionAmount
}

// EscalateTier advances CurrentTier by one level.
func (t *Tracker) EscalateTier() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CurrentTier++
}
