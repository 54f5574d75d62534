// Package runctx defines RunContext, the mutable per-run state threaded
// through one agent execution: the task, tier, message history, iteration
// counter, cancellation, and a typed namespaced meta-store.
package runctx

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/agentloom/pkg/llm"
)

// Tier is the escalation level a run is currently executing at.
type Tier int

const (
	TierStandard Tier = iota
	TierElevated
	TierMax
)

// RunContext is owned exclusively by the currently executing agent run;
// middlewares borrow it per hook (Ownership). It is not safe for
// concurrent mutation from more than one iteration at a time, but Meta
// reads/writes are synchronized since read-only tool fan-out may read it
// concurrently with the iteration goroutine.
type RunContext struct {
	RequestID     string
	Task          string
	Tier          Tier
	Messages      []llm.Message
	Iteration     int
	MaxIterations int
	Aborted       bool

	ctx    context.Context
	cancel context.CancelFunc

	metaMu sync.RWMutex
	meta   map[string]namespace
}

// namespace holds one meta namespace's entries plus the single owner
// allowed to write into it.
type namespace struct {
	owner string
	data  map[string]any
}

// New creates a RunContext bound to parent for cancellation.
func New(parent context.Context, requestID, task string, maxIterations int) *RunContext {
	ctx, cancel := context.WithCancel(parent)
	return &RunContext{
		RequestID:     requestID,
		Task:          task,
		Tier:          TierStandard,
		MaxIterations: maxIterations,
		ctx:           ctx,
		cancel:        cancel,
		meta:          make(map[string]namespace),
	}
}

// Context returns the cancellation-bearing context.Context for this run.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// Cancel aborts the run; Context().Done() fires and Aborted should be set
// by the caller observing it (the Execution Loop sets this at the top of
// its next iteration check).
func (rc *RunContext) Cancel() { rc.cancel() }

// AdvanceIteration increments Iteration. RunContext.iteration is
// monotonically non-decreasing — this is the only mutator.
func (rc *RunContext) AdvanceIteration() {
	rc.Iteration++
}

// Declare registers namespace ns as owned by owner. Declaring the same
// namespace under a different owner is a programming error: each meta key
// is written by a single owning component.
func (rc *RunContext) Declare(ns, owner string) error {
	rc.metaMu.Lock()
	defer rc.metaMu.Unlock()

	if existing, ok := rc.meta[ns]; ok {
		if existing.owner != owner {
			return fmt.Errorf("runctx: namespace %q already owned by %q, cannot redeclare as %q", ns, existing.owner, owner)
		}
		return nil
	}
	rc.meta[ns] = namespace{owner: owner, data: make(map[string]any)}
	return nil
}

// Set writes key within namespace ns. The caller must be the namespace's
// declared owner.
func (rc *RunContext) Set(ns, owner, key string, value any) error {
	rc.metaMu.Lock()
	defer rc.metaMu.Unlock()

	n, ok := rc.meta[ns]
	if !ok {
		n = namespace{owner: owner, data: make(map[string]any)}
		rc.meta[ns] = n
	}
	if n.owner != owner {
		return fmt.Errorf("runctx: namespace %q is owned by %q, %q cannot write to it", ns, n.owner, owner)
	}
	n.data[key] = value
	return nil
}

// Get reads key from namespace ns. Reads by components other than the
// owner are advisory (Shared resources) and always permitted.
func (rc *RunContext) Get(ns, key string) (any, bool) {
	rc.metaMu.RLock()
	defer rc.metaMu.RUnlock()

	n, ok := rc.meta[ns]
	if !ok {
		return nil, false
	}
	v, ok := n.data[key]
	return v, ok
}

// Namespace returns a read-only snapshot of every key in ns.
func (rc *RunContext) Namespace(ns string) map[string]any {
	rc.metaMu.RLock()
	defer rc.metaMu.RUnlock()

	n, ok := rc.meta[ns]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(n.data))
	for k, v := range n.data {
		out[k] = v
	}
	return out
}
