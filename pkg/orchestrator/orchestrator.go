// Package orchestrator is the Adaptive Orchestrator: the
// top-level loop that classifies a task, plans it, dispatches ready
// subtasks concurrently up to a configured backpressure budget, applies
// LLM-driven plan adaptations between waves, and synthesizes a final
// result with a per-tier cost breakdown.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/agentloom/pkg/agentdef"
	"github.com/kadirpekel/agentloom/pkg/budget"
	"github.com/kadirpekel/agentloom/pkg/classifier"
	"github.com/kadirpekel/agentloom/pkg/event"
	"github.com/kadirpekel/agentloom/pkg/llm"
	"github.com/kadirpekel/agentloom/pkg/planner"
	"github.com/kadirpekel/agentloom/pkg/runctx"
	"github.com/kadirpekel/agentloom/pkg/runner"
)

// SubtaskResult is the recorded outcome of one dispatched subtask attempt.
// A subtask that escalates is recorded once per attempt, one per tier, so
// Cost can attribute spend to every tier it actually ran at.
type SubtaskResult struct {
	SubtaskID       int
	AgentID         string
	Tier            classifier.Tier
	Outcome         runner.Outcome
	FindingsSummary string
	Err             error
}

// AdaptationRequest is what the orchestrator hands to the adaptation
// strategy after each completion wave: the current plan plus every
// subtask result observed so far.
type AdaptationRequest struct {
	Plan    *planner.ExecutionPlan
	Results []SubtaskResult
}

// Adapter optionally proposes plan revisions between dispatch waves,
// driven by an LLM call over the subtask's findings. A nil Adapter
// disables adaptation entirely.
type Adapter interface {
	Propose(ctx context.Context, req AdaptationRequest) ([]planner.Revision, string, error)
}

// CostBreakdown totals estimated cost per classifier.Tier.
type CostBreakdown map[classifier.Tier]float64

// OrchestratorResult is the terminal output of one orchestrator Run.
type OrchestratorResult struct {
	RequestID     string
	Classification classifier.Classification
	FinalPlan     *planner.ExecutionPlan
	Results       []SubtaskResult
	FinalAnswer   string
	Cost          CostBreakdown
	Status        string // "complete" | "failed"
}

// RunnerFactory builds the Agent Runner that will execute one subtask at
// its resolved agent/tier. Supplied by the caller since Runner.Config
// wiring (tool packs, guards, middleware) is an application-level
// concern the orchestrator does not own.
type RunnerFactory func(subtask planner.Subtask, agent agentdef.Definition) *runner.Runner

// Synthesizer turns the completed subtask results into a final answer.
// A nil Synthesizer falls back to DefaultSynthesize.
type Synthesizer interface {
	Synthesize(ctx context.Context, task string, results []SubtaskResult) (string, error)
}

// Config configures one Orchestrator.
type Config struct {
	Classifier   llm.Capability // used by classifier.Hybrid; nil forces classifier.Heuristic only
	Agents       *agentdef.Registry
	BuildRunner  RunnerFactory
	Adapter      Adapter // optional
	Synthesizer  Synthesizer // optional
	Callbacks    *event.Callbacks // optional

	// MaxConcurrent bounds in-flight subtasks at any moment; overflow waits.
	MaxConcurrent int

	// SubtaskIterationBudget configures each dispatched subtask's Agent
	// Runner budget tracker.
	SubtaskIterationBudget int

	// MaxAdaptationRounds bounds how many adaptation proposals the
	// orchestrator will apply across a single run, preventing an
	// unbounded revise/dispatch cycle.
	MaxAdaptationRounds int
}

// Orchestrator runs the classify → plan → dispatch → adapt → synthesize
// loop for one task.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from cfg, filling in documented defaults.
func New(cfg Config) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.SubtaskIterationBudget <= 0 {
		cfg.SubtaskIterationBudget = 12
	}
	if cfg.MaxAdaptationRounds <= 0 {
		cfg.MaxAdaptationRounds = 3
	}
	return &Orchestrator{cfg: cfg}
}

// Decompose turns a task description into the SubtaskSpecs planner.Plan
// needs. The orchestrator does not own task decomposition itself (that is
// an LLM-driven judgment call made by the caller or an upstream agent);
// Decompose is the narrow seam a caller supplies it through.
type Decomposer interface {
	Decompose(ctx context.Context, task string, classification classifier.Classification) ([]planner.SubtaskSpec, error)
}

// Run classifies task, plans it via decomposer, then dispatches,
// adapts, and synthesizes to a final OrchestratorResult.
func (o *Orchestrator) Run(ctx context.Context, requestID, task string, decomposer Decomposer) (*OrchestratorResult, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	classification := o.classify(ctx, task)

	specs, err := decomposer.Decompose(ctx, task, classification)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decompose failed: %w", err)
	}

	plan, err := planner.Plan(classification, specs, o.cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: initial plan invalid: %w", err)
	}
	o.cfg.Callbacks.PlanCreated(plan)

	results, err := o.dispatchAll(ctx, requestID, task, plan)
	if err != nil {
		return nil, err
	}

	answer, err := o.synthesize(ctx, task, results)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: synthesis failed: %w", err)
	}

	status := "complete"
	for _, res := range results {
		if res.Err != nil || res.Outcome.Kind == runner.OutcomeFailed {
			status = "failed"
			break
		}
	}
	o.cfg.Callbacks.Complete(status)

	return &OrchestratorResult{
		RequestID:      requestID,
		Classification: classification,
		FinalPlan:      plan,
		Results:        results,
		FinalAnswer:    answer,
		Cost:           costBreakdown(plan, results),
		Status:         status,
	}, nil
}

func (o *Orchestrator) classify(ctx context.Context, task string) classifier.Classification {
	if o.cfg.Classifier == nil {
		return classifier.Heuristic(task)
	}
	return classifier.Hybrid(ctx, o.cfg.Classifier, task)
}

// dispatchAll runs the dispatch-wave / adapt loop until every subtask has
// a recorded result or no further subtask can ever become ready.
func (o *Orchestrator) dispatchAll(ctx context.Context, requestID, task string, plan *planner.ExecutionPlan) ([]SubtaskResult, error) {
	var (
		mu        sync.Mutex
		succeeded = map[int]bool{}
		started   = map[int]bool{}
		allResults []SubtaskResult
	)

	adaptationRounds := 0

	for {
		ready := planner.Ready(plan, succeeded, started)
		if len(ready) == 0 {
			if len(started) >= len(plan.Subtasks) {
				break // every subtask has been dispatched (and completed)
			}
			// Nothing ready and not everything started: the remaining
			// subtasks depend on something that never succeeded.
			break
		}

		wave, err := o.dispatchWave(ctx, requestID, task, plan, ready)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		for _, res := range wave {
			started[res.SubtaskID] = true
			// A subtask id may appear more than once in wave (one entry per
			// escalation attempt); the last entry for an id is authoritative.
			succeeded[res.SubtaskID] = res.Err == nil && res.Outcome.Kind == runner.OutcomeComplete
			allResults = append(allResults, res)
		}
		mu.Unlock()

		if o.cfg.Adapter != nil && adaptationRounds < o.cfg.MaxAdaptationRounds {
			revisions, reason, err := o.cfg.Adapter.Propose(ctx, AdaptationRequest{Plan: plan, Results: allResults})
			if err == nil && len(revisions) > 0 {
				if next, applyErr := planner.Apply(plan, revisions); applyErr == nil {
					plan = next
					adaptationRounds++
					o.cfg.Callbacks.Adaptation(revisions, plan.Version)
					_ = reason // surfaced to callers via Callbacks, not logged here
				}
			}
		}
	}

	return allResults, nil
}

// dispatchWave runs every subtask in ready concurrently, bounded by
// MaxConcurrent via a weighted semaphore (backpressure), using an
// errgroup.WithContext fan-out/join.
func (o *Orchestrator) dispatchWave(ctx context.Context, requestID, task string, plan *planner.ExecutionPlan, ready []planner.Subtask) ([]SubtaskResult, error) {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrent))
	grp, grpCtx := errgroup.WithContext(ctx)

	perSubtask := make([][]SubtaskResult, len(ready))

	for i, subtask := range ready {
		i, subtask := i, subtask
		grp.Go(func() error {
			if err := sem.Acquire(grpCtx, 1); err != nil {
				perSubtask[i] = []SubtaskResult{{SubtaskID: subtask.ID, Tier: subtask.Tier, Err: err}}
				return nil
			}
			defer sem.Release(1)

			perSubtask[i] = o.runSubtask(grpCtx, requestID, task, subtask)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, fmt.Errorf("orchestrator: dispatch wave failed: %w", err)
	}

	var results []SubtaskResult
	for _, attempts := range perSubtask {
		results = append(results, attempts...)
	}
	return results, nil
}

// nextTier returns the next classifier.Tier up from tier, or false if tier
// is already the highest one escalation can reach.
func nextTier(tier classifier.Tier) (classifier.Tier, bool) {
	switch tier {
	case classifier.TierSmall:
		return classifier.TierMedium, true
	case classifier.TierMedium:
		return classifier.TierLarge, true
	default:
		return "", false
	}
}

// runSubtask executes subtask through its resolved agent's Runner,
// restarting it at the next classifier.Tier whenever the Runner reports
// OutcomeEscalate, up to the tier ceiling. Every attempt is recorded as its
// own SubtaskResult, tagged with the tier it ran at, so a cost breakdown
// over the returned attempts reflects every tier the subtask touched.
func (o *Orchestrator) runSubtask(ctx context.Context, requestID, task string, subtask planner.Subtask) []SubtaskResult {
	var attempts []SubtaskResult
	current := subtask

	for {
		result := o.runSubtaskOnce(ctx, requestID, task, current)
		attempts = append(attempts, result)

		if result.Outcome.Kind != runner.OutcomeEscalate {
			return attempts
		}

		escalated, ok := nextTier(current.Tier)
		if !ok {
			last := &attempts[len(attempts)-1]
			last.Err = fmt.Errorf("subtask %d stuck at tier %s: %s", subtask.ID, current.Tier, last.Outcome.EscalateReason)
			o.cfg.Callbacks.SubtaskFailed(subtask.ID, last.Err.Error())
			return attempts
		}

		current.Tier = escalated
	}
}

// runSubtaskOnce runs one attempt of subtask at its currently set tier,
// reporting start/complete/failed callbacks around it. OutcomeEscalate is
// reported to the caller uncallbacked: runSubtask decides whether to retry
// at the next tier or give up.
func (o *Orchestrator) runSubtaskOnce(ctx context.Context, requestID, task string, subtask planner.Subtask) SubtaskResult {
	o.cfg.Callbacks.SubtaskStart(subtask.ID)

	agentDef, _ := o.cfg.Agents.Get(subtask.AgentID)

	subtaskRequestID := fmt.Sprintf("%s/subtask-%d", requestID, subtask.ID)
	rc := runctx.New(ctx, subtaskRequestID, subtask.Description, 0)
	rc.Tier = agentDef.DefaultTier

	r := o.cfg.BuildRunner(subtask, agentDef)
	outcome := r.Run(ctx, rc)

	result := SubtaskResult{SubtaskID: subtask.ID, AgentID: subtask.AgentID, Tier: subtask.Tier, Outcome: outcome}
	switch outcome.Kind {
	case runner.OutcomeComplete, runner.OutcomeHandoff:
		result.FindingsSummary = outcome.Result
		o.cfg.Callbacks.SubtaskComplete(subtask.ID, result.FindingsSummary)
	case runner.OutcomeFailed:
		reason := "unknown failure"
		if outcome.Failure != nil {
			reason = outcome.Failure.Message
		}
		result.Err = fmt.Errorf("subtask %d failed: %s", subtask.ID, reason)
		o.cfg.Callbacks.SubtaskFailed(subtask.ID, reason)
	case runner.OutcomeEscalate:
		// left to runSubtask: may retry at the next tier.
	}
	return result
}

func (o *Orchestrator) synthesize(ctx context.Context, task string, results []SubtaskResult) (string, error) {
	if o.cfg.Synthesizer != nil {
		return o.cfg.Synthesizer.Synthesize(ctx, task, results)
	}
	return DefaultSynthesize(results), nil
}

// DefaultSynthesize concatenates every successful subtask's findings
// summary in subtask-id order — the no-dedicated-synthesis-agent
// fallback.
func DefaultSynthesize(results []SubtaskResult) string {
	sorted := append([]SubtaskResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubtaskID < sorted[j].SubtaskID })

	var b strings.Builder
	for _, res := range sorted {
		if res.Err != nil || res.FindingsSummary == "" {
			continue
		}
		fmt.Fprintf(&b, "Subtask %d: %s\n", res.SubtaskID, res.FindingsSummary)
	}
	return strings.TrimSpace(b.String())
}

// costBreakdown sums an estimated cost per tier, one unit per attempt. A
// subtask that escalated is recorded once per tier it ran at (see
// runSubtask), so a subtask that started at small and finished at medium
// contributes to both buckets rather than only the plan's original tier.
func costBreakdown(plan *planner.ExecutionPlan, results []SubtaskResult) CostBreakdown {
	out := CostBreakdown{}
	for _, res := range results {
		if res.Tier == "" {
			continue
		}
		out[res.Tier]++
	}
	return out
}

// NewSubtaskBudget builds the budget.Tracker a RunnerFactory should wire
// into each dispatched subtask's Runner.Config, honoring
// Config.SubtaskIterationBudget.
func NewSubtaskBudget(configured int) *budget.Tracker {
	return budget.New(nil, configured)
}
