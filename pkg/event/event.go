// Package event defines the optional progress-callback contract the
// Adaptive Orchestrator reports through during a run.
package event

import (
	"github.com/kadirpekel/agentloom/pkg/planner"
)

// Callbacks is the normative contract for observing one orchestrator run;
// every field is optional — a nil callback is simply not invoked. Bus-style
// events are not provided since callbacks are sufficient and simpler to wire
// without an external pub/sub dependency.
type Callbacks struct {
	OnPlanCreated     func(plan *planner.ExecutionPlan)
	OnSubtaskStart    func(subtaskID int)
	OnSubtaskComplete func(subtaskID int, summary string)
	OnSubtaskFailed   func(subtaskID int, reason string)
	OnAdaptation      func(revisions []planner.Revision, newVersion int)
	OnComplete        func(status string)
}

// Each method is nil-receiver and nil-field safe, so callers can hold a
// *Callbacks that is nil, or a Callbacks with any subset of fields set,
// without ever checking before calling.

func (c *Callbacks) PlanCreated(plan *planner.ExecutionPlan) {
	if c != nil && c.OnPlanCreated != nil {
		c.OnPlanCreated(plan)
	}
}

func (c *Callbacks) SubtaskStart(id int) {
	if c != nil && c.OnSubtaskStart != nil {
		c.OnSubtaskStart(id)
	}
}

func (c *Callbacks) SubtaskComplete(id int, summary string) {
	if c != nil && c.OnSubtaskComplete != nil {
		c.OnSubtaskComplete(id, summary)
	}
}

func (c *Callbacks) SubtaskFailed(id int, reason string) {
	if c != nil && c.OnSubtaskFailed != nil {
		c.OnSubtaskFailed(id, reason)
	}
}

func (c *Callbacks) Adaptation(revisions []planner.Revision, newVersion int) {
	if c != nil && c.OnAdaptation != nil {
		c.OnAdaptation(revisions, newVersion)
	}
}

func (c *Callbacks) Complete(status string) {
	if c != nil && c.OnComplete != nil {
		c.OnComplete(status)
	}
}
