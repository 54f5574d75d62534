// Package planner builds and revises an ExecutionPlan: an ordered list of
// Subtasks with a dependency graph, agent resolution, and atomic,
// invariant-checked adaptation.
package planner

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/agentloom/pkg/agentdef"
	"github.com/kadirpekel/agentloom/pkg/classifier"
)

// Subtask is one unit of work in a plan.
type Subtask struct {
	ID                 int
	Description        string
	Tier               classifier.Tier
	Dependencies       map[int]bool
	AgentID            string
	Priority           int // 1-10
	EstimatedComplexity int
}

// ExecutionPlan is a versioned, ordered Subtask list with an estimated cost.
type ExecutionPlan struct {
	Version      int
	Subtasks     []Subtask
	EstimatedCost float64
}

// ValidationError reports a plan-graph invariant violation: a duplicate
// id, a dependency on a non-existent subtask, or a dependency cycle.
type ValidationError struct {
	Action  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[planner:%s] %s", e.Action, e.Message)
}

func newValidationErr(action, message string) *ValidationError {
	return &ValidationError{Action: action, Message: message}
}

// AgentResolver resolves a subtask's tag set to a concrete agent id — the
// narrow surface Plan needs from agentdef.Registry, so this package doesn't
// depend on its full API.
type AgentResolver interface {
	ResolveByTags(tags []string) []agentdef.Definition
}

// Plan builds an ExecutionPlan for task given its classification and the
// per-subtask descriptions with their desired agent tags. The
// caller supplies subtask shape (description, dependencies, tags) because
// decomposing a task description into subtasks is itself an LLM-driven
// decision outside this package's scope — Plan's job is assembling and
// validating the resulting graph, and resolving each subtask's agent.
type SubtaskSpec struct {
	Description  string
	Dependencies []int
	Tags         []string
	Priority     int
}

// Plan assembles subtask specs into a validated, agent-resolved
// ExecutionPlan at version 1.
func Plan(classification classifier.Classification, specs []SubtaskSpec, resolver AgentResolver) (*ExecutionPlan, error) {
	subtasks := make([]Subtask, 0, len(specs))
	for i, spec := range specs {
		deps := make(map[int]bool, len(spec.Dependencies))
		for _, d := range spec.Dependencies {
			deps[d] = true
		}
		priority := spec.Priority
		if priority == 0 {
			priority = 5
		}

		agentID := ""
		if resolver != nil && len(spec.Tags) > 0 {
			if candidates := resolver.ResolveByTags(spec.Tags); len(candidates) > 0 {
				agentID = candidates[0].ID
			}
		}

		subtasks = append(subtasks, Subtask{
			ID:           i + 1,
			Description:  spec.Description,
			Tier:         classification.Tier,
			Dependencies: deps,
			AgentID:      agentID,
			Priority:     priority,
		})
	}

	plan := &ExecutionPlan{Version: 1, Subtasks: subtasks}
	if err := Validate(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks that plan's subtask ids are unique, every dependency
// refers to an existing subtask, and the dependency graph is acyclic.
func Validate(plan *ExecutionPlan) error {
	seen := make(map[int]bool, len(plan.Subtasks))
	for _, st := range plan.Subtasks {
		if seen[st.ID] {
			return newValidationErr("Validate", fmt.Sprintf("duplicate subtask id %d", st.ID))
		}
		seen[st.ID] = true
	}

	byID := make(map[int]Subtask, len(plan.Subtasks))
	for _, st := range plan.Subtasks {
		byID[st.ID] = st
	}

	for _, st := range plan.Subtasks {
		for dep := range st.Dependencies {
			if !seen[dep] {
				return newValidationErr("Validate", fmt.Sprintf("subtask %d depends on non-existent subtask %d", st.ID, dep))
			}
		}
	}

	if cycle := findCycle(byID); cycle != nil {
		return newValidationErr("Validate", fmt.Sprintf("dependency cycle detected: %v", cycle))
	}
	return nil
}

// findCycle runs a standard three-color DFS over the dependency graph,
// returning the first cycle found (as a list of subtask ids) or nil.
func findCycle(byID map[int]Subtask) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(byID))
	var path []int
	var cycle []int

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var visit func(id int) bool
	visit = func(id int) bool {
		color[id] = gray
		path = append(path, id)
		deps := make([]int, 0, len(byID[id].Dependencies))
		for d := range byID[id].Dependencies {
			deps = append(deps, d)
		}
		sort.Ints(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				cycle = append(append([]int(nil), path...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// Ready returns every subtask whose dependencies all have a recorded
// success status, excluding any id already in done or inFlight.
func Ready(plan *ExecutionPlan, succeeded map[int]bool, started map[int]bool) []Subtask {
	var ready []Subtask
	for _, st := range plan.Subtasks {
		if started[st.ID] {
			continue
		}
		allSatisfied := true
		for dep := range st.Dependencies {
			if !succeeded[dep] {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, st)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// RevisionAction names one adaptation operation: add, remove, modify, or
// reorder, applied with atomic all-or-nothing validation.
type RevisionAction string

const (
	RevisionAdd    RevisionAction = "add"
	RevisionRemove RevisionAction = "remove"
	RevisionModify RevisionAction = "modify"
	RevisionReorder RevisionAction = "reorder"
)

// Revision is one adaptation-step edit to apply to a plan.
type Revision struct {
	Action  RevisionAction
	Subtask Subtask   // for add/modify
	ID      int       // for remove
	Order   []int     // for reorder: the full new subtask-id ordering
	Reason  string
}

// Apply validates and applies revisions to plan as a single atomic unit:
// either every revision applies and the result passes Validate, or the
// original plan is returned unchanged.
func Apply(plan *ExecutionPlan, revisions []Revision) (*ExecutionPlan, error) {
	next := clone(plan)

	for _, rev := range revisions {
		switch rev.Action {
		case RevisionAdd:
			next.Subtasks = append(next.Subtasks, rev.Subtask)
		case RevisionRemove:
			next.Subtasks = removeByID(next.Subtasks, rev.ID)
		case RevisionModify:
			if !replaceByID(next.Subtasks, rev.Subtask) {
				return plan, newValidationErr("Apply", fmt.Sprintf("modify references non-existent subtask %d", rev.Subtask.ID))
			}
		case RevisionReorder:
			reordered, err := reorder(next.Subtasks, rev.Order)
			if err != nil {
				return plan, err
			}
			next.Subtasks = reordered
		default:
			return plan, newValidationErr("Apply", fmt.Sprintf("unknown revision action %q", rev.Action))
		}
	}

	if err := Validate(next); err != nil {
		return plan, err
	}

	next.Version = plan.Version + 1
	return next, nil
}

func clone(plan *ExecutionPlan) *ExecutionPlan {
	out := &ExecutionPlan{Version: plan.Version, EstimatedCost: plan.EstimatedCost}
	out.Subtasks = make([]Subtask, len(plan.Subtasks))
	copy(out.Subtasks, plan.Subtasks)
	return out
}

func removeByID(subtasks []Subtask, id int) []Subtask {
	out := make([]Subtask, 0, len(subtasks))
	for _, st := range subtasks {
		if st.ID != id {
			out = append(out, st)
		}
	}
	return out
}

func replaceByID(subtasks []Subtask, replacement Subtask) bool {
	for i, st := range subtasks {
		if st.ID == replacement.ID {
			subtasks[i] = replacement
			return true
		}
	}
	return false
}

func reorder(subtasks []Subtask, order []int) ([]Subtask, error) {
	if len(order) != len(subtasks) {
		return nil, newValidationErr("Apply", "reorder must name every existing subtask exactly once")
	}
	byID := make(map[int]Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}
	out := make([]Subtask, 0, len(order))
	seen := make(map[int]bool, len(order))
	for _, id := range order {
		if seen[id] {
			return nil, newValidationErr("Apply", fmt.Sprintf("reorder names subtask %d more than once", id))
		}
		st, ok := byID[id]
		if !ok {
			return nil, newValidationErr("Apply", fmt.Sprintf("reorder names non-existent subtask %d", id))
		}
		seen[id] = true
		out = append(out, st)
	}
	return out, nil
}
