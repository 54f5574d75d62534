package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentloom/pkg/agentdef"
	"github.com/kadirpekel/agentloom/pkg/classifier"
)

type fakeResolver struct {
	byTag map[string]agentdef.Definition
}

func (f *fakeResolver) ResolveByTags(tags []string) []agentdef.Definition {
	var out []agentdef.Definition
	for _, t := range tags {
		if def, ok := f.byTag[t]; ok {
			out = append(out, def)
		}
	}
	return out
}

func smallClassification() classifier.Classification {
	return classifier.Classification{Tier: classifier.TierSmall, Confidence: classifier.ConfidenceHigh, Method: classifier.MethodHeuristic}
}

func TestPlan_AssignsSequentialIDsAndResolvesAgent(t *testing.T) {
	resolver := &fakeResolver{byTag: map[string]agentdef.Definition{
		"researcher": {ID: "researcher-1", Tags: []string{"researcher"}},
	}}

	plan, err := Plan(smallClassification(), []SubtaskSpec{
		{Description: "find the file", Tags: []string{"researcher"}},
		{Description: "summarize it", Dependencies: []int{1}},
	}, resolver)

	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 2)
	assert.Equal(t, 1, plan.Subtasks[0].ID)
	assert.Equal(t, "researcher-1", plan.Subtasks[0].AgentID)
	assert.Equal(t, 2, plan.Subtasks[1].ID)
	assert.True(t, plan.Subtasks[1].Dependencies[1])
	assert.Equal(t, 1, plan.Version)
}

func TestValidate_RejectsDependencyOnNonExistentSubtask(t *testing.T) {
	plan := &ExecutionPlan{Subtasks: []Subtask{
		{ID: 1, Dependencies: map[int]bool{99: true}},
	}}
	err := Validate(plan)
	require.Error(t, err)
}

func TestValidate_RejectsCycle(t *testing.T) {
	plan := &ExecutionPlan{Subtasks: []Subtask{
		{ID: 1, Dependencies: map[int]bool{2: true}},
		{ID: 2, Dependencies: map[int]bool{1: true}},
	}}
	err := Validate(plan)
	require.Error(t, err)
}

func TestValidate_AcceptsAcyclicDiamond(t *testing.T) {
	plan := &ExecutionPlan{Subtasks: []Subtask{
		{ID: 1},
		{ID: 2, Dependencies: map[int]bool{1: true}},
		{ID: 3, Dependencies: map[int]bool{1: true}},
		{ID: 4, Dependencies: map[int]bool{2: true, 3: true}},
	}}
	require.NoError(t, Validate(plan))
}

func TestReady_OnlyReturnsSubtasksWithSatisfiedDependencies(t *testing.T) {
	plan := &ExecutionPlan{Subtasks: []Subtask{
		{ID: 1},
		{ID: 2, Dependencies: map[int]bool{1: true}},
		{ID: 3, Dependencies: map[int]bool{1: true, 2: true}},
	}}

	ready := Ready(plan, map[int]bool{}, map[int]bool{})
	require.Len(t, ready, 1)
	assert.Equal(t, 1, ready[0].ID)

	ready = Ready(plan, map[int]bool{1: true}, map[int]bool{1: true})
	require.Len(t, ready, 1)
	assert.Equal(t, 2, ready[0].ID)

	ready = Ready(plan, map[int]bool{1: true, 2: true}, map[int]bool{1: true, 2: true})
	require.Len(t, ready, 1)
	assert.Equal(t, 3, ready[0].ID)
}

func TestReady_OrdersByPriorityDescendingThenID(t *testing.T) {
	plan := &ExecutionPlan{Subtasks: []Subtask{
		{ID: 1, Priority: 2},
		{ID: 2, Priority: 8},
		{ID: 3, Priority: 8},
	}}
	ready := Ready(plan, map[int]bool{}, map[int]bool{})
	require.Len(t, ready, 3)
	assert.Equal(t, []int{2, 3, 1}, []int{ready[0].ID, ready[1].ID, ready[2].ID})
}

func TestApply_AddRevisionIncrementsVersionAndSize(t *testing.T) {
	plan := &ExecutionPlan{Version: 1, Subtasks: []Subtask{{ID: 1}}}

	next, err := Apply(plan, []Revision{
		{Action: RevisionAdd, Subtask: Subtask{ID: 2, Dependencies: map[int]bool{1: true}}, Reason: "follow-up"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Len(t, next.Subtasks, 2)
	assert.Len(t, plan.Subtasks, 1, "original plan must remain untouched")
}

func TestApply_RemoveRevision(t *testing.T) {
	plan := &ExecutionPlan{Version: 1, Subtasks: []Subtask{{ID: 1}, {ID: 2}}}

	next, err := Apply(plan, []Revision{{Action: RevisionRemove, ID: 2}})

	require.NoError(t, err)
	assert.Len(t, next.Subtasks, 1)
}

func TestApply_ModifyRevision(t *testing.T) {
	plan := &ExecutionPlan{Version: 1, Subtasks: []Subtask{{ID: 1, Priority: 1}}}

	next, err := Apply(plan, []Revision{{Action: RevisionModify, Subtask: Subtask{ID: 1, Priority: 9}}})

	require.NoError(t, err)
	assert.Equal(t, 9, next.Subtasks[0].Priority)
}

func TestApply_ReorderRevision(t *testing.T) {
	plan := &ExecutionPlan{Version: 1, Subtasks: []Subtask{{ID: 1}, {ID: 2}, {ID: 3}}}

	next, err := Apply(plan, []Revision{{Action: RevisionReorder, Order: []int{3, 1, 2}}})

	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, []int{next.Subtasks[0].ID, next.Subtasks[1].ID, next.Subtasks[2].ID})
}

func TestApply_RejectsRevisionThatWouldBreakInvariantsAtomically(t *testing.T) {
	plan := &ExecutionPlan{Version: 1, Subtasks: []Subtask{{ID: 1}}}

	next, err := Apply(plan, []Revision{
		{Action: RevisionAdd, Subtask: Subtask{ID: 2, Dependencies: map[int]bool{99: true}}},
	})

	require.Error(t, err)
	assert.Equal(t, plan, next, "rejected revision set must leave the prior plan version untouched")
}

func TestApply_RejectsCycleIntroducedAcrossMultipleRevisions(t *testing.T) {
	plan := &ExecutionPlan{Version: 1, Subtasks: []Subtask{{ID: 1}, {ID: 2}}}

	_, err := Apply(plan, []Revision{
		{Action: RevisionModify, Subtask: Subtask{ID: 1, Dependencies: map[int]bool{2: true}}},
		{Action: RevisionModify, Subtask: Subtask{ID: 2, Dependencies: map[int]bool{1: true}}},
	})

	require.Error(t, err)
}
