package agentdef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_RejectsEmptyID(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{Tags: []string{"researcher"}})
	require.Error(t, err)
}

func TestRegister_RejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{ID: "a", Tags: []string{"x"}}))
	err := r.Register(Definition{ID: "a", Tags: []string{"y"}})
	require.Error(t, err)
}

func TestResolveByTags_UnionSemanticsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{ID: "researcher", Tags: []string{"Researcher", "Search"}}))
	require.NoError(t, r.Register(Definition{ID: "writer", Tags: []string{"Writer"}}))
	require.NoError(t, r.Register(Definition{ID: "generalist", Tags: []string{"researcher", "writer"}}))

	got := r.ResolveByTags([]string{"search"})
	ids := idsOf(got)
	assert.ElementsMatch(t, []string{"researcher"}, ids)

	got = r.ResolveByTags([]string{"WRITER"})
	ids = idsOf(got)
	assert.ElementsMatch(t, []string{"writer", "generalist"}, ids)
}

func TestResolveByTags_EmptyWantedReturnsNil(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{ID: "a", Tags: []string{"x"}}))
	assert.Nil(t, r.ResolveByTags(nil))
}

func TestResolveByKeyword_MatchesDescriptionOrID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{ID: "code-reviewer", Description: "reviews pull requests for correctness"}))

	got := r.ResolveByKeyword("pull request")
	require.Len(t, got, 1)
	assert.Equal(t, "code-reviewer", got[0].ID)

	got = r.ResolveByKeyword("REVIEWER")
	require.Len(t, got, 1)
}

func idsOf(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.ID
	}
	return out
}
