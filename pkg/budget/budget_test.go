package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitialIterationBudget_CapsAtTwelveWithoutTokenBudget(t *testing.T) {
	tr := New(nil, 100)
	assert.Equal(t, defaultIterationCap, tr.IterationBudget)
}

func TestInitialIterationBudget_RespectsTaskBudgetWhenSmaller(t *testing.T) {
	taskBudget := 5
	tr := New(&taskBudget, 100)
	assert.Equal(t, 5, tr.IterationBudget)
}

func TestInitialIterationBudget_RespectsHardTokenLimitException(t *testing.T) {
	tr := &Tracker{HardTokenLimit: 50000}
	budget := tr.initialIterationBudget(100)
	assert.Equal(t, 100, budget, "the 12-iteration cap only applies when there's no active token budget")
}

func TestLoopDetection_TripleRepeatDetected(t *testing.T) {
	tr := New(nil, 100)
	calls := []string{"T1", "T2", "T3", "T1", "T2", "T3"}
	for _, c := range calls {
		tr.RecordToolCall(c)
	}
	assert.True(t, tr.LoopDetected(), "T1 T2 T3 T1 T2 T3 must be detected as a loop")
}

func TestLoopDetection_NoFalsePositiveOnVariedCalls(t *testing.T) {
	tr := New(nil, 100)
	calls := []string{"T1", "T2", "T3", "T4", "T5", "T6"}
	for _, c := range calls {
		tr.RecordToolCall(c)
	}
	assert.False(t, tr.LoopDetected())
}

func TestLoopDetection_RequiresFullWindow(t *testing.T) {
	tr := New(nil, 100)
	tr.RecordToolCall("T1")
	tr.RecordToolCall("T2")
	assert.False(t, tr.LoopDetected(), "fewer than 6 recorded calls can never trigger loop detection")
}

func TestHardBudgetExceeded(t *testing.T) {
	tr := New(nil, 100)
	tr.HardTokenLimit = 1000
	tr.ConsumeTokens(999)
	assert.False(t, tr.HardBudgetExceeded())
	tr.ConsumeTokens(1)
	assert.True(t, tr.HardBudgetExceeded())
}

func TestHardBudgetExceeded_ZeroMeansUnlimited(t *testing.T) {
	tr := New(nil, 100)
	tr.ConsumeTokens(1_000_000)
	assert.False(t, tr.HardBudgetExceeded())
}

func TestProgressReset(t *testing.T) {
	tr := New(nil, 100)
	tr.RecordNoProgress()
	tr.RecordNoProgress()
	assert.Equal(t, 2, tr.IterationsSinceProgress())

	tr.RecordProgress()
	assert.Equal(t, 0, tr.IterationsSinceProgress())
}

func TestShouldExtend_FalseWhenPlentyRemaining(t *testing.T) {
	tr := New(nil, 100)
	assert.False(t, tr.ShouldExtend())
}

func TestShouldExtend_TrueNearEndWithRecentProgress(t *testing.T) {
	taskBudget := 3
	tr := New(&taskBudget, 100)
	for i := 0; i < 2; i++ {
		tr.RecordIteration()
	}
	tr.RecordProgress()
	assert.True(t, tr.ShouldExtend())
}

func TestExtend_GrantsFiveMoreIterations(t *testing.T) {
	tr := New(nil, 100)
	before := tr.IterationBudget
	tr.Extend()
	assert.Equal(t, before+extensionAmount, tr.IterationBudget)
}

func TestEstimateTokens_FallsBackWithoutEncoder(t *testing.T) {
	tr := New(nil, 100)
	estimate := tr.EstimateTokens("12345678")
	assert.Equal(t, 2, estimate)
}
