package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

func TestNewStateDefaults(t *testing.T) {
	st := NewState("document_analysis", "1.0.0", map[string]any{"document_id": "doc_1"})
	snap := st.Snapshot()

	assert.NotEmpty(t, snap.ExecutionID)
	assert.NotEmpty(t, snap.CorrelationID)
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, DefaultMaxRetries, snap.MaxRetries)
	assert.Nil(t, snap.StartedAt)
	assert.Nil(t, snap.CompletedAt)
	assert.Equal(t, "doc_1", snap.InputData["document_id"])
}

func TestDistinctExecutionIDs(t *testing.T) {
	a := NewState("wf", "1", nil)
	b := NewState("wf", "1", nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestLifecycleTransitions(t *testing.T) {
	st := NewState("wf", "1", nil)
	st.MarkRunning()
	assert.Equal(t, StatusRunning, st.Status())
	require.NotNil(t, st.Snapshot().StartedAt)

	assert.True(t, st.Terminate(StatusCompleted))
	snap := st.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt)
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	st := NewState("wf", "1", nil)
	st.MarkRunning()
	require.True(t, st.Terminate(StatusFailed))
	completedAt := *st.Snapshot().CompletedAt

	// Second terminate, node updates, and writes are all no-ops.
	assert.False(t, st.Terminate(StatusCancelled))
	st.SetCurrentNode("late")
	st.Set("late", "value")

	snap := st.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, completedAt, *snap.CompletedAt)
	assert.Empty(t, snap.CurrentNode)
	_, ok := st.Get("late")
	assert.False(t, ok)
}

func TestTerminateRejectsNonTerminalStatus(t *testing.T) {
	st := NewState("wf", "1", nil)
	assert.False(t, st.Terminate(StatusRunning))
	assert.Equal(t, StatusPending, st.Status())
}

func TestGetSetDottedPaths(t *testing.T) {
	st := NewState("wf", "1", map[string]any{
		"document_id": "doc_1",
		"options":     map[string]any{"deep": true},
	})

	v, ok := st.Get("input.document_id")
	require.True(t, ok)
	assert.Equal(t, "doc_1", v)

	v, ok = st.Get("input.options.deep")
	require.True(t, ok)
	assert.Equal(t, true, v)

	st.Set("analysis.summary", "short")
	v, ok = st.Get("analysis.summary")
	require.True(t, ok)
	assert.Equal(t, "short", v)

	_, ok = st.Get("analysis.missing")
	assert.False(t, ok)
	_, ok = st.Get("input.nope")
	assert.False(t, ok)
}

func TestAppendStepAssignsSequentialIDs(t *testing.T) {
	st := NewState("wf", "1", nil)
	for i, node := range []string{"a", "b", "c"} {
		id := st.AppendStep(StepRecord{NodeName: node, Kind: StepToolCall})
		assert.Equal(t, i+1, id)
	}
	steps := st.Snapshot().Steps
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepID)
	}
}

func TestRetryBudget(t *testing.T) {
	st := NewState("wf", "1", nil, WithMaxRetries(2))
	assert.True(t, st.RetryBudgetLeft())
	assert.Equal(t, 1, st.IncrementRetry())
	assert.Equal(t, 2, st.IncrementRetry())
	assert.False(t, st.RetryBudgetLeft())
	assert.Equal(t, 2, st.RetryCount())
}

func TestAppendErrorFromErr(t *testing.T) {
	st := NewState("wf", "1", nil)
	st.AppendErrorFromErr("analyze", mesherr.New(mesherr.KindToolTimeout, "slow"))

	errs := st.Snapshot().Errors
	require.Len(t, errs, 1)
	assert.Equal(t, mesherr.KindToolTimeout, errs[0].Kind)
	assert.Equal(t, "analyze", errs[0].NodeName)
	assert.False(t, errs[0].OccurredAt.IsZero())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	st := NewState("wf", "1", map[string]any{"nested": map[string]any{"k": "v"}})
	st.Set("out", map[string]any{"x": 1})

	snap := st.Snapshot()
	snap.InputData["nested"].(map[string]any)["k"] = "mutated"
	snap.OutputData["out"].(map[string]any)["x"] = 99
	snap.Steps = append(snap.Steps, StepRecord{NodeName: "fake"})

	fresh := st.Snapshot()
	assert.Equal(t, "v", fresh.InputData["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, fresh.OutputData["out"].(map[string]any)["x"])
	assert.Empty(t, fresh.Steps)
}

func TestDeadline(t *testing.T) {
	st := NewState("wf", "1", nil, WithDeadline(time.Now().Add(-time.Second)))
	assert.True(t, st.DeadlineExceeded())

	st = NewState("wf", "1", nil)
	assert.False(t, st.DeadlineExceeded())
}
