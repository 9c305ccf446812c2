package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

func completeImmediately(ctx context.Context, st *State, cancel <-chan struct{}) {
	st.MarkRunning()
	st.Terminate(StatusCompleted)
}

func TestSubmitAndGet(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Shutdown(context.Background())

	st := NewState("wf", "1", nil)
	id, err := r.Submit(st, completeImmediately)
	require.NoError(t, err)
	assert.Equal(t, st.ID(), id)

	snap, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ExecutionID)

	_, err = r.Get("nonexistent")
	assert.Equal(t, mesherr.KindNotFound, mesherr.KindOf(err))
}

func TestAwaitReturnsTerminalSnapshot(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Shutdown(context.Background())

	id, err := r.Submit(NewState("wf", "1", nil), completeImmediately)
	require.NoError(t, err)

	snap, err := r.Await(id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestAwaitTimesOutOnRunningExecution(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Shutdown(context.Background())

	release := make(chan struct{})
	id, err := r.Submit(NewState("wf", "1", nil), func(ctx context.Context, st *State, cancel <-chan struct{}) {
		st.MarkRunning()
		select {
		case <-release:
		case <-cancel:
		}
		st.Terminate(StatusCompleted)
	})
	require.NoError(t, err)

	snap, err := r.Await(id, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, mesherr.KindTimeout, mesherr.KindOf(err))
	assert.Equal(t, StatusRunning, snap.Status)
	close(release)
}

func TestCancelIdempotence(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Shutdown(context.Background())

	id, err := r.Submit(NewState("wf", "1", nil), func(ctx context.Context, st *State, cancel <-chan struct{}) {
		st.MarkRunning()
		<-cancel
		st.AppendError(ErrorRecord{Kind: mesherr.KindCancelled, Message: "stopped"})
		st.Terminate(StatusCancelled)
	})
	require.NoError(t, err)

	require.NoError(t, r.Cancel(id))
	snap, err := r.Await(id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)

	// Second cancel on the terminal record reports already_terminal and
	// leaves the record alone.
	err = r.Cancel(id)
	assert.Equal(t, mesherr.KindAlreadyTerminal, mesherr.KindOf(err))
	again, _ := r.Get(id)
	assert.Equal(t, snap.CompletedAt, again.CompletedAt)

	assert.Equal(t, mesherr.KindNotFound, mesherr.KindOf(r.Cancel("nope")))
}

func TestAdmissionCap(t *testing.T) {
	r := NewRegistry(RegistryOptions{MaxConcurrent: 1, AdmissionCap: 2})
	defer r.Shutdown(context.Background())

	release := make(chan struct{})
	var wg sync.WaitGroup
	blocker := func(ctx context.Context, st *State, cancel <-chan struct{}) {
		st.MarkRunning()
		select {
		case <-release:
		case <-cancel:
		}
		st.Terminate(StatusCompleted)
	}

	wg.Add(2)
	for i := 0; i < 2; i++ {
		_, err := r.Submit(NewState("wf", "1", nil), func(ctx context.Context, st *State, cancel <-chan struct{}) {
			defer wg.Done()
			blocker(ctx, st, cancel)
		})
		require.NoError(t, err)
	}

	// Third submission exceeds pending+running cap.
	_, err := r.Submit(NewState("wf", "1", nil), blocker)
	require.Error(t, err)
	assert.Equal(t, mesherr.KindCapacityExceeded, mesherr.KindOf(err))

	close(release)
	wg.Wait()
}

func TestRunFuncWithoutTerminalStatusIsFailsafed(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Shutdown(context.Background())

	id, err := r.Submit(NewState("wf", "1", nil), func(ctx context.Context, st *State, cancel <-chan struct{}) {
		st.MarkRunning()
		// Returns while still running.
	})
	require.NoError(t, err)

	snap, err := r.Await(id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	require.NotEmpty(t, snap.Errors)
	assert.Equal(t, mesherr.KindNodeException, snap.Errors[len(snap.Errors)-1].Kind)
}

func TestListRecentOrderAndFilter(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Shutdown(context.Background())

	var ids []string
	for i := 0; i < 3; i++ {
		st := NewState("wf", "1", nil)
		id, err := r.Submit(st, completeImmediately)
		require.NoError(t, err)
		ids = append(ids, id)
		_, err = r.Await(id, time.Second)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	recent := r.ListRecent(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ExecutionID)
	assert.Equal(t, ids[1], recent[1].ExecutionID)

	completed := r.ListRecent(0, StatusCompleted)
	assert.Len(t, completed, 3)
	failed := r.ListRecent(0, StatusFailed)
	assert.Empty(t, failed)
}

type captureSink struct {
	mu   sync.Mutex
	recs []*Record
}

func (s *captureSink) Write(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func TestSinkReceivesTerminalRecords(t *testing.T) {
	sink := &captureSink{}
	r := NewRegistry(RegistryOptions{Sink: sink})
	defer r.Shutdown(context.Background())

	id, err := r.Submit(NewState("wf", "1", nil), completeImmediately)
	require.NoError(t, err)
	_, err = r.Await(id, time.Second)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.recs, 1)
	assert.Equal(t, id, sink.recs[0].ExecutionID)
	assert.Equal(t, StatusCompleted, sink.recs[0].Status)
}

func TestSweepRespectsRetention(t *testing.T) {
	r := NewRegistry(RegistryOptions{Retention: 50 * time.Millisecond})
	defer r.Shutdown(context.Background())

	id, err := r.Submit(NewState("wf", "1", nil), completeImmediately)
	require.NoError(t, err)
	_, err = r.Await(id, time.Second)
	require.NoError(t, err)

	// Still inside the retention window.
	assert.Equal(t, 0, r.Sweep())
	_, err = r.Get(id)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, r.Sweep())
	_, err = r.Get(id)
	assert.Equal(t, mesherr.KindNotFound, mesherr.KindOf(err))
}

func TestShutdownCancelsLiveExecutions(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	id, err := r.Submit(NewState("wf", "1", nil), func(ctx context.Context, st *State, cancel <-chan struct{}) {
		st.MarkRunning()
		<-cancel
		st.Terminate(StatusCancelled)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	snap, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
}
