package execution

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

const (
	// DefaultMaxConcurrent caps executions running at once; submissions
	// above it stay pending until capacity frees.
	DefaultMaxConcurrent = 64

	// DefaultAdmissionCap bounds pending + running executions; submissions
	// above it are rejected with capacity_exceeded.
	DefaultAdmissionCap = 1024

	// DefaultRecordCap bounds retained records before LRU eviction.
	DefaultRecordCap = 10_000

	// DefaultRetention is the minimum time a terminal record stays
	// queryable.
	DefaultRetention = time.Hour
)

// RunFunc drives one execution to a terminal state. The registry guarantees
// at most one RunFunc per execution_id and supplies the cancel signal.
type RunFunc func(ctx context.Context, st *State, cancel <-chan struct{})

// Sink receives terminal execution records for optional persistence.
type Sink interface {
	Write(rec *Record) error
}

// RegistryOptions configure the execution registry.
type RegistryOptions struct {
	MaxConcurrent int
	AdmissionCap  int
	RecordCap     int
	Retention     time.Duration
	Sink          Sink
}

func (o *RegistryOptions) setDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.AdmissionCap <= 0 {
		o.AdmissionCap = DefaultAdmissionCap
	}
	if o.RecordCap <= 0 {
		o.RecordCap = DefaultRecordCap
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
}

type handle struct {
	state      *State
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func (h *handle) signalCancel() {
	h.cancelOnce.Do(func() {
		close(h.cancel)
	})
}

// Registry tracks every live and recently-terminated execution. The map is
// behind the registry lock; each record carries its own lock (inside State)
// so independent executions never contend.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle

	opts RegistryOptions
	sem  *semaphore.Weighted

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func NewRegistry(opts RegistryOptions) *Registry {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		handles:  make(map[string]*handle),
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		baseCtx:  ctx,
		shutdown: cancel,
	}
}

// Submit registers the state and schedules run on its own goroutine. The
// execution stays pending until the concurrency semaphore admits it.
func (r *Registry) Submit(st *State, run RunFunc) (string, error) {
	r.mu.Lock()
	active := 0
	for _, h := range r.handles {
		if !h.state.Status().IsTerminal() {
			active++
		}
	}
	if active >= r.opts.AdmissionCap {
		r.mu.Unlock()
		return "", mesherr.New(mesherr.KindCapacityExceeded,
			"admission cap of %d pending+running executions reached", r.opts.AdmissionCap)
	}

	h := &handle{
		state:  st,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	id := st.ID()
	r.handles[id] = h
	r.mu.Unlock()

	r.wg.Add(1)
	go r.drive(h, run)

	return id, nil
}

func (r *Registry) drive(h *handle, run RunFunc) {
	defer r.wg.Done()
	defer close(h.done)

	if err := r.sem.Acquire(r.baseCtx, 1); err != nil {
		// Registry shut down while the execution was still queued.
		h.state.AppendError(ErrorRecord{
			Kind:    mesherr.KindCancelled,
			Message: "registry shut down before execution started",
		})
		h.state.Terminate(StatusCancelled)
		r.finalize(h)
		return
	}
	defer r.sem.Release(1)

	select {
	case <-h.cancel:
		h.state.AppendError(ErrorRecord{
			Kind:    mesherr.KindCancelled,
			Message: "cancelled before execution started",
		})
		h.state.Terminate(StatusCancelled)
		r.finalize(h)
		return
	default:
	}

	run(r.baseCtx, h.state, h.cancel)

	if !h.state.Status().IsTerminal() {
		// A RunFunc that returns without terminating is an engine defect;
		// close the record rather than leak a forever-running execution.
		h.state.AppendError(ErrorRecord{
			Kind:    mesherr.KindNodeException,
			Message: "executor returned without a terminal status",
		})
		h.state.Terminate(StatusFailed)
	}

	r.finalize(h)
}

func (r *Registry) finalize(h *handle) {
	if r.opts.Sink != nil {
		if err := r.opts.Sink.Write(h.state.Snapshot()); err != nil {
			slog.Warn("Failed to persist execution record",
				"execution_id", h.state.ID(), "error", err)
		}
	}
	r.evict()
}

// Get returns a deep-copied snapshot.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, mesherr.New(mesherr.KindNotFound, "execution %s not found", id)
	}
	return h.state.Snapshot(), nil
}

// Cancel sets the one-shot cancel signal. Cancelling a terminal execution
// reports already_terminal and leaves the record untouched.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return mesherr.New(mesherr.KindNotFound, "execution %s not found", id)
	}
	if h.state.Status().IsTerminal() {
		return mesherr.New(mesherr.KindAlreadyTerminal, "execution %s already terminal", id)
	}
	h.signalCancel()
	return nil
}

// ListRecent returns snapshots ordered by created_at descending, optionally
// filtered by status.
func (r *Registry) ListRecent(limit int, status Status) []*Record {
	r.mu.RLock()
	snapshots := make([]*Record, 0, len(r.handles))
	for _, h := range r.handles {
		snap := h.state.Snapshot()
		if status != "" && snap.Status != status {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	r.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots
}

// Await blocks until the execution reaches a terminal state or the timeout
// elapses, returning the snapshot either way; the error reports a timeout.
func (r *Registry) Await(id string, timeout time.Duration) (*Record, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, mesherr.New(mesherr.KindNotFound, "execution %s not found", id)
	}

	select {
	case <-h.done:
		return h.state.Snapshot(), nil
	case <-time.After(timeout):
		return h.state.Snapshot(), mesherr.New(mesherr.KindTimeout,
			"execution %s still running after %s", id, timeout)
	}
}

// Count returns total retained records and the non-terminal subset.
func (r *Registry) Count() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.handles)
	for _, h := range r.handles {
		if !h.state.Status().IsTerminal() {
			active++
		}
	}
	return total, active
}

// evict drops the oldest terminal records beyond the cap, but never inside
// the retention window.
func (r *Registry) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.handles) <= r.opts.RecordCap {
		return
	}

	type candidate struct {
		id          string
		completedAt time.Time
	}
	candidates := make([]candidate, 0)
	cutoff := time.Now().Add(-r.opts.Retention)
	for id, h := range r.handles {
		snap := h.state.Snapshot()
		if snap.Status.IsTerminal() && snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			candidates = append(candidates, candidate{id: id, completedAt: *snap.CompletedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].completedAt.Before(candidates[j].completedAt)
	})

	for _, c := range candidates {
		if len(r.handles) <= r.opts.RecordCap {
			break
		}
		delete(r.handles, c.id)
	}
}

// Sweep removes terminal records older than the retention window. Called
// periodically by the server.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.opts.Retention)
	removed := 0
	for id, h := range r.handles {
		snap := h.state.Snapshot()
		if snap.Status.IsTerminal() && snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			delete(r.handles, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels every live execution and waits for their executors to
// finish, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, h := range r.handles {
		if !h.state.Status().IsTerminal() {
			h.signalCancel()
		}
	}
	r.mu.RUnlock()

	r.shutdown()

	waitDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
