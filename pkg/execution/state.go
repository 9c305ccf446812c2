package execution

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

// DefaultMaxRetries is the per-execution retry budget when the submission
// does not declare one.
const DefaultMaxRetries = 3

// State is the mutable per-execution record handle. Node dispatch is
// single-threaded with respect to the owning execution; the lock exists so
// the registry can take consistent snapshots while the executor writes.
type State struct {
	mu       sync.RWMutex
	rec      Record
	deadline time.Time
}

// StateOption configures a new State.
type StateOption func(*State)

func WithUserID(userID string) StateOption {
	return func(s *State) {
		s.rec.UserID = userID
	}
}

func WithCorrelationID(id string) StateOption {
	return func(s *State) {
		s.rec.CorrelationID = id
	}
}

func WithMaxRetries(max int) StateOption {
	return func(s *State) {
		if max >= 0 {
			s.rec.MaxRetries = max
		}
	}
}

// WithDeadline sets the execution-level deadline. Distinct from the
// per-tool-call timeout.
func WithDeadline(deadline time.Time) StateOption {
	return func(s *State) {
		s.deadline = deadline
	}
}

// NewState allocates a pending execution record.
func NewState(workflowName, workflowVersion string, input map[string]any, opts ...StateOption) *State {
	s := &State{
		rec: Record{
			ExecutionID:     uuid.NewString(),
			WorkflowName:    workflowName,
			WorkflowVersion: workflowVersion,
			Status:          StatusPending,
			CreatedAt:       time.Now().UTC(),
			InputData:       cloneMap(input),
			OutputData:      make(map[string]any),
			MaxRetries:      DefaultMaxRetries,
			Steps:           make([]StepRecord, 0),
			Errors:          make([]ErrorRecord, 0),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rec.CorrelationID == "" {
		s.rec.CorrelationID = uuid.NewString()
	}

	return s
}

func (s *State) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.ExecutionID
}

func (s *State) WorkflowName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.WorkflowName
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Status
}

func (s *State) Deadline() time.Time {
	return s.deadline
}

// DeadlineExceeded reports whether the execution-level deadline has passed.
func (s *State) DeadlineExceeded() bool {
	return !s.deadline.IsZero() && time.Now().After(s.deadline)
}

// MarkRunning transitions pending → running and stamps started_at.
func (s *State) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status != StatusPending {
		return
	}
	now := time.Now().UTC()
	s.rec.Status = StatusRunning
	s.rec.StartedAt = &now
}

// Terminate moves the execution to a terminal status and stamps
// completed_at. Terminal records are immutable: a second call is a no-op.
func (s *State) Terminate(status Status) bool {
	if !status.IsTerminal() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	if s.rec.StartedAt == nil {
		s.rec.StartedAt = &now
	}
	s.rec.Status = status
	s.rec.CompletedAt = &now
	return true
}

func (s *State) SetCurrentNode(node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.IsTerminal() {
		return
	}
	s.rec.CurrentNode = node
}

func (s *State) CurrentNode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.CurrentNode
}

// Get resolves a dotted path. Paths rooted at "input" read the submitted
// input; everything else reads the working output data.
func (s *State) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := strings.Split(path, ".")
	var current any
	if parts[0] == "input" {
		if len(parts) == 1 {
			return cloneMap(s.rec.InputData), true
		}
		current = any(s.rec.InputData)
		parts = parts[1:]
	} else {
		current = any(s.rec.OutputData)
	}

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes a value at a dotted path into the working output data,
// creating intermediate maps as needed.
func (s *State) Set(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.IsTerminal() {
		return
	}

	parts := strings.Split(path, ".")
	current := s.rec.OutputData
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// AppendStep assigns the next step_id and appends the record. Returns the
// assigned id.
func (s *State) AppendStep(step StepRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.StepID = len(s.rec.Steps) + 1
	s.rec.Steps = append(s.rec.Steps, step)
	return step.StepID
}

// AppendError appends to the error audit trail.
func (s *State) AppendError(rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	s.rec.Errors = append(s.rec.Errors, rec)
}

// AppendErrorFromErr converts an engine error into an audit entry.
func (s *State) AppendErrorFromErr(node string, err error) {
	s.AppendError(ErrorRecord{
		Kind:     mesherr.KindOf(err),
		NodeName: node,
		Message:  err.Error(),
	})
}

// IncrementRetry bumps the per-execution retry counter and returns the new
// count.
func (s *State) IncrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.RetryCount++
	return s.rec.RetryCount
}

func (s *State) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.RetryCount
}

func (s *State) MaxRetries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.MaxRetries
}

// RetryBudgetLeft reports whether another retry is allowed.
func (s *State) RetryBudgetLeft() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.RetryCount < s.rec.MaxRetries
}

// ErrorCount returns the number of audit trail entries.
func (s *State) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rec.Errors)
}

// Snapshot returns a deep copy of the record, safe to hand to callers while
// the executor keeps writing.
func (s *State) Snapshot() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Clone()
}
