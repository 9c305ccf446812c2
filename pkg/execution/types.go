// Package execution holds the per-execution state object, the provenance
// records, and the process-wide execution registry.
package execution

import (
	"time"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// IsTerminal returns whether this status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// StepKind identifies what a provenance step recorded.
type StepKind string

const (
	StepToolCall          StepKind = "tool_call"
	StepComposite         StepKind = "composite"
	StepConditionalRouter StepKind = "conditional_router"
	StepRetry             StepKind = "retry"
)

// Outcome is the result of a single step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// ToolInvocation captures one downstream call inside a step.
type ToolInvocation struct {
	Service    string `json:"service"`
	Tool       string `json:"tool"`
	Request    any    `json:"request_snapshot,omitempty"`
	Response   any    `json:"response_snapshot,omitempty"`
	HTTPStatus int    `json:"http_status"`
	DurationMS int64  `json:"duration_ms"`
}

// StepRecord is one entry in an execution's provenance. Appended by the
// executor, never mutated afterwards.
type StepRecord struct {
	StepID         int             `json:"step_id"`
	NodeName       string          `json:"node_name"`
	Kind           StepKind        `json:"kind"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Outcome        Outcome         `json:"outcome"`
	ToolInvocation *ToolInvocation `json:"tool_invocation"`
	// Branch holds the label a conditional router selected.
	Branch       string `json:"branch,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ErrorRecord is one entry in an execution's error audit trail. Retried and
// recovered errors stay in the trail.
type ErrorRecord struct {
	Kind       mesherr.Kind `json:"kind"`
	NodeName   string       `json:"node_name,omitempty"`
	Message    string       `json:"message"`
	CausedBy   *ErrorRecord `json:"caused_by,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Record is the full execution record. Its JSON form is the snapshot
// returned by the status and trace endpoints and written by the persistence
// sink.
type Record struct {
	ExecutionID     string         `json:"execution_id"`
	WorkflowName    string         `json:"workflow_name"`
	WorkflowVersion string         `json:"workflow_version"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	CurrentNode     string         `json:"current_node,omitempty"`
	InputData       map[string]any `json:"input_data"`
	OutputData      map[string]any `json:"output_data"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	Steps           []StepRecord   `json:"steps"`
	Errors          []ErrorRecord  `json:"errors"`
	UserID          string         `json:"user_id,omitempty"`
	CorrelationID   string         `json:"correlation_id"`
}

// Clone returns a deep copy of the record. Snapshots handed to callers must
// never alias the live record.
func (r *Record) Clone() *Record {
	out := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.InputData = cloneMap(r.InputData)
	out.OutputData = cloneMap(r.OutputData)
	out.Steps = make([]StepRecord, len(r.Steps))
	for i, step := range r.Steps {
		out.Steps[i] = step
		if step.ToolInvocation != nil {
			inv := *step.ToolInvocation
			inv.Request = cloneValue(step.ToolInvocation.Request)
			inv.Response = cloneValue(step.ToolInvocation.Response)
			out.Steps[i].ToolInvocation = &inv
		}
	}
	out.Errors = make([]ErrorRecord, len(r.Errors))
	for i, rec := range r.Errors {
		out.Errors[i] = *rec.clone()
	}
	return &out
}

func (e *ErrorRecord) clone() *ErrorRecord {
	if e == nil {
		return nil
	}
	out := *e
	out.CausedBy = e.CausedBy.clone()
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		// Scalars (and anything JSON-decoded that isn't a container) are
		// immutable from the engine's point of view.
		return v
	}
}
