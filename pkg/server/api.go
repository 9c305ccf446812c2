package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/mesherr"
	"github.com/meshflow/meshflow/pkg/observability"
	"github.com/meshflow/meshflow/pkg/workflow"
)

// submitOptions are the submission fields shared by both execute endpoints.
type submitOptions struct {
	UserID     string `json:"user_id,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
	DeadlineMS int64  `json:"deadline_ms,omitempty"`
}

func (o submitOptions) stateOptions() []execution.StateOption {
	var opts []execution.StateOption
	if o.UserID != "" {
		opts = append(opts, execution.WithUserID(o.UserID))
	}
	if o.MaxRetries != nil {
		opts = append(opts, execution.WithMaxRetries(*o.MaxRetries))
	}
	if o.DeadlineMS > 0 {
		opts = append(opts, execution.WithDeadline(
			time.Now().Add(time.Duration(o.DeadlineMS)*time.Millisecond)))
	}
	return opts
}

type executeRequest struct {
	Definition *workflow.Definition `json:"definition"`
	Input      map[string]any       `json:"input,omitempty"`
	submitOptions
}

type fromTemplateRequest struct {
	Template   string         `json:"template"`
	Parameters map[string]any `json:"parameters,omitempty"`
	submitOptions
}

type submitResponse struct {
	ExecutionID string `json:"execution_id"`
}

type errorResponse struct {
	Kind        mesherr.Kind `json:"kind"`
	Message     string       `json:"message"`
	ExecutionID string       `json:"execution_id,omitempty"`
}

// handleExecute compiles an inline definition and submits it.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Definition == nil {
		writeError(w, mesherr.New(mesherr.KindValidation, "definition is required"))
		return
	}

	compiled, err := workflow.Compile(req.Definition, s.opts.Conditions)
	if err != nil {
		writeError(w, err)
		return
	}

	input, err := compiled.ValidateParams(req.Input)
	if err != nil {
		writeError(w, err)
		return
	}

	st := execution.NewState(compiled.Name, compiled.Version, input, req.stateOptions()...)
	id, err := s.submit(compiled, st)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ExecutionID: id})
}

// handleFromTemplate instantiates a library template and submits it.
func (s *Server) handleFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req fromTemplateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Template == "" {
		writeError(w, mesherr.New(mesherr.KindValidation, "template is required"))
		return
	}

	compiled, st, err := s.opts.Templates.Instantiate(req.Template, req.Parameters, req.stateOptions()...)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.submit(compiled, st)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{ExecutionID: id})
}

func (s *Server) submit(compiled *workflow.Compiled, st *execution.State) (string, error) {
	return s.opts.Executions.Submit(st, func(ctx context.Context, st *execution.State, cancel <-chan struct{}) {
		s.opts.Engine.Run(ctx, compiled, st, cancel)
	})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": s.opts.Templates.List(),
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, mesherr.New(mesherr.KindValidation,
				"limit must be an integer between 1 and 100"))
			return
		}
		limit = parsed
	}

	var status execution.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = execution.Status(raw)
		if !validStatus(status) {
			writeError(w, mesherr.New(mesherr.KindValidation,
				"unknown status filter %q", raw))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"executions": s.opts.Executions.ListRecent(limit, status),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if raw := r.URL.Query().Get("wait_ms"); raw != "" {
		waitMS, err := strconv.Atoi(raw)
		if err != nil || waitMS < 0 {
			writeError(w, mesherr.New(mesherr.KindValidation,
				"wait_ms must be a non-negative integer"))
			return
		}
		snap, err := s.opts.Executions.Await(id, time.Duration(waitMS)*time.Millisecond)
		if snap == nil {
			writeError(w, err)
			return
		}
		// A wait timeout still returns the live snapshot.
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := s.opts.Executions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.opts.Executions.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"execution_id": id,
		"status":       "cancel_requested",
	})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.opts.Executions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": snap.ExecutionID,
		"steps":        snap.Steps,
		"errors":       snap.Errors,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := 0
	if !s.started.IsZero() {
		uptime = int(time.Since(s.started).Seconds())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  observability.DefaultServiceName,
		"version":  s.opts.Version,
		"uptime_s": uptime,
	})
}

func validStatus(status execution.Status) bool {
	switch status {
	case execution.StatusPending, execution.StatusRunning, execution.StatusCompleted,
		execution.StatusFailed, execution.StatusCancelled, execution.StatusTimeout:
		return true
	}
	return false
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		return mesherr.Wrap(mesherr.KindValidation, err, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders the engine error without leaking internals: only kind
// and message cross the wire.
func writeError(w http.ResponseWriter, err error) {
	kind := mesherr.KindOf(err)
	message := err.Error()
	var me *mesherr.Error
	if errors.As(err, &me) {
		message = me.Message
	}
	writeJSON(w, mesherr.APIStatus(kind), errorResponse{
		Kind:    kind,
		Message: message,
	})
}
