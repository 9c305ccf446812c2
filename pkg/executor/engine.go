// Package executor drives a compiled workflow against a live execution
// state: serial node dispatch, conditional routing, retry with backoff,
// cooperative cancellation, and provenance recording.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/mesherr"
	"github.com/meshflow/meshflow/pkg/observability"
	"github.com/meshflow/meshflow/pkg/tools"
	"github.com/meshflow/meshflow/pkg/workflow"
)

const (
	// DefaultBackoffBase is the first retry delay.
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultBackoffCap bounds the exponential retry delay.
	DefaultBackoffCap = 8 * time.Second

	// backoffJitter is the ± fraction applied to each delay.
	backoffJitter = 0.2
)

// Engine executes compiled workflows. It is stateless across executions
// and safe for concurrent use.
type Engine struct {
	tools   *tools.Registry
	invoker *tools.Invoker

	backoffBase time.Duration
	backoffCap  time.Duration
}

type Option func(*Engine)

// WithBackoff overrides the retry backoff parameters. Used by tests to
// avoid real sleeps.
func WithBackoff(base, cap time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffCap = cap
	}
}

func New(toolRegistry *tools.Registry, invoker *tools.Invoker, opts ...Option) *Engine {
	e := &Engine{
		tools:       toolRegistry,
		invoker:     invoker,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the execution to a terminal state. It satisfies
// execution.RunFunc and never panics across the boundary: node failures
// become node_exception errors.
func (e *Engine) Run(ctx context.Context, wf *workflow.Compiled, st *execution.State, cancel <-chan struct{}) {
	tracer := observability.GetTracer("meshflow.executor")
	ctx, span := tracer.Start(ctx, observability.SpanExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrWorkflowName, wf.Name),
			attribute.String(observability.AttrExecutionID, st.ID()),
		),
	)
	defer span.End()

	metrics := observability.GetGlobalMetrics()
	metrics.ExecutionStarted(ctx)
	start := time.Now()
	defer func() {
		metrics.ExecutionFinished(ctx)
		status := st.Status()
		metrics.RecordExecution(ctx, wf.Name, string(status), time.Since(start))
		if status == execution.StatusCompleted {
			span.SetStatus(codes.Ok, string(status))
		} else {
			span.SetStatus(codes.Error, string(status))
		}
	}()

	st.MarkRunning()
	current := wf.Entry
	st.SetCurrentNode(current)

	for current != workflow.Terminal {
		if cancelled(cancel) {
			e.terminate(st, execution.StatusCancelled, execution.ErrorRecord{
				Kind:     mesherr.KindCancelled,
				NodeName: current,
				Message:  "cancel signal observed",
			})
			return
		}
		if st.DeadlineExceeded() {
			e.terminate(st, execution.StatusTimeout, execution.ErrorRecord{
				Kind:     mesherr.KindTimeout,
				NodeName: current,
				Message:  "execution deadline exceeded",
			})
			return
		}

		spec, ok := wf.Node(current)
		if !ok {
			e.terminate(st, execution.StatusFailed, execution.ErrorRecord{
				Kind:     mesherr.KindUnknownNode,
				NodeName: current,
				Message:  fmt.Sprintf("node %q is not in the compiled workflow", current),
			})
			return
		}

		if spec.Kind == workflow.NodeTerminal {
			break
		}

		next, err := e.runNode(ctx, wf, st, current, spec, cancel)
		if err != nil {
			st.AppendErrorFromErr(current, err)

			switch mesherr.KindOf(err) {
			case mesherr.KindCancelled:
				e.terminateStatus(st, execution.StatusCancelled)
				return
			case mesherr.KindTimeout:
				e.terminateStatus(st, execution.StatusTimeout)
				return
			}

			if mesherr.Retryable(err) && st.RetryBudgetLeft() {
				attempt := st.IncrementRetry()
				metrics.RecordRetry(ctx, wf.Name)
				slog.Debug("Retrying node after recoverable tool failure",
					"execution_id", st.ID(), "node", current, "attempt", attempt)

				if !e.backoff(ctx, st, current, attempt, cancel) {
					return
				}
				// Re-enter the same node.
				continue
			}

			e.terminateStatus(st, execution.StatusFailed)
			return
		}

		current = next
		st.SetCurrentNode(current)
	}

	st.SetCurrentNode("")
	st.Terminate(execution.StatusCompleted)
}

// runNode dispatches one node, commits its step record, and returns the
// next node name.
func (e *Engine) runNode(ctx context.Context, wf *workflow.Compiled, st *execution.State, name string, spec workflow.NodeSpec, cancel <-chan struct{}) (string, error) {
	tracer := observability.GetTracer("meshflow.executor")
	ctx, span := tracer.Start(ctx, observability.SpanNodeDispatch,
		trace.WithAttributes(
			attribute.String(observability.AttrNodeName, name),
			attribute.String(observability.AttrNodeKind, string(spec.Kind)),
		),
	)
	defer span.End()

	step := execution.StepRecord{
		NodeName:  name,
		StartedAt: time.Now().UTC(),
	}

	commit := func(err error) {
		step.FinishedAt = time.Now().UTC()
		if err != nil {
			step.Outcome = execution.OutcomeError
			step.ErrorMessage = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			step.Outcome = execution.OutcomeSuccess
			span.SetStatus(codes.Ok, "success")
		}
		st.AppendStep(step)
	}

	switch spec.Kind {
	case workflow.NodeToolCall:
		step.Kind = execution.StepToolCall
		inv, err := e.dispatchTool(ctx, st, name, spec)
		if inv != nil {
			step.ToolInvocation = &execution.ToolInvocation{
				Service:    inv.Service,
				Tool:       inv.Tool,
				Request:    inv.Request,
				Response:   inv.Response,
				HTTPStatus: inv.HTTPStatus,
				DurationMS: inv.Duration.Milliseconds(),
			}
		}
		// Cancellation takes effect when an in-flight call returns.
		if err == nil && cancelled(cancel) {
			err = mesherr.New(mesherr.KindCancelled, "cancel signal observed after tool call")
		}
		commit(err)
		if err != nil {
			return "", err
		}
		return wf.NextNode(name), nil

	case workflow.NodeComposite:
		step.Kind = execution.StepComposite
		err := e.dispatchComposite(ctx, wf, st, spec, cancel)
		commit(err)
		if err != nil {
			return "", err
		}
		return wf.NextNode(name), nil

	case workflow.NodeConditionalRouter:
		step.Kind = execution.StepConditionalRouter
		plan, ok := wf.Router(name)
		if !ok {
			err := mesherr.New(mesherr.KindValidation,
				"router node %q has no conditional edge", name)
			commit(err)
			return "", err
		}
		label := plan.Evaluate(st)
		step.Branch = label
		next, ok := plan.Branches[label]
		if !ok {
			// Unmapped labels take the fallback transition, terminal when the
			// node had no unconditional edge.
			next = plan.Fallback
		}
		commit(nil)
		return next, nil

	default:
		err := mesherr.New(mesherr.KindNodeException,
			"node %q has unsupported kind %q", name, spec.Kind)
		commit(err)
		return "", err
	}
}

func (e *Engine) dispatchTool(ctx context.Context, st *execution.State, name string, spec workflow.NodeSpec) (*tools.Invocation, error) {
	binding, err := e.tools.Lookup(spec.Service, spec.Tool)
	if err != nil {
		return nil, err
	}

	args := make(map[string]any, len(spec.InputMapping))
	for arg, source := range spec.InputMapping {
		if literal, ok := cutLiteral(source); ok {
			args[arg] = literal
			continue
		}
		if value, ok := st.Get(source); ok {
			args[arg] = value
		}
	}

	inv, err := e.invoker.Invoke(ctx, binding, args)
	if err != nil {
		return inv, err
	}

	if len(spec.OutputMapping) == 0 {
		st.Set(name, inv.Response)
		return inv, nil
	}
	for responsePath, statePath := range spec.OutputMapping {
		if value, ok := tools.LookupPath(inv.Response, responsePath); ok {
			st.Set(statePath, value)
		}
	}
	return inv, nil
}

// dispatchComposite runs the children serially with the same state. Each
// child commits its own step; a child failure propagates to the composite.
func (e *Engine) dispatchComposite(ctx context.Context, wf *workflow.Compiled, st *execution.State, spec workflow.NodeSpec, cancel <-chan struct{}) error {
	for _, child := range spec.Children {
		if cancelled(cancel) {
			return mesherr.New(mesherr.KindCancelled, "cancel signal observed")
		}
		childSpec, ok := wf.Node(child)
		if !ok {
			return mesherr.New(mesherr.KindUnknownNode,
				"composite child %q is not in the compiled workflow", child)
		}
		if _, err := e.runNode(ctx, wf, st, child, childSpec, cancel); err != nil {
			return err
		}
	}
	return nil
}

// backoff sleeps before a retry, commits the retry marker step, and
// reports whether execution should continue. Cancellation and deadline
// interrupt the wait.
func (e *Engine) backoff(ctx context.Context, st *execution.State, node string, attempt int, cancel <-chan struct{}) bool {
	delay := e.backoffDelay(attempt)

	step := execution.StepRecord{
		NodeName:  node,
		Kind:      execution.StepRetry,
		StartedAt: time.Now().UTC(),
	}

	var interrupted *execution.ErrorRecord
	var status execution.Status

	select {
	case <-time.After(delay):
	case <-cancel:
		interrupted = &execution.ErrorRecord{
			Kind:     mesherr.KindCancelled,
			NodeName: node,
			Message:  "cancel signal observed during retry backoff",
		}
		status = execution.StatusCancelled
	case <-ctx.Done():
		interrupted = &execution.ErrorRecord{
			Kind:     mesherr.KindCancelled,
			NodeName: node,
			Message:  "context cancelled during retry backoff",
		}
		status = execution.StatusCancelled
	}

	step.FinishedAt = time.Now().UTC()
	if interrupted != nil {
		step.Outcome = execution.OutcomeError
		step.ErrorMessage = interrupted.Message
		st.AppendStep(step)
		e.terminate(st, status, *interrupted)
		return false
	}

	if st.DeadlineExceeded() {
		step.Outcome = execution.OutcomeError
		step.ErrorMessage = "execution deadline exceeded during retry backoff"
		st.AppendStep(step)
		e.terminate(st, execution.StatusTimeout, execution.ErrorRecord{
			Kind:     mesherr.KindTimeout,
			NodeName: node,
			Message:  "execution deadline exceeded during retry backoff",
		})
		return false
	}

	step.Outcome = execution.OutcomeSuccess
	st.AppendStep(step)
	return true
}

// backoffDelay computes exponential backoff with jitter: base doubled per
// attempt, capped, then spread ±20%.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	delay := e.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.backoffCap {
			delay = e.backoffCap
			break
		}
	}
	jitter := 1 - backoffJitter + 2*backoffJitter*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

func (e *Engine) terminate(st *execution.State, status execution.Status, rec execution.ErrorRecord) {
	st.AppendError(rec)
	e.terminateStatus(st, status)
}

func (e *Engine) terminateStatus(st *execution.State, status execution.Status) {
	st.Terminate(status)
	slog.Debug("Execution terminated",
		"execution_id", st.ID(), "status", status)
}

func cancelled(cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

// cutLiteral recognizes "=value" literal mappings.
func cutLiteral(source string) (string, bool) {
	if len(source) > 0 && source[0] == '=' {
		return source[1:], true
	}
	return "", false
}
