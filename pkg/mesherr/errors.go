// Package mesherr defines the closed set of engine-native error kinds and
// the tagged error value that carries them. Transport failures are wrapped
// into these kinds at the service client boundary so the executor and the
// API only ever see engine-native errors.
package mesherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an engine-native error class. The set is closed and
// user-visible: kinds appear verbatim in API responses and audit records.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindUnknownTemplate        Kind = "unknown_template"
	KindUnknownTool            Kind = "unknown_tool"
	KindUnknownNode            Kind = "unknown_node"
	KindUnknownCondition       Kind = "unknown_condition"
	KindCapacityExceeded       Kind = "capacity_exceeded"
	KindToolHTTP               Kind = "tool_http"
	KindToolTimeout            Kind = "tool_timeout"
	KindToolNon2xx             Kind = "tool_non_2xx"
	KindNodeException          Kind = "node_exception"
	KindCancelled              Kind = "cancelled"
	KindTimeout                Kind = "timeout"
	KindDuplicateTool          Kind = "duplicate_tool"
	KindInfiniteLoop           Kind = "infinite_loop"
	KindUnreachableNodes       Kind = "unreachable_nodes"
	KindAmbiguousTransition    Kind = "ambiguous_transition"
	KindInvalidParameterSchema Kind = "invalid_parameter_schema"
	KindInvalidDescriptor      Kind = "invalid_descriptor"
	KindMissingRequired        Kind = "missing_required"
	KindTypeMismatch           Kind = "type_mismatch"
	KindNotFound               Kind = "not_found"
	KindAlreadyTerminal        Kind = "already_terminal"
	KindUnknown                Kind = "unknown"
)

// Error is the engine's tagged error value.
type Error struct {
	Kind    Kind
	Message string
	// HTTPStatus holds the downstream status for tool_non_2xx errors.
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithStatus attaches a downstream HTTP status to the error.
func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// KindOf extracts the kind from an error chain. Errors that do not carry a
// kind report KindUnknown.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

// StatusOf extracts the downstream HTTP status from an error chain, or 0.
func StatusOf(err error) int {
	var me *Error
	if errors.As(err, &me) {
		return me.HTTPStatus
	}
	return 0
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error of this kind may be retried by the
// executor. For tool_non_2xx the downstream status decides: only the
// upstream-unavailable class (502, 503, 504) is retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindToolTimeout, KindToolHTTP:
		return true
	case KindToolNon2xx:
		switch StatusOf(err) {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	default:
		return false
	}
}

// apiStatus maps error kinds to API response status codes.
var apiStatus = map[Kind]int{
	KindValidation:             http.StatusBadRequest,
	KindUnknownTemplate:        http.StatusNotFound,
	KindUnknownTool:            http.StatusBadRequest,
	KindUnknownNode:            http.StatusBadRequest,
	KindUnknownCondition:       http.StatusBadRequest,
	KindCapacityExceeded:       http.StatusTooManyRequests,
	KindInfiniteLoop:           http.StatusBadRequest,
	KindUnreachableNodes:       http.StatusBadRequest,
	KindAmbiguousTransition:    http.StatusBadRequest,
	KindInvalidParameterSchema: http.StatusBadRequest,
	KindInvalidDescriptor:      http.StatusBadRequest,
	KindMissingRequired:        http.StatusBadRequest,
	KindTypeMismatch:           http.StatusBadRequest,
	KindDuplicateTool:          http.StatusConflict,
	KindNotFound:               http.StatusNotFound,
	KindAlreadyTerminal:        http.StatusConflict,
}

// APIStatus returns the HTTP status the public API uses to surface an error
// of the given kind. Unmapped kinds surface as 500.
func APIStatus(kind Kind) int {
	if s, ok := apiStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}
