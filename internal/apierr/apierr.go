// Package apierr defines the closed set of error kinds the core can
// surface, each bound to an HTTP status code and a snake_case wire tag,
// matching the {error, details} envelope the HTTP layer emits.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds named in the error handling design: a
// closed set, never extended by callers.
type Kind string

const (
	KindEnvironmentNotFound      Kind = "environment_not_found"
	KindInvalidFileNames         Kind = "invalid_file_names"
	KindConflictingFilenames     Kind = "conflicting_filenames"
	KindInvalidEnvVars           Kind = "invalid_env_vars"
	KindCompileLimitsExceeded    Kind = "compile_limits_exceeded"
	KindRunLimitsExceeded        Kind = "run_limits_exceeded"
	KindCompileError             Kind = "compile_error"
	KindProgramNotFound          Kind = "program_not_found"
	KindIO                       Kind = "io_error"
	KindInvalidTimeFile          Kind = "invalid_time_file"
	KindSpawn                    Kind = "spawn_error"
)

var statusByKind = map[Kind]int{
	KindEnvironmentNotFound:   http.StatusNotFound,
	KindInvalidFileNames:      http.StatusBadRequest,
	KindConflictingFilenames:  http.StatusBadRequest,
	KindInvalidEnvVars:        http.StatusBadRequest,
	KindCompileLimitsExceeded: http.StatusBadRequest,
	KindRunLimitsExceeded:     http.StatusBadRequest,
	KindCompileError:          http.StatusBadRequest,
	KindProgramNotFound:       http.StatusNotFound,
	KindIO:                    http.StatusInternalServerError,
	KindInvalidTimeFile:       http.StatusInternalServerError,
	KindSpawn:                 http.StatusInternalServerError,
}

// Error is a tagged core error: a Kind, an HTTP-facing message, and an
// optional JSON-serializable Details payload (e.g. the offending
// {name, max} list for a limits error, or a RunResult for a failed
// compile).
type Error struct {
	Kind    Kind
	Message string
	Details any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Status returns the HTTP status code bound to e.Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error of the given kind with no details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails constructs an *Error of the given kind carrying a details
// payload that will be serialized into the response envelope.
func WithDetails(kind Kind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap constructs an *Error of the given kind from an underlying cause,
// used for the two catch-all kinds (IO, Spawn) whose origin is always a
// wrapped stdlib error.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf("%s: %v", kind, cause), Wrapped: cause}
}

// As extracts an *Error from err, if present anywhere in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Envelope is the wire shape of every error response: {"error": "<kind>",
// "details": <payload>}. Details is omitted entirely when nil.
type Envelope struct {
	Error   Kind `json:"error"`
	Details any  `json:"details,omitempty"`
}

// ToEnvelope converts e into its wire representation.
func (e *Error) ToEnvelope() Envelope {
	return Envelope{Error: e.Kind, Details: e.Details}
}
