package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhasePayload   Phase = "payload"   // trailer encoding/scanning
	PhasePatch     Phase = "patch"     // standalone binary construction
	PhaseBootstrap Phase = "bootstrap" // startup self-inspection
	PhaseReactor   Phase = "reactor"   // event multiplexing
	PhaseSched     Phase = "sched"     // task scheduling
	PhaseEngine    Phase = "engine"    // program loading/execution
	PhaseRun       Phase = "run"       // top-level orchestration
	PhaseConfig    Phase = "config"    // lantern.toml loading
)

// Kind categorizes the error
type Kind string

const (
	KindCorruptPayload    Kind = "corrupt_payload"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindAlreadyPatched    Kind = "already_patched"
	KindTooLarge          Kind = "too_large"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindCancelled         Kind = "cancelled"
	KindTaskFailed        Kind = "task_failed"
	KindIOFailure         Kind = "io_failure"
	KindNotFound          Kind = "not_found"
	KindClosed            Kind = "closed"
)

// Error is the structured error type used throughout lantern
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// CorruptPayload creates a corrupt-payload error. The sentinel was
// present but the block failed validation.
func CorruptPayload(detail string, cause error) *Error {
	return &Error{
		Phase:  PhasePayload,
		Kind:   KindCorruptPayload,
		Detail: detail,
		Cause:  cause,
	}
}

// UnsupportedFormat creates an error for a bytecode format tag outside
// the supported set.
func UnsupportedFormat(phase Phase, format uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupportedFormat,
		Detail: fmt.Sprintf("bytecode format %d is not supported", format),
		Value:  format,
	}
}

// AlreadyPatched creates an error for a reference image that already
// carries a payload.
func AlreadyPatched(source string) *Error {
	return &Error{
		Phase:  PhasePatch,
		Kind:   KindAlreadyPatched,
		Detail: fmt.Sprintf("reference image already contains a payload (source %q)", source),
	}
}

// TooLarge creates an error for an image or body exceeding the trailer
// offset scheme.
func TooLarge(phase Phase, what string, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTooLarge,
		Detail: fmt.Sprintf("%s is too large (%d bytes)", what, size),
		Value:  size,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Cancelled creates a cancellation error scoped to the named operation
func Cancelled(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCancelled,
		Detail: what,
	}
}

// TaskFailed wraps an error raised during task execution
func TaskFailed(task string, cause error) *Error {
	return &Error{
		Phase:  PhaseSched,
		Kind:   KindTaskFailed,
		Detail: fmt.Sprintf("task %q failed", task),
		Cause:  cause,
	}
}

// IOFailure wraps an underlying I/O facility failure
func IOFailure(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIOFailure,
		Detail: what,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Closed creates an error for operations against a closed component
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Load creates a program loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
