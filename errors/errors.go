package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Stage indicates where in processing the error occurred
type Stage string

const (
	StageLoad      Stage = "load"      // engine module loading
	StageSession   Stage = "session"   // session lifecycle
	StageNamespace Stage = "namespace" // virtual namespace operations
	StageEntry     Stage = "entry"     // entry operations against the engine
	StageDialog    Stage = "dialog"    // dialog interception
	StageTransport Stage = "transport" // request decoding and response assembly
)

// Kind categorizes the error
type Kind string

const (
	KindNotInitialized  Kind = "not_initialized"
	KindSessionNotFound Kind = "session_not_found"
	KindSessionExists   Kind = "session_exists"
	KindAppNotLoaded    Kind = "app_not_loaded"
	KindEntryNotStarted Kind = "entry_not_started"
	KindOperationFailed Kind = "operation_failed"
	KindEngineTrap      Kind = "engine_trap"
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindCleanup         Kind = "cleanup"
)

// Error is the structured error type used throughout the server
type Error struct {
	Cause     error
	Stage     Stage
	Kind      Kind
	SessionID string
	Operation string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Stage))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.SessionID != "" {
		b.WriteString(" session=")
		b.WriteString(e.SessionID)
	}

	if e.Operation != "" {
		b.WriteString(" op=")
		b.WriteString(e.Operation)
	}

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
		return e.Stage == t.Stage && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(stage Stage, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Stage: stage,
			Kind:  kind,
		},
	}
}

// Session sets the session id
func (b *Builder) Session(id string) *Builder {
	b.err.SessionID = id
	return b
}

// Op sets the operation name
func (b *Builder) Op(name string) *Builder {
	b.err.Operation = name
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

// NotInitialized creates a not-initialized error for a missing runtime component
func NotInitialized(component string) *Error {
	return &Error{
		Stage:  StageLoad,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// SessionNotFound creates an unknown-session error
func SessionNotFound(id string) *Error {
	return &Error{
		Stage:     StageSession,
		Kind:      KindSessionNotFound,
		SessionID: id,
		Detail:    "session not found",
	}
}

// SessionExists creates a colliding-session error
func SessionExists(id string) *Error {
	return &Error{
		Stage:     StageSession,
		Kind:      KindSessionExists,
		SessionID: id,
		Detail:    "session already exists",
	}
}

// AppNotLoaded creates an error for operations requiring a loaded application
func AppNotLoaded(id string) *Error {
	return &Error{
		Stage:     StageEntry,
		Kind:      KindAppNotLoaded,
		SessionID: id,
		Detail:    "no application loaded",
	}
}

// EntryNotStarted creates an error for operations requiring active entry
func EntryNotStarted(id, op string) *Error {
	return &Error{
		Stage:     StageEntry,
		Kind:      KindEntryNotStarted,
		SessionID: id,
		Operation: op,
		Detail:    "entry has not been started",
	}
}

// OperationFailed creates an error for a boolean-false engine outcome
func OperationFailed(id, op, detail string) *Error {
	return &Error{
		Stage:     StageEntry,
		Kind:      KindOperationFailed,
		SessionID: id,
		Operation: op,
		Detail:    detail,
	}
}

// EngineTrap creates an error for a trap or crash crossing the engine boundary
func EngineTrap(id, op string, cause error) *Error {
	return &Error{
		Stage:     StageEntry,
		Kind:      KindEngineTrap,
		SessionID: id,
		Operation: op,
		Detail:    "engine call failed",
		Cause:     cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(stage Stage, detail string) *Error {
	return &Error{
		Stage:  stage,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(stage Stage, what, name string) *Error {
	return &Error{
		Stage:  stage,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unauthorized creates an access-token rejection error
func Unauthorized(detail string) *Error {
	return &Error{
		Stage:  StageTransport,
		Kind:   KindUnauthorized,
		Detail: detail,
	}
}

// Cleanup creates a teardown error. Cleanup errors are logged and swallowed,
// never surfaced to the caller.
func Cleanup(id, what string, cause error) *Error {
	return &Error{
		Stage:     StageSession,
		Kind:      KindCleanup,
		SessionID: id,
		Detail:    what,
		Cause:     cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Stage:  StageLoad,
		Kind:   KindOperationFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(stage Stage, kind Kind, cause error, detail string) *Error {
	return &Error{
		Stage:  stage,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Is delegates to the standard library so callers shadowing this package
// keep chain matching.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As delegates to the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// KindOf returns the Kind of the first structured error in the chain, or ""
// if there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf returns the Stage of the first structured error in the chain, or
// "" if there is none.
func StageOf(err error) Stage {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Stage
	}
	return ""
}
