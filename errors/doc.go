// Package errors provides structured error types for the entry server.
//
// Errors are categorized by Stage (where the error occurred) and Kind (error
// category). The Error type includes context: session id, operation name,
// detail message and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.StageEntry, errors.KindEntryNotStarted).
//		Session("a1b2").
//		Op("advanceField").
//		Detail("entry has not been started").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SessionNotFound("a1b2")
//	err := errors.NotInitialized("engine runtime")
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Stage and Kind, so sentinel comparisons like
//
//	errors.Is(err, errors.SessionNotFound(""))
//
// hold regardless of the ids and details carried by the concrete error.
package errors
