// Package errors provides structured error types for the lantern runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type carries a detail message, an optional
// offending value, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhasePayload, errors.KindCorruptPayload).
//		Detail("checksum mismatch at offset %d", off).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AlreadyPatched("app.wasm")
//	err := errors.UnsupportedFormat(errors.PhasePayload, 9)
//
// All errors implement the standard error interface and support
// errors.Is/As. Two *Error values match under errors.Is when their Phase
// and Kind are equal, so sentinel matching works without exported
// variables:
//
//	errors.Is(err, &errors.Error{Phase: errors.PhasePatch, Kind: errors.KindAlreadyPatched})
//
// Note that a missing payload is deliberately NOT an error anywhere in
// lantern: absence of a trailer is the normal state of a non-patched
// binary.
package errors
