// Package errs defines Sydney's error taxonomy.
//
// Every expected failure condition raised anywhere in the engine is a
// *SydneyError carrying a Kind from this package, wrapped with the
// operation that raised it and (optionally) an underlying cause. Callers
// use errors.Is against the sentinel Kind values and errors.As to recover
// the *SydneyError for operation/cause detail.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the error handling design.
type Kind string

const (
	BadArgument          Kind = "bad_argument"
	Canceled             Kind = "canceled"
	LockTimeout          Kind = "lock_timeout"
	LogItemCorrupted     Kind = "log_item_corrupted"
	LogFileCorrupted     Kind = "log_file_corrupted"
	VerifyAborted        Kind = "verify_aborted"
	DatabaseAlreadyDefined Kind = "database_already_defined"
	DatabaseNotFound     Kind = "database_not_found"
	DatabaseNotAvailable Kind = "database_not_available"
	InvalidPath          Kind = "invalid_path"
	RoleNotFound         Kind = "role_not_found"
	TemporaryDatabase    Kind = "temporary_database"
	NotSupported         Kind = "not_supported"
	Unexpected           Kind = "unexpected"

	// UndefinedDocumentID is raised when a small-doc-id has no big-doc-id
	// mapping in its expunge-id vector.
	UndefinedDocumentID Kind = "undefined_document_id"
	// InaccurateRowid is raised by verify's row-id consistency check.
	InaccurateRowid Kind = "inaccurate_rowid"
)

// SydneyError is the concrete error type for every named Kind.
type SydneyError struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *SydneyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *SydneyError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, SomeKind-shaped sentinel) by comparing Kind,
// so callers can do errors.Is(err, errs.New(errs.DatabaseNotFound, "", nil)).
func (e *SydneyError) Is(target error) bool {
	var se *SydneyError
	if errors.As(target, &se) {
		return se.Kind == e.Kind
	}
	return false
}

// New constructs a SydneyError for the given kind and operation, optionally
// wrapping a lower-level cause.
func New(kind Kind, op string, cause error) *SydneyError {
	return &SydneyError{Kind: kind, Op: op, Cause: cause}
}

// Of reports whether err is a SydneyError of the given kind.
func Of(err error, kind Kind) bool {
	var se *SydneyError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
