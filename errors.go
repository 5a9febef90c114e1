package bxfile

import (
	"errors"
	"fmt"
)

// Error is a tagged-variant error: every failure this engine reports
// carries one of the ErrorCode kinds below rather than a distinct Go
// type per failure, matching the "tagged variants, not inheritance"
// error design the engine specifies.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped lower-layer error, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bxfile: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("bxfile: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode enumerates the failure kinds an operation can report.
type ErrorCode int

const (
	// Success indicates no error.
	Success ErrorCode = iota

	// ErrBadArgument: request violates a documented precondition (wrong
	// field count, unknown page/area id under non-sub-file semantics).
	ErrBadArgument

	// ErrOutOfSpace: an area cannot be allocated even after compaction.
	ErrOutOfSpace

	// ErrUniquenessViolation: insert would duplicate an existing
	// non-tombstoned key on a unique index.
	ErrUniquenessViolation

	// ErrNullabilityViolation: NULL supplied for a non-nullable field
	// (Simple variant only).
	ErrNullabilityViolation

	// ErrIntegrityViolation: verify() found a structural inconsistency.
	ErrIntegrityViolation

	// ErrVerifyInconsistent: verify() found an inconsistency it cannot
	// repair (file-header vs. table-header counts disagree).
	ErrVerifyInconsistent

	// ErrVerifyCorrected: verify() found and repaired an inconsistency
	// (an area-manage table rebuilt from its pages).
	ErrVerifyCorrected

	// ErrCancel: operation aborted cooperatively via a cancellation flag.
	ErrCancel

	// ErrUnexpected: an internal invariant was violated; callers should
	// treat this as fatal.
	ErrUnexpected

	// ErrFileManipulateError: a lower-layer (buffer pool) failure was
	// caught and re-thrown.
	ErrFileManipulateError

	// ErrNotFound: the requested key/area/page does not exist.
	ErrNotFound

	// ErrNoFreePage: the allocator's fast-path free-page search found
	// no candidate; this is an expected, best-effort outcome, not a
	// fault — see AreaFile.SearchFreePage.
	ErrNoFreePage
)

var errorMessages = map[ErrorCode]string{
	Success:                 "success",
	ErrBadArgument:          "request violates a documented precondition",
	ErrOutOfSpace:           "area cannot be allocated even after compaction",
	ErrUniquenessViolation:  "insert duplicates an existing key on a unique index",
	ErrNullabilityViolation: "NULL supplied for a non-nullable field",
	ErrIntegrityViolation:   "structural inconsistency detected",
	ErrVerifyInconsistent:   "inconsistency detected and not repairable",
	ErrVerifyCorrected:      "inconsistency detected and repaired",
	ErrCancel:               "operation cancelled",
	ErrUnexpected:           "internal invariant violated",
	ErrFileManipulateError:  "lower-layer file manipulation failed",
	ErrNotFound:             "key/area/page not found",
	ErrNoFreePage:           "no free page satisfying the request was found",
}

// NewError builds an Error carrying code with its default message.
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// WrapError builds an Error carrying code that wraps a lower-layer error.
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code extracts the ErrorCode from err, or Success if err is nil, or
// ErrUnexpected if err is not one of this package's tagged errors.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnexpected
}

var (
	errOutOfSpace    = NewError(ErrOutOfSpace)
	errNotFound      = NewError(ErrNotFound)
	errNoFreePage    = NewError(ErrNoFreePage)
	errUnexpected    = NewError(ErrUnexpected)
	errBadArgument   = NewError(ErrBadArgument)
	errUniqueViolate = NewError(ErrUniquenessViolation)
	errNullViolate   = NewError(ErrNullabilityViolation)
	errCancelled     = NewError(ErrCancel)
)
