package contact

import (
	"errors"
	"fmt"
)

// Error represents a failure reported by any rolodex write or read.
//
// Errors carry a Code so callers can branch on the category without string
// matching. Wrapped errors are supported: use the IsXxx helpers or errors.Is
// against the sentinel values below.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ContactID identifies the offending contact, when there is one.
	ContactID ID

	// Err is the underlying cause (storage errors).
	Err error
}

// ErrorCode categorizes rolodex errors.
type ErrorCode string

const (
	// CodeConstraintViolation indicates a write would break a data invariant.
	CodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"

	// CodeNotModifiable indicates an aggregate edit targets a read-only
	// source detail.
	CodeNotModifiable ErrorCode = "NOT_MODIFIABLE"

	// CodeBatchOriginMismatch indicates a batch mixed contacts of different
	// origins.
	CodeBatchOriginMismatch ErrorCode = "BATCH_ORIGIN_MISMATCH"

	// CodeNotFound indicates a referenced contact or relationship is missing.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeStorageUnavailable indicates the database could not be opened or
	// a transaction could not be started.
	CodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrConstraintViolation = &Error{Code: CodeConstraintViolation}
	ErrNotModifiable       = &Error{Code: CodeNotModifiable}
	ErrBatchOriginMismatch = &Error{Code: CodeBatchOriginMismatch}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrStorageUnavailable  = &Error{Code: CodeStorageUnavailable}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.ContactID != 0 {
		msg = fmt.Sprintf("%s (contact=%d)", msg, e.ContactID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsConstraintViolation returns true if err is a constraint violation.
// Uses errors.As to handle wrapped errors.
func IsConstraintViolation(err error) bool {
	return CodeOf(err) == CodeConstraintViolation
}

// IsNotModifiable returns true if err is a NotModifiable error.
func IsNotModifiable(err error) bool {
	return CodeOf(err) == CodeNotModifiable
}

// IsBatchOriginMismatch returns true if err is a BatchOriginMismatch error.
func IsBatchOriginMismatch(err error) bool {
	return CodeOf(err) == CodeBatchOriginMismatch
}

// IsNotFound returns true if err is a NotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsStorageUnavailable returns true if err is a StorageUnavailable error.
func IsStorageUnavailable(err error) bool {
	return CodeOf(err) == CodeStorageUnavailable
}

// NewConstraintViolation creates an Error for a broken invariant.
func NewConstraintViolation(id ID, format string, args ...any) *Error {
	return &Error{
		Code:      CodeConstraintViolation,
		Message:   fmt.Sprintf(format, args...),
		ContactID: id,
	}
}

// NewNotModifiable creates an Error for an edit of a read-only detail.
func NewNotModifiable(id ID, detailType DetailType) *Error {
	return &Error{
		Code:      CodeNotModifiable,
		Message:   fmt.Sprintf("%s detail is not modifiable", detailType),
		ContactID: id,
	}
}

// NewNotFound creates an Error for a missing contact.
func NewNotFound(id ID) *Error {
	return &Error{
		Code:      CodeNotFound,
		Message:   "contact does not exist",
		ContactID: id,
	}
}

// NewStorageUnavailable wraps a storage failure.
func NewStorageUnavailable(op string, err error) *Error {
	return &Error{
		Code:    CodeStorageUnavailable,
		Message: op,
		Err:     err,
	}
}
