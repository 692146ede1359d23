// Package apperr defines the coded error taxonomy shared by the workflow
// engine, the stores and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for retry and presentation decisions.
type Code string

const (
	CodeTransient       Code = "TRANSIENT"
	CodeExtractionParse Code = "EXTRACTION_PARSE"
	CodeValidation      Code = "VALIDATION"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeRequiredStep    Code = "REQUIRED_STEP"
)

// Error is a coded error that optionally wraps a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinel values below can
// be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a coded error around a cause. A nil cause yields nil.
func Wrap(code Code, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrTransient    = &Error{Code: CodeTransient}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrConflict     = &Error{Code: CodeConflict}
	ErrValidation   = &Error{Code: CodeValidation}
	ErrUnauthorized = &Error{Code: CodeUnauthorized}
	ErrForbidden    = &Error{Code: CodeForbidden}
)

// Transient marks err as retryable.
func Transient(err error) error {
	return Wrap(CodeTransient, "transient failure", err)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err, or anything it wraps, is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
