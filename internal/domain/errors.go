package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, client-facing error identifier
type Code string

const (
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not_found"
	CodeInvalidState       Code = "invalid_state"
	CodeInsufficientFunds  Code = "insufficient_funds"
	CodeCustodyRejected    Code = "custody_rejected"
	CodeConfirmationFailed Code = "confirmation_failed"
	CodeUnrecoverable      Code = "unrecoverable"
	CodeExpired            Code = "expired"
	CodeInternal           Code = "internal"
)

// Error is the structured error returned by every engine operation
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so sentinels compare equal to wrapped copies
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Recoverable reports whether the caller may retry the same operation later
func (e *Error) Recoverable() bool {
	return e.Code == CodeInsufficientFunds
}

// NewError builds a structured error
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError attaches a cause to a structured error
func WrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

var (
	ErrRoundNotFound     = NewError(CodeNotFound, "round not found")
	ErrNotLocked         = NewError(CodeInvalidState, "stake is not locked yet")
	ErrRoundClosed       = NewError(CodeInvalidState, "round is closed")
	ErrAwaitingOpponent  = NewError(CodeInvalidState, "round is waiting for an opponent")
	ErrNotPlayer         = NewError(CodeValidation, "round belongs to another player")
	ErrInsufficientFunds = NewError(CodeInsufficientFunds, "insufficient funds")
	ErrSeedUnavailable   = NewError(CodeUnrecoverable, "server seed unavailable")
	ErrRevealNotAllowed  = NewError(CodeInvalidState, "seed can be revealed only after resolution")
	ErrRoundExpired      = NewError(CodeExpired, "round expired")
)

// CodeOf extracts the structured code of err, CodeInternal for foreign errors
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts a client-safe message for err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Validationf is a shorthand for validation errors
func Validationf(format string, args ...any) *Error {
	return NewError(CodeValidation, fmt.Sprintf(format, args...))
}
