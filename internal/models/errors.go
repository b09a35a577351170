package models

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced to clients.
type ErrorCode int

const (
	CodeInternal ErrorCode = iota
	CodeValidation
	CodeAttachment
	CodeNotFound
	CodeUnauthorized
	CodeRateLimited
	CodeProtocol
	CodeUnavailable
)

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	switch c {
	case CodeValidation:
		return "validation_error"
	case CodeAttachment:
		return "attachment_error"
	case CodeNotFound:
		return "not_found"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeRateLimited:
		return "rate_limited"
	case CodeProtocol:
		return "protocol_error"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation   = &Error{Code: CodeValidation}
	ErrAttachment   = &Error{Code: CodeAttachment}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrUnauthorized = &Error{Code: CodeUnauthorized}
	ErrRateLimited  = &Error{Code: CodeRateLimited}
	ErrUnavailable  = &Error{Code: CodeUnavailable}
)

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// CodeOf extracts the code of err, CodeInternal when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message of err. Internal errors are not exposed.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal server error"
}
