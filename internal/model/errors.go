package model

import (
	"errors"
	"fmt"
)

// Engine error codes. The surrounding API layer maps these to user-facing
// responses; the engine itself never retries anything but version conflicts.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeTemplateInactive  = "TEMPLATE_INACTIVE"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeUnprocessableStep = "UNPROCESSABLE_STEP"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
)

// Error is a coded engine error. It implements the error interface and
// wraps an optional cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewTemplateInactiveError returns a TEMPLATE_INACTIVE error.
func NewTemplateInactiveError(templateID string) *Error {
	return &Error{Code: CodeTemplateInactive, Message: fmt.Sprintf("workflow template %s is not active", templateID)}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidArgumentError returns an INVALID_ARGUMENT error.
func NewInvalidArgumentError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewUnprocessableStepError returns an UNPROCESSABLE_STEP error naming the
// step that could not be staffed.
func NewUnprocessableStepError(instanceID string, stepOrder int) *Error {
	return &Error{
		Code:    CodeUnprocessableStep,
		Message: fmt.Sprintf("no eligible approvers for step %d of workflow %s", stepOrder, instanceID),
	}
}
