package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = NewError("NOT_FOUND", "resource not found")
	ErrValidation          = NewError("VALIDATION_ERROR", "validation failed")
	ErrInternal            = NewError("INTERNAL_ERROR", "internal error")
	ErrDuplicateIdentity   = NewError("DUPLICATE_IDENTITY", "duplicate rule identity")
	ErrLockPrecondition    = NewError("LOCK_PRECONDITION", "rule versions are not reconciled with the version lock")
	ErrUnknownStackVersion = NewError("UNKNOWN_SCHEMA_VERSION", "no registered schema matches the target stack version")
)

type Error struct {
	Code    string
	Message string
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match wrapped copies against the package sentinels by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	err := *e
	err.Details = details
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsDuplicateIdentity(err error) bool {
	return hasCode(err, ErrDuplicateIdentity.Code)
}

func IsLockPrecondition(err error) bool {
	return hasCode(err, ErrLockPrecondition.Code)
}

func IsUnknownStackVersion(err error) bool {
	return hasCode(err, ErrUnknownStackVersion.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
