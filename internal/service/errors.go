package service

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrInvalidInput ErrorType = iota
	ErrProfileNotFound
	ErrFetch
	ErrTransform
	ErrNoFilesProcessed
	ErrArchive
	ErrCancelled
	ErrUnknown
)

// Error is a pipeline failure. Error() is the human readable reason recorded on the job;
// Detail() adds context and cause for logs.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Detail() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorKind names the failure class; the job queue records it next to the message.
func (e *Error) ErrorKind() string {
	return e.Type.String()
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrInvalidInput:
		return "InvalidInput"
	case ErrProfileNotFound:
		return "ProfileNotFound"
	case ErrFetch:
		return "FetchError"
	case ErrTransform:
		return "TransformError"
	case ErrNoFilesProcessed:
		return "NoFilesProcessed"
	case ErrArchive:
		return "ArchiveError"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	return NewErrorWithCause(errorType, message, err)
}

// SafeExecute runs fn and turns a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
