package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "NOT_FOUND"
	ErrorTypeUnknownParent   ErrorType = "UNKNOWN_PARENT"
	ErrorTypeInvalidArity    ErrorType = "INVALID_ARITY"
	ErrorTypeNonFastForward  ErrorType = "NON_FAST_FORWARD"
	ErrorTypeProtectedBranch ErrorType = "PROTECTED_BRANCH"
	ErrorTypeDuplicateBranch ErrorType = "DUPLICATE_BRANCH"
	ErrorTypePathNotFound    ErrorType = "PATH_NOT_FOUND"
	ErrorTypeValidation      ErrorType = "VALIDATION"
	ErrorTypeInternal        ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NotFound(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

func UnknownParent(id string) *Error {
	return &Error{
		Type:    ErrorTypeUnknownParent,
		Message: fmt.Sprintf("unknown parent commit: %s", id),
		Details: id,
	}
}

func InvalidArity(n int) *Error {
	return &Error{
		Type:    ErrorTypeInvalidArity,
		Message: fmt.Sprintf("commits take 0, 1 or 2 parents, got %d", n),
	}
}

func NonFastForward(branch string) *Error {
	return &Error{
		Type:    ErrorTypeNonFastForward,
		Message: fmt.Sprintf("branch %s moved, head no longer matches expected commit", branch),
		Details: branch,
	}
}

func ProtectedBranch(branch string) *Error {
	return &Error{
		Type:    ErrorTypeProtectedBranch,
		Message: fmt.Sprintf("branch %s is protected", branch),
		Details: branch,
	}
}

func DuplicateBranch(branch string) *Error {
	return &Error{
		Type:    ErrorTypeDuplicateBranch,
		Message: fmt.Sprintf("branch already exists: %s", branch),
		Details: branch,
	}
}

func PathNotFound(path string, format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypePathNotFound,
		Message: fmt.Sprintf(format, args...),
		Details: path,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

func Internal(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsType reports whether err carries the given domain error type anywhere in
// its chain.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == t
	}
	return false
}
