package usecase

import "fmt"

type ErrorCode string

const (
	ErrorValidationIncomplete ErrorCode = "VALIDATION_INCOMPLETE"
	ErrorAdviceRequestFailed  ErrorCode = "ADVICE_REQUEST_FAILED"
	ErrorInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrorSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	ErrorSessionBusy          ErrorCode = "SESSION_BUSY"
	ErrorInternal             ErrorCode = "INTERNAL_ERROR"
)

// Error is the flat error type returned by the use cases. Reason is a
// machine-readable detail meant for logs, never for the end user.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
