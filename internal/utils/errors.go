package utils

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the observer. None of these is fatal to the process.
var (
	// ErrBackendUnavailable signals the metrics backend was unreachable or returned malformed data.
	ErrBackendUnavailable = errors.New("metrics backend unavailable")
	// ErrDiagnosisUnavailable signals every reasoning backend failed for an event.
	ErrDiagnosisUnavailable = errors.New("diagnosis unavailable")
	// ErrCommandNotAllowed signals a remediation step outside the allowlist.
	ErrCommandNotAllowed = errors.New("command not allowed")
	// ErrExecutionFailure signals an allowlisted command that errored or exited non-zero.
	ErrExecutionFailure = errors.New("remediation execution failed")
	// ErrVerificationFailed signals the target was still degraded after stabilization.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrRemediationThrottled signals the remediation rate budget is exhausted.
	ErrRemediationThrottled = errors.New("remediation throttled")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Classify returns the taxonomy error matched by err, or nil.
func Classify(err error) error {
	for _, target := range []error{
		ErrBackendUnavailable,
		ErrDiagnosisUnavailable,
		ErrCommandNotAllowed,
		ErrRemediationThrottled,
		ErrExecutionFailure,
		ErrVerificationFailed,
	} {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}
