package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Error classes surfaced by the upload, dispatch and tracking layers
	ErrValidation     = fmt.Errorf("validation failed")
	ErrTransport      = fmt.Errorf("transport failure")
	ErrServerRejected = fmt.Errorf("server rejected request")
	ErrTaskFailed     = fmt.Errorf("task failed")

	// Tracking errors
	ErrProtocolViolation = fmt.Errorf("protocol violation")
	ErrTaskCancelled     = fmt.Errorf("task cancelled")
	ErrAlreadyTracked    = fmt.Errorf("task already tracked")
	ErrTaskNotCompleted  = fmt.Errorf("task not completed")
	ErrTrackingStopped   = fmt.Errorf("tracking stopped")

	// API and service errors
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrFileNotFound       = fmt.Errorf("file not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ValidationError reports a parameter that failed local checks. It is never sent over the wire.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a [ValidationError] with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a network, timeout or connection failure for the named operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrTransport, e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
func (e *TransportError) Unwrap() error        { return e.Err }

// ServerRejectedError carries a structured rejection from the backend.
//
// Detail is the backend's "detail" field verbatim when one was sent.
type ServerRejectedError struct {
	StatusCode int
	Detail     string
}

func (e *ServerRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (status %d)", ErrServerRejected, e.StatusCode)
	}
	return e.Detail
}

func (e *ServerRejectedError) Is(target error) bool {
	if target == ErrServerRejected {
		return true
	}
	return target == ErrFileNotFound && e.StatusCode == 404
}

// TaskFailedError means submission and transport succeeded but the remote computation failed.
type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrTaskFailed, e.TaskID, e.Reason)
}

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// IsRetryable reports whether resubmitting the same request could succeed.
//
// Validation errors need corrected parameters first; everything else came from the remote side.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation)
}

// UserMessage returns the text a view layer should show for err.
func UserMessage(err error) string {
	var rejected *ServerRejectedError
	var failed *TaskFailedError
	var invalid *ValidationError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return invalid.Reason
	case errors.As(err, &rejected):
		if rejected.Detail != "" {
			return rejected.Detail
		}
		return fmt.Sprintf("Request rejected (status %d)", rejected.StatusCode)
	case errors.As(err, &failed):
		return failed.Reason
	case errors.Is(err, ErrTransport):
		return "Could not reach the server. Please try again."
	default:
		return err.Error()
	}
}
