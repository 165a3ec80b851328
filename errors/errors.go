package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrMaxIterations indicates the tool loop hit its iteration ceiling
	ErrMaxIterations = errors.New("max iterations reached")

	// ErrInvalidConcurrency indicates a pool was asked to run with a non-positive ceiling
	ErrInvalidConcurrency = errors.New("max concurrency must be positive")

	// ErrMaxSteps indicates the workflow driver exceeded its step budget
	ErrMaxSteps = errors.New("workflow step budget exhausted")
)

// TransientExternalError records a network or service failure that survived
// every retry attempt. It is demoted to a per-unit failure by callers.
type TransientExternalError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// UnitFailure is the error stored in a pool result slot.
type UnitFailure struct {
	Index int
	Err   error
}

func (e *UnitFailure) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Index, e.Err)
}

func (e *UnitFailure) Unwrap() error { return e.Err }

// MalformedResponseError means model output could not be decoded into the
// requested schema. Raw holds the text that was received.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ExecutionError marks a ceiling violation or invalid configuration.
// It is the only error class that aborts a workflow run.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error in %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err as an ExecutionError for op.
func NewExecutionError(op string, err error) error {
	return &ExecutionError{Op: op, Err: err}
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}

// IsTransient reports whether err carries a TransientExternalError.
func IsTransient(err error) bool {
	var transient *TransientExternalError
	return errors.As(err, &transient)
}
