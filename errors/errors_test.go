package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFatalOnlyForExecutionErrors(t *testing.T) {
	fatal := fmt.Errorf("agent: %w", NewExecutionError("agent loop", ErrMaxIterations))
	if !IsFatal(fatal) {
		t.Fatal("wrapped execution error should be fatal")
	}
	if !errors.Is(fatal, ErrMaxIterations) {
		t.Fatal("execution error should unwrap to its cause")
	}

	for _, err := range []error{
		&UnitFailure{Index: 2, Err: errors.New("boom")},
		&TransientExternalError{Op: "fetch", Attempts: 5, Err: errors.New("503")},
		&MalformedResponseError{Raw: "{", Err: errors.New("eof")},
		nil,
	} {
		if IsFatal(err) {
			t.Fatalf("%v should not be fatal", err)
		}
	}
}

func TestTransientError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &UnitFailure{Index: 0, Err: &TransientExternalError{Op: "fetch", Attempts: 5, Err: cause}}
	if !IsTransient(err) {
		t.Fatal("expected transient error in chain")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if got := err.Error(); got != "unit 0: fetch failed after 5 attempt(s): connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
}
