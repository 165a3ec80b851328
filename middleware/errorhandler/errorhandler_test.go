package errorhandler

import (
	"context"
	"errors"
	"testing"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/middleware"
)

func TestErrorHandler(t *testing.T) {
	t.Run("catches error from next middleware", func(t *testing.T) {
		caught := false
		handler := NewErrorHandler(func(err error) error {
			caught = true
			return nil
		})
		err := handler.Execute(&middleware.Context{}, func(c *middleware.Context) error {
			return errors.New("test error")
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !caught {
			t.Error("error was not caught")
		}
	})

	t.Run("passes through success", func(t *testing.T) {
		handler := NewErrorHandler(func(err error) error {
			t.Error("handler should not be called")
			return err
		})
		if err := handler.Execute(&middleware.Context{}, func(*middleware.Context) error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestTransient(t *testing.T) {
	classify := Transient("llm", 3)

	err := classify(errors.New("502 bad gateway"))
	var transient *apperr.TransientExternalError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientExternalError, got %T", err)
	}
	if transient.Attempts != 3 || transient.Op != "llm" {
		t.Errorf("unexpected error fields %+v", transient)
	}

	if err := classify(context.Canceled); !errors.Is(err, context.Canceled) || apperr.IsTransient(err) {
		t.Errorf("cancellation should pass through, got %v", err)
	}
	if err := classify(middleware.ErrRateLimitExceeded); !apperr.IsFatal(err) {
		t.Errorf("exhausted budget should be fatal, got %v", err)
	}
	already := &apperr.TransientExternalError{Op: "x", Attempts: 1, Err: errors.New("y")}
	if err := classify(already); err != already {
		t.Errorf("classified error should be returned as is, got %v", err)
	}
}
