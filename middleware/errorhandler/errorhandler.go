// Package errorhandler rewrites errors coming back from the model.
package errorhandler

import (
	"context"
	"errors"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/middleware"
)

// Rewrite maps an error returned below the handler to the one callers see.
type Rewrite func(error) error

// ErrorHandler applies a Rewrite to every failed call.
type ErrorHandler struct {
	rewrite Rewrite
}

func NewErrorHandler(rewrite Rewrite) *ErrorHandler {
	return &ErrorHandler{rewrite: rewrite}
}

func (*ErrorHandler) Name() string { return "ErrorHandler" }

func (h *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err == nil || h.rewrite == nil {
		return err
	}
	return h.rewrite(err)
}

// Transient marks provider failures as TransientExternalError. The SDK
// clients retry internally, so attempts is their retry count plus one.
// Cancellation and errors that are already classified pass through.
func Transient(op string, attempts int) Rewrite {
	return func(err error) error {
		var execErr *apperr.ExecutionError
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, middleware.ErrRateLimitExceeded):
			return apperr.NewExecutionError(op, err)
		case apperr.IsTransient(err), errors.As(err, &execErr):
			return err
		}
		return &apperr.TransientExternalError{Op: op, Attempts: attempts, Err: err}
	}
}
