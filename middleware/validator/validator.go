// Package validator checks model requests before they are sent and
// responses before they reach the caller.
package validator

import (
	"errors"
	"fmt"

	"github.com/sweetpotato0/paper-survey/agent"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/middleware"
)

type (
	RequestCheck  func(*agent.GenerateRequest) error
	ResponseCheck func(*agent.GenerateResponse) error
)

// InputValidator refuses to call the provider when check fails.
type InputValidator struct {
	check RequestCheck
}

func NewInputValidator(check RequestCheck) *InputValidator {
	return &InputValidator{check: check}
}

func (*InputValidator) Name() string { return "InputValidator" }

func (v *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if v.check == nil {
		return next(ctx)
	}
	if err := v.check(ctx.Request); err != nil {
		return err
	}
	return next(ctx)
}

// ResponseFilter runs check on a successful response. Provider errors are
// returned untouched.
type ResponseFilter struct {
	check ResponseCheck
}

func NewResponseFilter(check ResponseCheck) *ResponseFilter {
	return &ResponseFilter{check: check}
}

func (*ResponseFilter) Name() string { return "ResponseFilter" }

func (f *ResponseFilter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if err := next(ctx); err != nil || f.check == nil {
		return err
	}
	return f.check(ctx.Response)
}

// RequireMessages rejects an empty history or one with nil entries.
func RequireMessages(req *agent.GenerateRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return fmt.Errorf("%w: request has no messages", apperr.ErrInvalidInput)
	}
	for i := range req.Messages {
		if req.Messages[i] == nil {
			return fmt.Errorf("%w: message %d is nil", apperr.ErrInvalidInput, i)
		}
	}
	return nil
}

// RequireMessage rejects a response without an assistant message.
func RequireMessage(resp *agent.GenerateResponse) error {
	if resp != nil && resp.Message != nil {
		return nil
	}
	return &apperr.MalformedResponseError{Err: errors.New("provider returned no message")}
}
