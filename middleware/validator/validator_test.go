package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetpotato0/paper-survey/agent"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/middleware"
)

func TestInputValidator(t *testing.T) {
	v := NewInputValidator(RequireMessages)

	t.Run("valid request passes through", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), &agent.GenerateRequest{
			Messages: []*message.Message{message.NewMessage(message.RoleUser, "hi")},
		})
		called := false
		if err := v.Execute(ctx, func(*middleware.Context) error { called = true; return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !called {
			t.Error("next was not called")
		}
	})

	t.Run("empty request is rejected", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), &agent.GenerateRequest{})
		err := v.Execute(ctx, func(*middleware.Context) error {
			t.Error("next should not be called")
			return nil
		})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("nil message is rejected", func(t *testing.T) {
		if err := RequireMessages(&agent.GenerateRequest{Messages: []*message.Message{nil}}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestResponseFilter(t *testing.T) {
	f := NewResponseFilter(RequireMessage)

	err := f.Execute(&middleware.Context{}, func(c *middleware.Context) error {
		c.Response = &agent.GenerateResponse{}
		return nil
	})
	var malformed *apperr.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Errorf("expected MalformedResponseError, got %v", err)
	}

	err = f.Execute(&middleware.Context{}, func(c *middleware.Context) error {
		c.Response = &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, "ok")}
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	upstream := errors.New("upstream")
	if err := f.Execute(&middleware.Context{}, func(*middleware.Context) error { return upstream }); err != upstream {
		t.Errorf("upstream error should pass through, got %v", err)
	}
}
