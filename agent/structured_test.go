package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetpotato0/paper-survey/message"
)

type verdict struct {
	Accepted bool   `json:"accepted"`
	Feedback string `json:"feedback"`
}

func TestParseVariants(t *testing.T) {
	cases := map[string]string{
		"plain":  `{"accepted": true, "feedback": "ok"}`,
		"fenced": "```json\n{\"accepted\": true, \"feedback\": \"ok\"}\n```",
		"prose":  "Sure! Here is my verdict: {\"accepted\": true, \"feedback\": \"ok\"} Thanks.",
	}
	for name, raw := range cases {
		got := Parse[verdict](raw)
		if !got.OK() || !got.Value.Accepted || got.Value.Feedback != "ok" {
			t.Errorf("%s: unexpected result %+v", name, got)
		}
	}
}

func TestParseSchemaError(t *testing.T) {
	got := Parse[verdict]("I think it is fine")
	if got.Kind != KindSchemaError || got.Raw != "I think it is fine" || got.Err == nil {
		t.Fatalf("expected schema error, got %+v", got)
	}
	if got.Kind.String() != "schema_error" {
		t.Fatalf("unexpected kind string %q", got.Kind)
	}
	fallback := verdict{Accepted: true}
	if got.Or(fallback) != fallback {
		t.Fatal("Or should return the fallback on schema errors")
	}

	if bad := Parse[verdict](`{"accepted": "maybe"}`); bad.OK() {
		t.Fatal("type mismatch should be a schema error")
	}
}

func TestDecodePassesSchemaAndSeparatesTransportErrors(t *testing.T) {
	var gotSchema *Schema
	llm := LLMFunc(func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
		gotSchema = req.Schema
		return &GenerateResponse{Message: message.NewMessage(message.RoleAssistant, `{"accepted": false, "feedback": "more detail"}`)}, nil
	})
	schema := &Schema{Name: "verdict"}
	res, err := Decode[verdict](context.Background(), llm, nil, schema)
	if err != nil || !res.OK() || res.Value.Feedback != "more detail" {
		t.Fatalf("unexpected decode result %+v, %v", res, err)
	}
	if gotSchema != schema {
		t.Fatal("schema should be forwarded to the provider")
	}

	boom := errors.New("timeout")
	failing := LLMFunc(func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
		return nil, boom
	})
	if _, err := Decode[verdict](context.Background(), failing, nil, nil); !errors.Is(err, boom) {
		t.Fatalf("transport error should be returned, got %v", err)
	}
}
