package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
)

// Kind tags a structured decode outcome.
type Kind int

const (
	// KindOk means Value holds a decoded record.
	KindOk Kind = iota
	// KindSchemaError means the reply did not match the schema; Raw holds it.
	KindSchemaError
)

func (k Kind) String() string {
	if k == KindOk {
		return "ok"
	}
	return "schema_error"
}

// Structured is the result of asking the model for a schema-shaped value.
// Callers switch on Kind and supply their own fallback for schema errors.
type Structured[T any] struct {
	Kind  Kind
	Value T
	Raw   string
	Err   *apperr.MalformedResponseError
}

// OK reports whether Value is usable.
func (s Structured[T]) OK() bool { return s.Kind == KindOk }

// Or returns Value when decoding succeeded and fallback otherwise.
func (s Structured[T]) Or(fallback T) T {
	if s.Kind == KindOk {
		return s.Value
	}
	return fallback
}

// Decode asks llm for a value of type T. The returned error is reserved for
// transport failures; malformed output is reported through Kind.
func Decode[T any](ctx context.Context, llm LLMClient, messages []*message.Message, schema *Schema) (Structured[T], error) {
	if llm == nil {
		return Structured[T]{}, fmt.Errorf("structured output: LLM is not configured")
	}
	resp, err := llm.Generate(ctx, &GenerateRequest{Messages: messages, Schema: schema})
	if err != nil {
		return Structured[T]{}, err
	}
	if resp == nil || resp.Message == nil {
		return schemaError[T]("", errors.New("empty response")), nil
	}
	return Parse[T](resp.Message.Content), nil
}

// Parse decodes raw model output into T after stripping code fences and any
// prose around the outermost JSON value.
func Parse[T any](raw string) Structured[T] {
	clean := sanitizeJSON(raw)
	if clean == "" {
		return schemaError[T](raw, errors.New("no JSON value found"))
	}
	var out T
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return schemaError[T](raw, fmt.Errorf("decode JSON: %w", err))
	}
	return Structured[T]{Kind: KindOk, Value: out, Raw: raw}
}

func schemaError[T any](raw string, err error) Structured[T] {
	return Structured[T]{
		Kind: KindSchemaError,
		Raw:  raw,
		Err:  &apperr.MalformedResponseError{Raw: raw, Err: err},
	}
}

func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if trimmed == "" || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	// Models sometimes wrap the object in a sentence.
	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if trimmed[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(trimmed, closer)
	if end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
