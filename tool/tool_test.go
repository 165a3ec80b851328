package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
)

func TestToolExecution(t *testing.T) {
	ctx := context.Background()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []Parameter{
			{Name: "input", Type: "string", Description: "Test input", Required: true},
			{Name: "limit", Type: "integer", Description: "Limit", Default: 1},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if args["limit"] != 1 {
				return "", errors.New("default not applied")
			}
			return args["input"].(string) + "_processed", nil
		},
	}

	result, err := tool.Execute(ctx, map[string]interface{}{"input": "test"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if result != "test_processed" {
		t.Errorf("Expected 'test_processed', got '%s'", result)
	}
}

func TestToolValidation(t *testing.T) {
	ctx := context.Background()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []Parameter{
			{Name: "required_param", Type: "string", Description: "Required parameter", Required: true},
			{Name: "mode", Type: "string", Enum: []string{"fast", "slow"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "ok", nil
		},
	}

	_, err := tool.Execute(ctx, map[string]interface{}{})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected invalid input for missing parameter, got %v", err)
	}

	_, err = tool.Execute(ctx, map[string]interface{}{"required_param": "value", "mode": "medium"})
	if err == nil {
		t.Error("Expected enum violation")
	}

	_, err = tool.Execute(ctx, map[string]interface{}{"required_param": "value", "mode": "fast"})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	tool1 := &Tool{Name: "tool1", Description: "First tool"}
	tool2 := &Tool{Name: "tool2", Description: "Second tool", Parameters: []Parameter{{Name: "q", Type: "string", Required: true}}}

	if err := registry.Register(tool2); err != nil {
		t.Fatalf("Failed to register tool2: %v", err)
	}
	if err := registry.Register(tool1); err != nil {
		t.Fatalf("Failed to register tool1: %v", err)
	}

	if err := registry.Register(tool1); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("Expected duplicate registration error, got %v", err)
	}

	if _, err := registry.Get("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	tools := registry.List()
	if len(tools) != 2 || tools[0].Name != "tool1" {
		t.Fatalf("Expected tools sorted by name, got %v", tools)
	}

	desc := registry.Describe()
	if !strings.Contains(desc, "- tool2(q: string) - Second tool") {
		t.Errorf("unexpected description:\n%s", desc)
	}

	schemas := registry.ToJSONSchemas()
	fn := schemas[1]["function"].(map[string]interface{})
	params := fn["parameters"].(map[string]interface{})
	if req := params["required"].([]string); len(req) != 1 || req[0] != "q" {
		t.Errorf("unexpected required list %v", req)
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{
		"n":     float64(3),
		"q":     "42",
		"s":     "text",
		"list":  []interface{}{"a", "b"},
		"float": 1.5,
	}

	if n, err := Int(args, "n", 0); err != nil || n != 3 {
		t.Fatalf("Int(n) = %d, %v", n, err)
	}
	if n, err := Int(args, "q", 0); err != nil || n != 42 {
		t.Fatalf("Int(q) = %d, %v", n, err)
	}
	if n, _ := Int(args, "absent", 7); n != 7 {
		t.Fatalf("expected default, got %d", n)
	}
	if _, err := Int(args, "float", 0); err == nil {
		t.Fatal("expected error for fractional number")
	}
	if s, err := String(args, "s"); err != nil || s != "text" {
		t.Fatalf("String(s) = %q, %v", s, err)
	}
	if list, err := Strings(args, "list"); err != nil || len(list) != 2 {
		t.Fatalf("Strings(list) = %v, %v", list, err)
	}
	if list, err := Strings(args, "s"); err != nil || len(list) != 1 {
		t.Fatalf("Strings(s) = %v, %v", list, err)
	}
}

func TestExecuteLeavesCallerArgsAlone(t *testing.T) {
	tl := &Tool{
		Name:       "fetch",
		Parameters: []Parameter{{Name: "limit", Type: "integer", Default: 5}},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
	}
	args := map[string]any{}
	if _, err := tl.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	if _, set := args["limit"]; set {
		t.Fatal("default leaked into caller's map")
	}
}

func TestUpsertReplaces(t *testing.T) {
	registry := NewRegistry(&Tool{Name: "a", Description: "old"})
	if err := registry.Upsert(&Tool{Name: "a", Description: "new"}); err != nil {
		t.Fatal(err)
	}
	got, _ := registry.Get("a")
	if got.Description != "new" {
		t.Fatalf("description = %q", got.Description)
	}
	if err := registry.Upsert(&Tool{}); err == nil {
		t.Fatal("expected error for unnamed tool")
	}
}

func TestMalformedArgumentsAreRejected(t *testing.T) {
	called := false
	tl := &Tool{
		Name:    "ping",
		Handler: func(context.Context, map[string]any) (string, error) { called = true; return "pong", nil },
	}
	_, err := tl.Execute(context.Background(), map[string]any{message.RawArgumentsKey: `{"x": `})
	if !errors.Is(err, apperr.ErrInvalidInput) || called {
		t.Fatalf("expected invalid input without calling the handler, got %v", err)
	}
}
