// Package tool describes callable capabilities offered to the model and the
// registry the agent loop dispatches them through.
package tool

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
)

// Handler executes a tool call. args has already been checked against the
// tool's parameters.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Parameter is one named argument of a tool.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // JSON schema type
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
	Items       string   `json:"items,omitempty"` // element type when Type is array
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Execute validates args, fills defaults for absent optional parameters and
// calls the handler. The caller's map is not modified.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", t.Name)
	}
	if err := t.ValidateArgs(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	call := make(map[string]any, len(args)+len(t.Parameters))
	maps.Copy(call, args)
	for _, p := range t.Parameters {
		if _, set := call[p.Name]; !set && p.Default != nil {
			call[p.Name] = p.Default
		}
	}
	return t.Handler(ctx, call)
}

// ValidateArgs reports the first missing required parameter or enum
// violation as apperr.ErrInvalidInput.
func (t *Tool) ValidateArgs(args map[string]any) error {
	if raw, ok := args[message.RawArgumentsKey]; ok {
		return fmt.Errorf("%w: arguments are not a JSON object: %v", apperr.ErrInvalidInput, raw)
	}
	for _, p := range t.Parameters {
		v, set := args[p.Name]
		switch {
		case !set && p.Required:
			return fmt.Errorf("%w: missing required parameter: %s", apperr.ErrInvalidInput, p.Name)
		case !set || len(p.Enum) == 0:
			continue
		}
		if s, _ := v.(string); !slices.Contains(p.Enum, s) {
			return fmt.Errorf("%w: %s must be one of %s", apperr.ErrInvalidInput, p.Name, strings.Join(p.Enum, ", "))
		}
	}
	return nil
}

// ToJSONSchema wraps the tool in the OpenAI function-calling envelope.
func (t *Tool) ToJSONSchema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.ParameterSchema(),
		},
	}
}

// ParameterSchema is the JSON schema object for the tool's arguments.
func (t *Tool) ParameterSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	required := []string{}
	for _, p := range t.Parameters {
		props[p.Name] = p.schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (p Parameter) schema() map[string]any {
	s := map[string]any{"type": p.Type, "description": p.Description}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if p.Type == "array" {
		items := p.Items
		if items == "" {
			items = "string"
		}
		s["items"] = map[string]any{"type": items}
	}
	return s
}

// Describe renders a one-line signature such as
// "search-papers(query: string, max_papers?: integer) - Search for papers".
func (t *Tool) Describe() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteByte('(')
	for i, p := range t.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		if !p.Required {
			b.WriteByte('?')
		}
		b.WriteString(": ")
		b.WriteString(p.Type)
	}
	b.WriteString(") - ")
	b.WriteString(t.Description)
	return b.String()
}
