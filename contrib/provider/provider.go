// Package provider holds helpers shared by the reasoning provider adapters.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sweetpotato0/paper-survey/agent"
	"github.com/sweetpotato0/paper-survey/message"
)

// Function is a tool definition decoded from the registry's JSON schema form.
type Function struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// DecodeArgs parses tool-call arguments. Text that is not a JSON object is
// kept under message.RawArgumentsKey so the call fails as a tool observation
// instead of failing the whole turn.
func DecodeArgs(raw []byte) map[string]any {
	args := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{message.RawArgumentsKey: string(raw)}
	}
	return args
}

// Functions decodes tool definitions produced by tool.Registry.ToJSONSchemas.
func Functions(tools []map[string]any) ([]Function, error) {
	out := make([]Function, 0, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tool definition without function block: %v", t)
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("tool definition without name")
		}
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, Function{Name: name, Description: desc, Parameters: params})
	}
	return out, nil
}

// Required returns the "required" list of a JSON schema object.
func Required(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SchemaInstruction renders a schema as a prompt suffix for providers
// without native structured output.
func SchemaInstruction(s *agent.Schema) string {
	if s == nil {
		return ""
	}
	raw, err := json.MarshalIndent(s.Definition, "", "  ")
	if err != nil {
		raw = []byte("{}")
	}
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else")
	if s.Name != "" {
		b.WriteString(" (" + s.Name + ")")
	}
	b.WriteString(". It must match this JSON schema:\n")
	b.Write(raw)
	return b.String()
}
