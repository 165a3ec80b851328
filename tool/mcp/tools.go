package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"github.com/sweetpotato0/paper-survey/tool"
	"go.opentelemetry.io/otel/attribute"
)

// RemoteError is returned when the server flags a tool result as an error.
type RemoteError struct {
	Tool    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Tool, e.Message)
}

// Tools lists every remote tool and converts it for the registry.
func (s *Session) Tools(ctx context.Context) ([]*tool.Tool, error) {
	if s.session == nil {
		return nil, ErrClosed
	}
	var (
		defs   []*sdkmcp.Tool
		params = &sdkmcp.ListToolsParams{}
	)
	for {
		res, err := s.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("mcp: list tools: %w", err)
		}
		defs = append(defs, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		params.Cursor = res.NextCursor
	}

	tools := make([]*tool.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		remote := def.Name
		desc := def.Description
		if desc == "" && def.Annotations != nil {
			desc = def.Annotations.Title
		}
		tools = append(tools, &tool.Tool{
			Name:        s.prefix + remote,
			Description: desc,
			Parameters:  parametersFromSchema(def.InputSchema),
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return s.Call(ctx, remote, args)
			},
		})
	}
	return tools, nil
}

// Call invokes a remote tool by its server-side name.
func (s *Session) Call(ctx context.Context, name string, args map[string]interface{}) (out string, err error) {
	if s.session == nil {
		return "", ErrClosed
	}
	ctx, span := telemetry.Start(ctx, "mcp", "call_tool", attribute.String("mcp.tool", s.prefix+name))
	defer func() { telemetry.End(span, err) }()

	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error without a message"
		}
		return "", &RemoteError{Tool: s.prefix + name, Message: text}
	}
	if r := []rune(text); s.maxText > 0 && len(r) > s.maxText {
		text = string(r[:s.maxText]) + "\n[truncated]"
	}
	return text, nil
}

func contentText(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if t, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, t.Text)
			continue
		}
		if data, err := c.MarshalJSON(); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// jsonSchema is the subset of JSON Schema that maps onto tool.Parameter.
type jsonSchema struct {
	Type        any                   `json:"type"`
	Description string                `json:"description"`
	Properties  map[string]jsonSchema `json:"properties"`
	Required    []string              `json:"required"`
	Enum        []any                 `json:"enum"`
	Default     any                   `json:"default"`
	Items       *jsonSchema           `json:"items"`
}

// typeName handles both "string" and ["string", "null"] forms.
func (s jsonSchema) typeName() string {
	switch t := s.Type.(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if name, ok := v.(string); ok && name != "null" {
				return name
			}
		}
	}
	switch {
	case s.Items != nil:
		return "array"
	case s.Properties != nil:
		return "object"
	}
	return "string"
}

func parametersFromSchema(raw any) []tool.Parameter {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var schema jsonSchema
	if err := json.Unmarshal(data, &schema); err != nil || schema.typeName() != "object" {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.Parameter, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		p := tool.Parameter{
			Name:        name,
			Type:        prop.typeName(),
			Description: prop.Description,
			Required:    required[name],
			Default:     prop.Default,
		}
		for _, e := range prop.Enum {
			if s, ok := e.(string); ok {
				p.Enum = append(p.Enum, s)
			}
		}
		if p.Type == "array" && prop.Items != nil {
			p.Items = prop.Items.typeName()
		}
		params = append(params, p)
	}
	return params
}
