package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/tool"
	"go.uber.org/goleak"
)

type citationArgs struct {
	DOI string `json:"doi" jsonschema:"DOI of the paper"`
}

func citationServer() *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "citations", Version: "0.1.0"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "lookup",
		Description: "Resolve a DOI to a citation",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a citationArgs) (*sdkmcp.CallToolResult, any, error) {
		if a.DOI == "10.0/unknown" {
			return &sdkmcp.CallToolResult{
				IsError: true,
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "unknown DOI"}},
			}, nil, nil
		}
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "Vaswani et al. Attention Is All You Need. " + strings.Repeat("x", 50)}},
		}, nil, nil
	})
	return server
}

func connectInMemory(t *testing.T, opts ...Option) *Session {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	serverSession, err := citationServer().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := Connect(ctx, "citations", clientTransport, opts...)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionImportsRemoteTools(t *testing.T) {
	s := connectInMemory(t, WithMaxResultChars(30))

	registry := tool.NewRegistry()
	stop, err := Attach(context.Background(), registry, s, logging.Discard())
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer stop()

	lookup, err := registry.Get("citations.lookup")
	if err != nil {
		t.Fatalf("remote tool not registered: %v", err)
	}
	if len(lookup.Parameters) != 1 || lookup.Parameters[0].Name != "doi" {
		t.Fatalf("unexpected parameters %+v", lookup.Parameters)
	}

	out, err := registry.Execute(context.Background(), "citations.lookup", map[string]interface{}{"doi": "10.0/attention"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.HasPrefix(out, "Vaswani et al.") || !strings.HasSuffix(out, "[truncated]") {
		t.Errorf("unexpected output %q", out)
	}

	_, err = registry.Execute(context.Background(), "citations.lookup", map[string]interface{}{"doi": "10.0/unknown"})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "unknown DOI" {
		t.Errorf("expected RemoteError, got %v", err)
	}
}

func TestDialRequiresTransport(t *testing.T) {
	if _, err := Dial(context.Background(), Server{Name: "empty"}); err == nil {
		t.Fatal("expected error for server without endpoint or command")
	}
}

func TestParametersFromSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search query"},
			"limit": map[string]any{"type": []any{"integer", "null"}, "default": 10},
			"ids":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"sort":  map[string]any{"enum": []any{"date", "relevance"}},
		},
		"required": []any{"query"},
	}

	params := parametersFromSchema(schema)
	if len(params) != 4 {
		t.Fatalf("expected 4 parameters, got %d", len(params))
	}
	byName := map[string]tool.Parameter{}
	for _, p := range params {
		byName[p.Name] = p
	}
	if params[0].Name != "ids" {
		t.Errorf("expected parameters sorted by name, got %s first", params[0].Name)
	}
	if !byName["query"].Required || byName["limit"].Required {
		t.Error("required flags not mapped")
	}
	if byName["limit"].Type != "integer" {
		t.Errorf("nullable type not resolved: %q", byName["limit"].Type)
	}
	if byName["ids"].Items != "string" {
		t.Errorf("array items not mapped: %q", byName["ids"].Items)
	}
	if len(byName["sort"].Enum) != 2 || byName["sort"].Type != "string" {
		t.Errorf("enum not mapped: %+v", byName["sort"])
	}

	if parametersFromSchema(map[string]any{"type": "string"}) != nil {
		t.Error("non-object schema should yield no parameters")
	}
}

func TestContentText(t *testing.T) {
	got := contentText([]sdkmcp.Content{
		&sdkmcp.TextContent{Text: "hello"},
		&sdkmcp.ResourceLink{URI: "file://foo", Name: "foo.txt"},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || lines[0] != "hello" || !strings.Contains(lines[1], `"resource_link"`) {
		t.Fatalf("unexpected content text %q", got)
	}
}

type fakeProvider struct {
	tools   []*tool.Tool
	changed chan struct{}
}

func (p *fakeProvider) Tools(context.Context) ([]*tool.Tool, error) { return p.tools, nil }
func (p *fakeProvider) Close() error                                 { return nil }
func (p *fakeProvider) ToolsChanged() <-chan struct{}                { return p.changed }

func TestAttachStopsWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := tool.NewRegistry()
	provider := &fakeProvider{
		tools:   []*tool.Tool{{Name: "remote.lookup", Description: "remote lookup"}},
		changed: make(chan struct{}),
	}
	stop, err := Attach(context.Background(), registry, provider, nil)
	if err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	if _, err := registry.Get("remote.lookup"); err != nil {
		t.Fatalf("expected tool to be registered: %v", err)
	}
	stop()
}

func TestAttachRequiresProvider(t *testing.T) {
	if _, err := Attach(context.Background(), tool.NewRegistry(), nil, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}
