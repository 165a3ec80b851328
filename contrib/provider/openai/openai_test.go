package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sweetpotato0/paper-survey/agent"
	"github.com/sweetpotato0/paper-survey/message"
)

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "search-papers", "arguments": "{\"query\":\"rlhf\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func newTestProvider(t *testing.T, handler func(body map[string]any) string) *Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(body)))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("test", srv.URL+"/v1")
	cfg.MaxRetries = 0
	return New(cfg)
}

func TestGenerateToolCall(t *testing.T) {
	var seen map[string]any
	p := newTestProvider(t, func(body map[string]any) string {
		seen = body
		return toolCallCompletion
	})

	req := &agent.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, "be helpful"),
			message.NewMessage(message.RoleUser, "find rlhf papers"),
			message.NewToolCallMessage("", []message.ToolCall{{ID: "call_0", Name: "search-papers", Args: map[string]any{"query": "x"}}}),
			message.NewToolResponseMessage("call_0", "search-papers", "no results"),
		},
		Tools: []map[string]any{{
			"type": "function",
			"function": map[string]any{
				"name":        "search-papers",
				"description": "search",
				"parameters":  map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
			},
		}},
	}
	resp, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	calls := resp.Message.ToolCalls
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "search-papers" || calls[0].Args["query"] != "rlhf" {
		t.Fatalf("unexpected tool calls %+v", calls)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 5 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages on the wire, got %d", len(msgs))
	}
	toolMsg, _ := msgs[3].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "call_0" {
		t.Fatalf("unexpected tool message %v", toolMsg)
	}
	tools, _ := seen["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected one tool on the wire, got %v", seen["tools"])
	}
	if _, ok := seen["response_format"]; ok {
		t.Fatal("response_format must only be sent with a schema")
	}
}

func TestGenerateSchema(t *testing.T) {
	var seen map[string]any
	p := newTestProvider(t, func(body map[string]any) string {
		seen = body
		return `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"accepted\":true}"}}]}`
	})
	resp, err := p.Generate(context.Background(), &agent.GenerateRequest{
		Messages: []*message.Message{message.NewMessage(message.RoleUser, "judge")},
		Schema:   &agent.Schema{Name: "judgement", Definition: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Message.Content != `{"accepted":true}` {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
	format, _ := seen["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", seen["response_format"])
	}
}

func TestGeneratePromptSchema(t *testing.T) {
	var seen map[string]any
	p := newTestProvider(t, func(body map[string]any) string {
		seen = body
		return `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{}"}}]}`
	})
	p.config.PromptSchema = true
	_, err := p.Generate(context.Background(), &agent.GenerateRequest{
		Messages: []*message.Message{message.NewMessage(message.RoleUser, "judge")},
		Schema:   &agent.Schema{Name: "judgement", Definition: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, ok := seen["response_format"]; ok {
		t.Fatal("prompt schema mode must not send response_format")
	}
	msgs, _ := seen["messages"].([]any)
	last, _ := msgs[len(msgs)-1].(map[string]any)
	if content, _ := last["content"].(string); !strings.Contains(content, "JSON schema") {
		t.Fatalf("expected schema instruction, got %v", last)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	cfg := DefaultConfig("", srv.URL)
	cfg.MaxRetries = 0
	if _, err := New(cfg).Generate(context.Background(), &agent.GenerateRequest{
		Messages: []*message.Message{message.NewMessage(message.RoleUser, "hi")},
	}); err == nil {
		t.Fatal("expected API error")
	}
}

func TestGenerateKeepsMalformedToolArguments(t *testing.T) {
	broken := strings.Replace(toolCallCompletion, `"{\"query\":\"rlhf\"}"`, `"{\"query\": rlhf"`, 1)
	p := newTestProvider(t, func(map[string]any) string { return broken })

	resp, err := p.Generate(context.Background(), &agent.GenerateRequest{
		Messages: []*message.Message{message.NewMessage(message.RoleUser, "find rlhf papers")},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	calls := resp.Message.ToolCalls
	if len(calls) != 1 || calls[0].Args[message.RawArgumentsKey] != `{"query": rlhf` {
		t.Fatalf("unexpected tool calls %+v", calls)
	}
}
