package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/tool"
)

// stubLLM replays scripted replies and records every request.
type stubLLM struct {
	mu      sync.Mutex
	replies []*message.Message
	calls   int
	seen    [][]*message.Message
}

func (s *stubLLM) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req.Messages)
	idx := s.calls
	s.calls++
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return &GenerateResponse{Message: message.Clone(s.replies[idx])}, nil
}

func toolCall(id, name string, args map[string]any) *message.Message {
	return message.NewToolCallMessage("", []message.ToolCall{{ID: id, Name: name, Args: args}})
}

func echoRegistry() *tool.Registry {
	return tool.NewRegistry(
		&tool.Tool{
			Name:       "echo",
			Parameters: []tool.Parameter{{Name: "text", Type: "string", Required: true}},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "echo: " + args["text"].(string), nil
			},
		},
		&tool.Tool{
			Name: "broken",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "", errors.New("service unavailable")
			},
		},
	)
}

func TestRunTerminatesAfterOneIterationWithoutToolCalls(t *testing.T) {
	llm := &stubLLM{replies: []*message.Message{message.NewMessage(message.RoleAssistant, "done")}}
	ag := New(llm, echoRegistry())

	res, err := ag.Run(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "hi")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Iterations != 1 || llm.calls != 1 {
		t.Fatalf("expected exactly one iteration, got %d iterations and %d calls", res.Iterations, llm.calls)
	}
	if res.Final == nil || res.Final.Content != "done" || len(res.Messages) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunPairsObservationsWithCallIDs(t *testing.T) {
	llm := &stubLLM{replies: []*message.Message{
		message.NewToolCallMessage("", []message.ToolCall{
			{ID: "a", Name: "echo", Args: map[string]any{"text": "one"}},
			{ID: "b", Name: "broken"},
			{ID: "c", Name: "echo", Args: map[string]any{"text": "three"}},
		}),
		message.NewMessage(message.RoleAssistant, "final answer"),
	}}
	var states []LoopState
	ag := New(llm, echoRegistry(), WithStateObserver(func(s LoopState, _ int) { states = append(states, s) }))

	res, err := ag.Run(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// assistant(tool calls), 3 observations, final assistant
	if len(res.Messages) != 5 {
		t.Fatalf("expected 5 new messages, got %d", len(res.Messages))
	}
	wantIDs := []string{"a", "b", "c"}
	for i, id := range wantIDs {
		obs := res.Messages[i+1]
		if obs.Role != message.RoleTool || obs.ToolID != id {
			t.Fatalf("observation %d = %+v, want tool id %s", i, obs, id)
		}
	}
	if !strings.Contains(res.Messages[2].Content, "Error executing tool broken: service unavailable") {
		t.Fatalf("failure should be captured as observation, got %q", res.Messages[2].Content)
	}
	if res.ToolCalls != 3 || res.ToolFailures != 1 || res.Iterations != 2 {
		t.Fatalf("unexpected counters %+v", res)
	}
	want := []LoopState{StateDeciding, StateExecuting, StateDeciding}
	if len(states) != len(want) {
		t.Fatalf("unexpected transitions %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected transitions %v", states)
		}
	}

	// The second model call must see the observations.
	if got := len(llm.seen[1]); got != 5 {
		t.Fatalf("second call saw %d messages, want 5", got)
	}
}

func TestRunUnknownToolBecomesObservation(t *testing.T) {
	llm := &stubLLM{replies: []*message.Message{
		toolCall("x", "missing", nil),
		message.NewMessage(message.RoleAssistant, "gave up"),
	}}
	res, err := New(llm, echoRegistry()).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.ToolFailures != 1 || !strings.Contains(res.Messages[1].Content, "Error executing tool missing") {
		t.Fatalf("unexpected result %+v", res.Messages[1])
	}
}

func TestRunEnforcesIterationCeiling(t *testing.T) {
	llm := &stubLLM{replies: []*message.Message{toolCall("", "echo", map[string]any{"text": "again"})}}
	ag := New(llm, echoRegistry(), WithMaxIterations(3))

	res, err := ag.Run(context.Background(), nil)
	if !errors.Is(err, apperr.ErrMaxIterations) || !apperr.IsFatal(err) {
		t.Fatalf("expected fatal max iterations error, got %v", err)
	}
	if llm.calls != 3 || res.Iterations != 3 {
		t.Fatalf("expected 3 model calls, got %d", llm.calls)
	}
	if res.Messages[1].ToolID == "" || res.Messages[1].ToolID != res.Messages[0].ToolCalls[0].ID {
		t.Fatal("missing call IDs should be generated and paired")
	}
}

func TestDefaultCeiling(t *testing.T) {
	if New(nil, nil).maxIterations != 25 {
		t.Fatal("default iteration ceiling should be 25")
	}
}

func TestParallelToolsKeepRequestOrder(t *testing.T) {
	registry := tool.NewRegistry(&tool.Tool{
		Name:       "sleep",
		Parameters: []tool.Parameter{{Name: "ms", Type: "integer", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			ms, _ := tool.Int(args, "ms", 0)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return "slept", nil
		},
	})
	llm := &stubLLM{replies: []*message.Message{
		message.NewToolCallMessage("", []message.ToolCall{
			{ID: "slow", Name: "sleep", Args: map[string]any{"ms": float64(30)}},
			{ID: "fast", Name: "sleep", Args: map[string]any{"ms": float64(1)}},
		}),
		message.NewMessage(message.RoleAssistant, "ok"),
	}}

	res, err := New(llm, registry, WithParallelTools(true)).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Messages[1].ToolID != "slow" || res.Messages[2].ToolID != "fast" {
		t.Fatalf("observations out of request order: %s, %s", res.Messages[1].ToolID, res.Messages[2].ToolID)
	}
}

func TestSystemPromptIsNotPartOfDelta(t *testing.T) {
	llm := &stubLLM{replies: []*message.Message{message.NewMessage(message.RoleAssistant, "ok")}}
	res, err := New(llm, nil, WithSystemPrompt("be brief")).Run(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "q")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if llm.seen[0][0].Role != message.RoleSystem {
		t.Fatal("system prompt should lead the request")
	}
	if len(res.Messages) != 1 {
		t.Fatalf("delta should only hold the reply, got %d messages", len(res.Messages))
	}
}
