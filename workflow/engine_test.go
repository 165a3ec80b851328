package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sweetpotato0/paper-survey/agent"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/report"
	"github.com/sweetpotato0/paper-survey/tool"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptLLM routes each request by the prompt it carries.
type scriptLLM struct {
	mu       sync.Mutex
	calls    map[string]int
	classify string
	plan     string
	judge    func(round int) string
	agent    func(turn int, req *agent.GenerateRequest) (*message.Message, error)
}

func newScript(classify string) *scriptLLM {
	return &scriptLLM{calls: make(map[string]int), classify: classify}
}

func (s *scriptLLM) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *scriptLLM) lastPlanPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

func kindOf(req *agent.GenerateRequest) string {
	first := req.Messages[0].Content
	switch {
	case strings.Contains(first, "needs research"):
		return "classify"
	case strings.Contains(first, "step by step plan"):
		return "plan"
	case strings.Contains(first, "access to external tools"):
		return "agent"
	case strings.Contains(first, "reviewing the final answer"):
		return "judge"
	case strings.HasPrefix(first, "You are summarizing"):
		return "summary"
	case strings.HasPrefix(first, "You are planning a survey"):
		return "outline"
	case strings.HasPrefix(first, "You are writing the section"):
		return "section"
	case strings.HasPrefix(first, "Write a title and an abstract"):
		return "abstract"
	}
	return "unknown"
}

func (s *scriptLLM) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	kind := kindOf(req)
	s.mu.Lock()
	s.calls[kind]++
	n := s.calls[kind]
	s.mu.Unlock()

	reply := func(content string) (*agent.GenerateResponse, error) {
		return &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, content)}, nil
	}
	switch kind {
	case "classify":
		return reply(s.classify)
	case "plan":
		s.mu.Lock()
		s.plan = req.Messages[0].Content
		s.mu.Unlock()
		return reply(fmt.Sprintf("Plan %d: search then answer.", n))
	case "agent":
		if s.agent != nil {
			msg, err := s.agent(n, req)
			if err != nil {
				return nil, err
			}
			return &agent.GenerateResponse{Message: msg}, nil
		}
		return reply(fmt.Sprintf("Answer %d [1].", n))
	case "judge":
		if s.judge != nil {
			return reply(s.judge(n))
		}
		return reply(`{"accepted": true, "feedback": ""}`)
	case "summary":
		doc := req.Messages[0].Content
		doc = doc[strings.Index(doc, "Document:\n")+len("Document:\n"):]
		return reply(fmt.Sprintf(`{"title": %q, "abstract": "a", "relevance_score": 7}`, doc))
	case "outline":
		return reply("sorry, no outline")
	case "section":
		return reply("Section body.")
	case "abstract":
		return reply(`{"title": "Survey of Agents", "abstract": "We review three papers."}`)
	}
	return nil, fmt.Errorf("unexpected request: %.60s", req.Messages[0].Content)
}

func newEngine(llm agent.LLMClient, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(llm, nil, opts...)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const research = `{"requires_research": true, "query_kind": "search", "answer": ""}`

func TestConversationalRequestSkipsResearch(t *testing.T) {
	llm := newScript(`{"requires_research": false, "query_kind": "conversational", "answer": "Hello Bob! How can I help?"}`)
	out, err := newEngine(llm).Run(context.Background(), "Hi! I'm Bob")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []State{Classifying, Done}; !equalStates(out.Visited, want) {
		t.Fatalf("visited %v, want %v", out.Visited, want)
	}
	if out.Answer != "Hello Bob! How can I help?" {
		t.Fatalf("unexpected answer %q", out.Answer)
	}
	if len(out.State.History) != 2 {
		t.Fatalf("expected a single assistant reply, got %d messages", len(out.State.History))
	}
	for _, kind := range []string{"plan", "agent", "judge"} {
		if llm.count(kind) != 0 {
			t.Fatalf("unexpected %s call", kind)
		}
	}
}

func TestRejectingJudgeIsBoundedByCeiling(t *testing.T) {
	llm := newScript(research)
	llm.judge = func(int) string { return `{"accepted": false, "feedback": "cite more papers"}` }

	out, err := newEngine(llm).Run(context.Background(), "recent work on RLHF")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []State{Classifying,
		Planning, Agenting, Judging,
		Planning, Agenting, Judging,
		Planning, Agenting, Judging,
		Done}
	if !equalStates(out.Visited, want) {
		t.Fatalf("visited %v, want %v", out.Visited, want)
	}
	if out.State.FeedbackRounds != 3 || !out.State.Accepted {
		t.Fatalf("unexpected state rounds=%d accepted=%v", out.State.FeedbackRounds, out.State.Accepted)
	}
	feedback := 0
	for _, m := range out.State.History {
		if m.Role == message.RoleUser && strings.Contains(m.Content, "cite more papers") {
			feedback++
		}
	}
	if feedback != 2 {
		t.Fatalf("expected 2 feedback messages, got %d", feedback)
	}
	if out.Answer != "Answer 3 [1]." {
		t.Fatalf("unexpected answer %q", out.Answer)
	}
}

func TestCustomFeedbackCeiling(t *testing.T) {
	llm := newScript(research)
	llm.judge = func(int) string { return `{"accepted": false, "feedback": "no"}` }
	out, err := newEngine(llm, WithFeedbackCeiling(1)).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State.FeedbackRounds != 1 || llm.count("plan") != 1 {
		t.Fatalf("expected a single round, got %d rounds and %d plans", out.State.FeedbackRounds, llm.count("plan"))
	}
}

func TestMalformedClassificationDefaultsToResearch(t *testing.T) {
	llm := newScript("I think this is a search request.")
	out, err := newEngine(llm).Run(context.Background(), "papers about diffusion")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.State.RequiresResearch || out.State.QueryKind != KindSearch {
		t.Fatalf("unexpected classification %+v", out.State.Context())
	}
	if out.Visited[1] != Planning {
		t.Fatalf("expected planning after classification, got %v", out.Visited)
	}
}

func TestMalformedJudgementAccepts(t *testing.T) {
	llm := newScript(research)
	llm.judge = func(int) string { return "looks fine to me" }
	out, err := newEngine(llm).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State.FeedbackRounds != 1 || !out.State.Accepted {
		t.Fatalf("expected acceptance after one round, got %+v", out.State.Context())
	}
}

func TestLegacyJudgeField(t *testing.T) {
	llm := newScript(`{"requires_research": true, "type": "download"}`)
	llm.judge = func(int) string { return `{"is_good_answer": true, "feedback": ""}` }
	out, err := newEngine(llm).Run(context.Background(), "download arxiv 1706.03762")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State.QueryKind != KindFetch || llm.count("judge") != 1 {
		t.Fatalf("unexpected kind %s after %d judge calls", out.State.QueryKind, llm.count("judge"))
	}
}

func TestToolObservationsAreMerged(t *testing.T) {
	registry := tool.NewRegistry(&tool.Tool{
		Name:       "search-papers",
		Parameters: []tool.Parameter{{Name: "query", Type: "string", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "Title: Attention Is All You Need", nil
		},
	})
	llm := newScript(research)
	llm.agent = func(turn int, req *agent.GenerateRequest) (*message.Message, error) {
		if len(req.Tools) != 1 {
			return nil, fmt.Errorf("expected the registry tools, got %d", len(req.Tools))
		}
		if turn == 1 {
			return message.NewToolCallMessage("", []message.ToolCall{{ID: "c1", Name: "search-papers", Args: map[string]any{"query": "transformers"}}}), nil
		}
		return message.NewMessage(message.RoleAssistant, "Transformers [Attention Is All You Need]."), nil
	}

	out, err := New(llm, registry, WithLogger(logging.Discard())).Run(context.Background(), "transformers")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ToolCalls != 1 || out.ToolFailures != 0 {
		t.Fatalf("unexpected tool counts %d/%d", out.ToolCalls, out.ToolFailures)
	}
	var observed bool
	for _, m := range out.State.History {
		if m.Role == message.RoleTool && m.ToolID == "c1" {
			observed = true
		}
	}
	if !observed {
		t.Fatal("tool observation missing from history")
	}
	if out.Answer != "Transformers [Attention Is All You Need]." {
		t.Fatalf("unexpected answer %q", out.Answer)
	}
}

func TestAgentIterationCeilingIsFatal(t *testing.T) {
	registry := tool.NewRegistry(&tool.Tool{
		Name:    "noop",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) { return "ok", nil },
	})
	llm := newScript(research)
	llm.agent = func(turn int, req *agent.GenerateRequest) (*message.Message, error) {
		return message.NewToolCallMessage("", []message.ToolCall{{Name: "noop"}}), nil
	}
	out, err := New(llm, registry, WithLogger(logging.Discard()), WithAgentOptions(agent.WithMaxIterations(2))).
		Run(context.Background(), "loop forever")
	if !apperr.IsFatal(err) || !errors.Is(err, apperr.ErrMaxIterations) {
		t.Fatalf("expected fatal iteration error, got %v", err)
	}
	if out == nil || out.Visited[len(out.Visited)-1] != Agenting {
		t.Fatalf("expected the run to stop in agenting, got %+v", out)
	}
}

func TestAgentTransportFailureIsJudged(t *testing.T) {
	llm := newScript(research)
	llm.agent = func(int, *agent.GenerateRequest) (*message.Message, error) {
		return nil, errors.New("connection reset")
	}
	out, err := newEngine(llm).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.Answer, "The research step failed") {
		t.Fatalf("expected failure notice, got %q", out.Answer)
	}
	if llm.count("judge") != 1 {
		t.Fatalf("expected the failure to be judged")
	}
}

func TestStepBudget(t *testing.T) {
	llm := newScript(research)
	llm.judge = func(int) string { return `{"accepted": false, "feedback": "no"}` }
	engine := newEngine(llm)
	engine.maxSteps = 5
	out, err := engine.Run(context.Background(), "q")
	if !apperr.IsFatal(err) || !errors.Is(err, apperr.ErrMaxSteps) {
		t.Fatalf("expected step budget error, got %v", err)
	}
	if len(out.Visited) != 5 {
		t.Fatalf("expected 5 visited states, got %v", out.Visited)
	}
}

func TestEmptyRequest(t *testing.T) {
	_, err := newEngine(newScript(research)).Run(context.Background(), "  ")
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type staticDocs []report.Document

func (d staticDocs) ReportDocuments() []report.Document { return d }

type memoryArchive struct {
	mu    sync.Mutex
	saved []*report.Report
}

func (a *memoryArchive) Save(ctx context.Context, rep *report.Report) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, rep)
	return fmt.Sprintf("saved-%d", len(a.saved)), nil
}

func TestReportRequestProducesSurvey(t *testing.T) {
	llm := newScript(`{"requires_research": true, "query_kind": "report"}`)
	docs := staticDocs{
		{Source: "https://a/1.pdf", Text: "Paper A"},
		{Source: "https://a/2.pdf", Text: "Paper B"},
		{Source: "https://a/3.pdf", Text: "Paper C"},
	}
	archive := &memoryArchive{}
	var observed []State
	engine := newEngine(llm,
		WithReportGenerator(report.New(llm, report.WithLogger(logging.Discard()))),
		WithDocumentSource(docs),
		WithArchive(archive),
		WithObserver(func(s State, cs *ConversationState) { observed = append(observed, s) }),
	)

	out, err := engine.Run(context.Background(), "write a survey on LLM agents")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []State{Classifying, Planning, Agenting, Judging, ReportGenerating, Done}
	if !equalStates(out.Visited, want) || !equalStates(observed, want) {
		t.Fatalf("visited %v observed %v, want %v", out.Visited, observed, want)
	}
	rep := out.Report
	if rep == nil {
		t.Fatal("expected a report")
	}
	if len(rep.Sections) != 7 {
		t.Fatalf("expected 7 sections, got %d", len(rep.Sections))
	}
	for i, s := range report.DefaultOutline() {
		if rep.Sections[i].Title != s.Title {
			t.Fatalf("section %d is %q, want %q", i, rep.Sections[i].Title, s.Title)
		}
	}
	if got := strings.Join(rep.Bibliography, ","); got != "Paper A,Paper B,Paper C" {
		t.Fatalf("unexpected bibliography %q", got)
	}
	if !strings.HasPrefix(out.Answer, "# Survey of Agents\n\n## Abstract\n\nWe review three papers.") {
		t.Fatalf("answer should be the report artifact:\n%s", out.Answer)
	}
	if out.ArchiveID != "saved-1" || len(archive.saved) != 1 {
		t.Fatalf("expected the report to be archived, got %q", out.ArchiveID)
	}
	if !strings.Contains(llm.lastPlanPrompt(), "download 10 citable papers") {
		t.Fatal("report plans should ask for the reference count")
	}
}

func TestReportWithoutDocuments(t *testing.T) {
	llm := newScript(`{"requires_research": true, "query_kind": "report"}`)
	out, err := newEngine(llm,
		WithReportGenerator(report.New(llm, report.WithLogger(logging.Discard()))),
		WithDocumentSource(staticDocs{}),
	).Run(context.Background(), "survey")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Report != nil || !strings.Contains(out.Answer, "no report was generated") {
		t.Fatalf("unexpected outcome %q", out.Answer)
	}
}

func TestStepCapCoversFeedbackCeiling(t *testing.T) {
	llm := newScript(`{"requires_research": true, "query_kind": "report"}`)
	llm.judge = func(int) string { return `{"accepted": false, "feedback": "no"}` }
	out, err := newEngine(llm,
		WithFeedbackCeiling(6),
		WithMaxSteps(DefaultMaxSteps),
		WithReportGenerator(report.New(llm, report.WithLogger(logging.Discard()))),
		WithDocumentSource(staticDocs{{Source: "https://a/1.pdf", Text: "Paper A"}}),
	).Run(context.Background(), "survey")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State.FeedbackRounds != 6 || out.Report == nil {
		t.Fatalf("expected 6 rounds and a report, got %d rounds", out.State.FeedbackRounds)
	}
	if n := len(out.Visited); out.Visited[n-2] != ReportGenerating || out.Visited[n-1] != Done {
		t.Fatalf("unexpected tail %v", out.Visited[n-2:])
	}
}

// budgetLLM fails every request of kind with an execution error.
func budgetLLM(next *scriptLLM, kind string) agent.LLMFunc {
	return func(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
		if kindOf(req) == kind {
			return nil, apperr.NewExecutionError("llm", errors.New("call budget exhausted"))
		}
		return next.Generate(ctx, req)
	}
}

func TestExecutionErrorInJudgeAbortsRun(t *testing.T) {
	out, err := newEngine(budgetLLM(newScript(research), "judge")).Run(context.Background(), "q")
	if !apperr.IsFatal(err) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if out.State.Accepted || out.Visited[len(out.Visited)-1] != Judging {
		t.Fatalf("run should stop in judging unaccepted, visited %v", out.Visited)
	}
}

func TestExecutionErrorInReportAbortsRun(t *testing.T) {
	llm := budgetLLM(newScript(`{"requires_research": true, "query_kind": "report"}`), "section")
	out, err := newEngine(llm,
		WithReportGenerator(report.New(llm, report.WithLogger(logging.Discard()))),
		WithDocumentSource(staticDocs{{Source: "https://a/1.pdf", Text: "Paper A"}}),
	).Run(context.Background(), "survey")
	if !apperr.IsFatal(err) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if out.Report != nil {
		t.Fatal("no report should be produced")
	}
}
