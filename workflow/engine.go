package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sweetpotato0/paper-survey/agent"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"github.com/sweetpotato0/paper-survey/prompt"
	"github.com/sweetpotato0/paper-survey/report"
	"github.com/sweetpotato0/paper-survey/tool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultFeedbackCeiling = 3
	DefaultMaxSteps        = 16
	DefaultMaxReferences   = 10
)

// ReportGenerator writes a survey from documents.
type ReportGenerator interface {
	Generate(ctx context.Context, topic string, docs []report.Document) (*report.Report, error)
}

// DocumentSource yields the documents collected during the run.
type DocumentSource interface {
	ReportDocuments() []report.Document
}

// Archiver persists generated reports.
type Archiver interface {
	Save(ctx context.Context, rep *report.Report) (string, error)
}

// Observer is called before each state executes.
type Observer func(state State, cs *ConversationState)

// Engine runs the research workflow.
type Engine struct {
	llm             agent.LLMClient
	tools           *tool.Registry
	agentOpts       []agent.Option
	loop            *agent.Agent
	prompts         *prompt.Manager
	generator       ReportGenerator
	documents       DocumentSource
	archive         Archiver
	feedbackCeiling int
	maxSteps        int
	maxReferences   int
	tracer          trace.Tracer
	logger          *slog.Logger
	observer        Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithReportGenerator enables the report phase.
func WithReportGenerator(g ReportGenerator) Option {
	return func(e *Engine) {
		e.generator = g
	}
}

// WithDocumentSource sets where the report phase collects documents.
func WithDocumentSource(src DocumentSource) Option {
	return func(e *Engine) {
		e.documents = src
	}
}

// WithArchive saves every generated report.
func WithArchive(a Archiver) Option {
	return func(e *Engine) {
		e.archive = a
	}
}

// WithFeedbackCeiling sets how many judgement rounds may run before the
// answer is accepted unconditionally.
func WithFeedbackCeiling(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.feedbackCeiling = n
		}
	}
}

// WithMaxSteps bounds the number of state executions per run.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithMaxReferences sets how many documents report plans ask for.
func WithMaxReferences(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxReferences = n
		}
	}
}

// WithAgentOptions passes options to the tool-calling loop.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(e *Engine) {
		e.agentOpts = append(e.agentOpts, opts...)
	}
}

// WithPrompts replaces the prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.prompts = m
		}
	}
}

// WithTracer sets the tracer used for state spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers a callback run before every state.
func WithObserver(fn Observer) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// New creates a workflow engine over llm and the tool registry.
func New(llm agent.LLMClient, tools *tool.Registry, opts ...Option) *Engine {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	e := &Engine{
		llm:             llm,
		tools:           tools,
		prompts:         prompt.NewDefaultManager(),
		feedbackCeiling: DefaultFeedbackCeiling,
		maxSteps:        DefaultMaxSteps,
		maxReferences:   DefaultMaxReferences,
		tracer:          telemetry.Tracer(),
		logger:          logging.WithComponent("workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	// Classifying, then plan/agent/judge per feedback round, then the report.
	if need := 2 + 3*e.feedbackCeiling; e.maxSteps < need {
		e.maxSteps = need
	}

	system, err := e.prompts.Render(prompt.Agent, nil)
	if err != nil {
		system = ""
	}
	loopOpts := append([]agent.Option{
		agent.WithName("researcher"),
		agent.WithSystemPrompt(system),
		agent.WithLogger(e.logger),
	}, e.agentOpts...)
	e.loop = agent.New(llm, tools, loopOpts...)
	return e
}

// Outcome is the result of one run.
type Outcome struct {
	RunID        string
	Answer       string
	State        *ConversationState
	Visited      []State
	Report       *report.Report
	ArchiveID    string
	ToolCalls    int
	ToolFailures int
}

// Run executes one request. States run strictly one after another; the
// returned error is non-nil only when the run could not reach Done, in which
// case the partial outcome is returned alongside it.
func (e *Engine) Run(ctx context.Context, input string) (*Outcome, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("workflow: LLM is not configured")
	}
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("workflow: %w: empty request", apperr.ErrInvalidInput)
	}

	cs := NewConversationState(input)
	out := &Outcome{RunID: uuid.NewString(), State: cs}
	logger := e.logger.With("run_id", out.RunID)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("workflow.run_id", out.RunID)))
	defer span.End()

	state := Classifying
	for steps := 0; state != Done; steps++ {
		if steps >= e.maxSteps {
			err := apperr.NewExecutionError("workflow", fmt.Errorf("%w: %d steps", apperr.ErrMaxSteps, e.maxSteps))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		if err := e.execute(ctx, state, cs, out, logger); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		next := Transition(state, cs.Context())
		logger.Debug("workflow transition", "from", state, "to", next)
		state = next
	}
	e.visit(state, cs, out)

	if last := message.LastAssistant(cs.History); last != nil {
		out.Answer = last.Content
	}
	span.SetAttributes(
		attribute.Int("workflow.steps", len(out.Visited)),
		attribute.Int("workflow.feedback_rounds", cs.FeedbackRounds),
	)
	logger.Info("workflow finished",
		"query_kind", cs.QueryKind,
		"feedback_rounds", cs.FeedbackRounds,
		"steps", len(out.Visited),
		"tool_calls", out.ToolCalls)
	return out, nil
}

func (e *Engine) visit(state State, cs *ConversationState, out *Outcome) {
	out.Visited = append(out.Visited, state)
	metrics.WorkflowStates.WithLabelValues(string(state)).Inc()
	if e.observer != nil {
		e.observer(state, cs)
	}
}

func (e *Engine) execute(ctx context.Context, state State, cs *ConversationState, out *Outcome, logger *slog.Logger) error {
	e.visit(state, cs, out)
	ctx, span := e.tracer.Start(ctx, "workflow."+string(state))
	defer span.End()

	var err error
	switch state {
	case Classifying:
		err = e.classify(ctx, cs, logger)
	case Planning:
		err = e.plan(ctx, cs)
	case Agenting:
		err = e.research(ctx, cs, out, logger)
	case Judging:
		err = e.judge(ctx, cs, logger)
	case ReportGenerating:
		err = e.writeReport(ctx, cs, out, logger)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("workflow %s: %w", state, err)
	}
	return nil
}
