package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/paper-survey/agent"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/extract"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"github.com/sweetpotato0/paper-survey/prompt"
	"github.com/sweetpotato0/paper-survey/runner"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultDraftConcurrency   = 2
	DefaultSummaryConcurrency = 3
	DefaultMaxDocumentTokens  = 12000
)

var (
	summarySchema = &agent.Schema{
		Name:        "document_summary",
		Description: "Structured digest of one scientific document.",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":           map[string]any{"type": "string"},
				"abstract":        map[string]any{"type": "string"},
				"key_points":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"methodology":     map[string]any{"type": "string"},
				"limitations":     map[string]any{"type": "string"},
				"relevance_score": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			},
			"required": []string{"title", "abstract"},
		},
	}
	outlineSchema = &agent.Schema{
		Name:        "section_plan",
		Description: "Ordered table of contents of the survey.",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sections": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"priority":    map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
						},
						"required": []string{"title"},
					},
				},
			},
			"required": []string{"sections"},
		},
	}
	abstractSchema = &agent.Schema{
		Name: "survey_abstract",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":    map[string]any{"type": "string"},
				"abstract": map[string]any{"type": "string"},
			},
			"required": []string{"title", "abstract"},
		},
	}
)

type outlineRecord struct {
	Sections []Section `json:"sections"`
}

type abstractRecord struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
}

// Generator produces survey reports from documents.
type Generator struct {
	llm                agent.LLMClient
	prompts            *prompt.Manager
	draftConcurrency   int
	summaryConcurrency int
	maxDocumentTokens  int
	tokenizerModel     string
	language           string
	now                func() time.Time
	logger             *slog.Logger

	truncOnce sync.Once
	trunc     *extract.Truncator
}

// Option configures a Generator
type Option func(*Generator)

// WithDraftConcurrency sets how many sections are drafted at once.
func WithDraftConcurrency(n int) Option {
	return func(g *Generator) {
		g.draftConcurrency = n
	}
}

// WithSummaryConcurrency sets how many documents are summarized at once.
func WithSummaryConcurrency(n int) Option {
	return func(g *Generator) {
		g.summaryConcurrency = n
	}
}

// WithMaxDocumentTokens caps the document text sent for summarization.
func WithMaxDocumentTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxDocumentTokens = n
		}
	}
}

// WithTokenizerModel selects the tiktoken encoding used for the token cap.
func WithTokenizerModel(model string) Option {
	return func(g *Generator) {
		if model != "" {
			g.tokenizerModel = model
		}
	}
}

// WithLanguage sets the output language ("en" or "cn").
func WithLanguage(lang string) Option {
	return func(g *Generator) {
		g.language = lang
	}
}

// WithPrompts replaces the prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(g *Generator) {
		if m != nil {
			g.prompts = m
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a report generator.
func New(llm agent.LLMClient, opts ...Option) *Generator {
	g := &Generator{
		llm:                llm,
		prompts:            prompt.NewDefaultManager(),
		draftConcurrency:   DefaultDraftConcurrency,
		summaryConcurrency: DefaultSummaryConcurrency,
		maxDocumentTokens:  DefaultMaxDocumentTokens,
		tokenizerModel:     "cl100k_base",
		language:           "en",
		now:                time.Now,
		logger:             logging.WithComponent("report"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs summarize, plan, draft and synthesize. Each phase finishes
// before the next starts. Per-document and per-section failures are replaced
// with placeholders. An apperr.ExecutionError from the pool or the model,
// such as an exhausted call budget, aborts generation and is returned.
func (g *Generator) Generate(ctx context.Context, topic string, docs []Document) (rep *Report, err error) {
	if g.llm == nil {
		return nil, fmt.Errorf("report: LLM is not configured")
	}
	ctx, span := telemetry.Start(ctx, "report", "generate",
		attribute.String("report.topic", topic),
		attribute.Int("report.documents", len(docs)))
	defer func() { telemetry.End(span, err) }()

	summaries, err := g.summarize(ctx, topic, docs)
	if err != nil {
		return nil, err
	}

	sections, err := g.plan(ctx, topic, summaries)
	if err != nil {
		return nil, err
	}

	drafted, err := g.draft(ctx, topic, sections, summaries)
	if err != nil {
		return nil, err
	}

	rep = &Report{
		ID:          uuid.NewString(),
		Topic:       topic,
		Summaries:   summaries,
		Sections:    drafted,
		GeneratedAt: g.now(),
	}
	rep.Stats.DocumentsAnalyzed = len(docs)
	for _, s := range summaries {
		rep.Bibliography = append(rep.Bibliography, s.Title)
		if s.Failed {
			rep.Stats.SummariesFailed++
		}
	}
	for _, s := range drafted {
		if s.Failed {
			rep.Stats.SectionsFailed++
		} else {
			rep.Stats.SectionsProduced++
		}
	}
	rep.Title, rep.Abstract, err = g.synthesize(ctx, topic, len(docs), sections)
	if err != nil {
		return nil, err
	}
	rep.Markdown = Render(rep)

	g.logger.Info("report generated",
		"topic", topic,
		"documents", rep.Stats.DocumentsAnalyzed,
		"summaries_failed", rep.Stats.SummariesFailed,
		"sections", rep.Stats.SectionsProduced,
		"sections_failed", rep.Stats.SectionsFailed)
	return rep, nil
}

func (g *Generator) summarize(ctx context.Context, topic string, docs []Document) ([]Summary, error) {
	batch, err := runner.Run(ctx, docs, func(ctx context.Context, doc Document) (Summary, error) {
		return g.summarizeOne(ctx, topic, doc)
	}, g.summaryConcurrency, runner.WithName("summarize"))
	if err != nil {
		return nil, err
	}
	if err := fatal(batch); err != nil {
		return nil, err
	}

	summaries := make([]Summary, len(docs))
	for _, res := range batch.Results {
		if res.Err != nil {
			g.logger.Warn("summary failed", "source", docs[res.Index].Source, "error", res.Err)
			summaries[res.Index] = placeholderSummary(docs[res.Index].Source, reason(res.Err))
			continue
		}
		summaries[res.Index] = res.Value
	}
	return summaries, nil
}

func (g *Generator) summarizeOne(ctx context.Context, topic string, doc Document) (Summary, error) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return Summary{}, errors.New("document has no extractable text")
	}
	if len(text) > g.maxDocumentTokens {
		var cut bool
		text, cut = g.truncator().Truncate(text)
		if cut {
			g.logger.Debug("document truncated", "source", doc.Source, "max_tokens", g.maxDocumentTokens)
		}
	}

	content, err := g.prompts.Render(prompt.Summarize, map[string]interface{}{
		"Topic":    topic,
		"Text":     text,
		"Language": g.language,
	})
	if err != nil {
		return Summary{}, err
	}
	out, err := agent.Decode[Summary](ctx, g.llm, userPrompt(content), summarySchema)
	if err != nil {
		return Summary{}, err
	}
	if !out.OK() {
		return Summary{}, out.Err
	}
	s := normalizeSummary(out.Value)
	if s.Title == "could not extract title" && doc.Title != "" {
		s.Title = doc.Title
	}
	s.Source = doc.Source
	return s, nil
}

// truncator is built on first use since loading an encoding may touch the
// network. A text no longer in bytes than the budget never needs it.
func (g *Generator) truncator() *extract.Truncator {
	g.truncOnce.Do(func() {
		g.trunc = extract.NewTruncator(g.tokenizerModel, g.maxDocumentTokens)
	})
	return g.trunc
}

func (g *Generator) plan(ctx context.Context, topic string, summaries []Summary) ([]Section, error) {
	content, err := g.prompts.Render(prompt.Outline, map[string]interface{}{
		"Topic":     topic,
		"Count":     len(summaries),
		"Summaries": digest(summaries),
	})
	if err != nil {
		g.logger.Warn("outline prompt failed, using default outline", "error", err)
		return DefaultOutline(), nil
	}
	out, err := agent.Decode[outlineRecord](ctx, g.llm, userPrompt(content), outlineSchema)
	if err != nil {
		if apperr.IsFatal(err) {
			return nil, err
		}
		g.logger.Warn("outline request failed, using default outline", "error", err)
		return DefaultOutline(), nil
	}
	if !out.OK() {
		g.logger.Warn("outline malformed, using default outline", "error", out.Err)
		return DefaultOutline(), nil
	}
	sections := normalizeSections(out.Value.Sections)
	if len(sections) == 0 {
		return DefaultOutline(), nil
	}
	return sections, nil
}

func (g *Generator) draft(ctx context.Context, topic string, sections []Section, summaries []Summary) ([]DraftedSection, error) {
	shared := digest(summaries)
	batch, err := runner.Run(ctx, sections, func(ctx context.Context, s Section) (string, error) {
		return g.draftOne(ctx, topic, s, shared)
	}, g.draftConcurrency, runner.WithName("draft"))
	if err != nil {
		return nil, err
	}
	if err := fatal(batch); err != nil {
		return nil, err
	}

	drafted := make([]DraftedSection, len(sections))
	for _, res := range batch.Results {
		s := sections[res.Index]
		if res.Err != nil {
			g.logger.Warn("section draft failed", "section", s.Title, "error", res.Err)
			metrics.ReportSections.WithLabelValues("failure").Inc()
			drafted[res.Index] = failedSection(s, reason(res.Err))
			continue
		}
		metrics.ReportSections.WithLabelValues("success").Inc()
		drafted[res.Index] = DraftedSection{Section: s, Content: res.Value}
	}
	return drafted, nil
}

func (g *Generator) draftOne(ctx context.Context, topic string, s Section, summaries string) (string, error) {
	content, err := g.prompts.Render(prompt.Section, map[string]interface{}{
		"Title":       s.Title,
		"Description": s.Description,
		"Topic":       topic,
		"Summaries":   summaries,
		"Language":    g.language,
	})
	if err != nil {
		return "", err
	}
	resp, err := g.llm.Generate(ctx, &agent.GenerateRequest{Messages: userPrompt(content)})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Message == nil || strings.TrimSpace(resp.Message.Content) == "" {
		return "", errors.New("empty section body")
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

func (g *Generator) synthesize(ctx context.Context, topic string, count int, sections []Section) (string, string, error) {
	title := "Survey: " + topic
	abstract := fmt.Sprintf("This survey reviews %d documents on %s.", count, topic)

	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = s.Title
	}
	content, err := g.prompts.Render(prompt.Abstract, map[string]interface{}{
		"Topic":    topic,
		"Count":    count,
		"Sections": strings.Join(titles, "; "),
		"Language": g.language,
	})
	if err != nil {
		return title, abstract, nil
	}
	out, err := agent.Decode[abstractRecord](ctx, g.llm, userPrompt(content), abstractSchema)
	if err != nil {
		if apperr.IsFatal(err) {
			return "", "", err
		}
		g.logger.Warn("abstract request failed", "error", err)
		return title, abstract, nil
	}
	if !out.OK() {
		g.logger.Warn("abstract malformed", "error", out.Err)
		return title, abstract, nil
	}
	if t := strings.TrimSpace(out.Value.Title); t != "" {
		title = t
	}
	if a := strings.TrimSpace(out.Value.Abstract); a != "" {
		abstract = a
	}
	return title, abstract, nil
}

func userPrompt(content string) []*message.Message {
	return []*message.Message{message.NewMessage(message.RoleUser, content)}
}

// fatal returns the first unit error that must abort the run.
func fatal[R any](batch *runner.Batch[R]) error {
	for _, res := range batch.Results {
		if apperr.IsFatal(res.Err) {
			return reason(res.Err)
		}
	}
	return nil
}

// reason unwraps pool bookkeeping so placeholders show the underlying cause.
func reason(err error) error {
	var unit *apperr.UnitFailure
	if errors.As(err, &unit) {
		return unit.Err
	}
	return err
}
