package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sweetpotato0/paper-survey/agent"
	"github.com/sweetpotato0/paper-survey/archive"
	"github.com/sweetpotato0/paper-survey/config"
	"github.com/sweetpotato0/paper-survey/contrib/provider/claude"
	"github.com/sweetpotato0/paper-survey/contrib/provider/openai"
	"github.com/sweetpotato0/paper-survey/fetch"
	"github.com/sweetpotato0/paper-survey/middleware"
	"github.com/sweetpotato0/paper-survey/middleware/errorhandler"
	"github.com/sweetpotato0/paper-survey/middleware/limiter"
	calllog "github.com/sweetpotato0/paper-survey/middleware/logger"
	"github.com/sweetpotato0/paper-survey/middleware/validator"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"github.com/sweetpotato0/paper-survey/prompt"
	"github.com/sweetpotato0/paper-survey/report"
	"github.com/sweetpotato0/paper-survey/scholar"
	"github.com/sweetpotato0/paper-survey/tool"
	"github.com/sweetpotato0/paper-survey/tool/mcp"
	"github.com/sweetpotato0/paper-survey/tool/research"
	"github.com/sweetpotato0/paper-survey/workflow"
)

// app is the wired object graph behind a command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	llm      agent.LLMClient
	fetcher  *fetch.Fetcher
	library  *research.Library
	registry *tool.Registry
	prompts  *prompt.Manager
	archive  archive.Store
	closers  []func()
}

// newLLM builds the reasoning client selected by cfg.Provider.
func newLLM(cfg config.LLMConfig) (agent.LLMClient, error) {
	switch cfg.Provider {
	case "", "openai":
		oc := openai.DefaultConfig(cfg.APIKey, cfg.BaseURL)
		oc.Temperature = cfg.Temperature
		oc.Timeout = cfg.Timeout
		oc.MaxRetries = cfg.MaxRetries
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.MaxTokens > 0 {
			oc.MaxTokens = int64(cfg.MaxTokens)
		}
		// Compatible endpoints often lack json_schema response formats.
		oc.PromptSchema = cfg.BaseURL != ""
		return openai.New(oc), nil
	case "anthropic", "claude":
		cc := claude.DefaultConfig(cfg.APIKey, cfg.BaseURL)
		cc.Temperature = cfg.Temperature
		cc.Timeout = cfg.Timeout
		cc.MaxRetries = cfg.MaxRetries
		if cfg.Model != "" {
			cc.Model = cfg.Model
		}
		if cfg.MaxTokens > 0 {
			cc.MaxTokens = int64(cfg.MaxTokens)
		}
		return claude.New(cc), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newFetcher(cfg config.FetchConfig) *fetch.Fetcher {
	return fetch.New(
		fetch.WithSaveDir(cfg.SaveDir),
		fetch.WithMaxAttempts(cfg.Attempts),
		fetch.WithBaseDelay(cfg.BaseDelay),
		fetch.WithAttemptTimeout(cfg.Timeout),
		fetch.WithConcurrency(cfg.Concurrency),
		fetch.WithUserAgent(cfg.UserAgent),
	)
}

// withMiddleware decorates llm with logging, error classification, the
// optional call budget and pacing, and request/response validation.
func withMiddleware(llm agent.LLMClient, cfg config.LLMConfig, logger *slog.Logger) agent.LLMClient {
	chain := []middleware.Middleware{
		calllog.New(logger),
		errorhandler.NewErrorHandler(errorhandler.Transient("llm", cfg.MaxRetries+1)),
	}
	if cfg.MaxCalls > 0 {
		chain = append(chain, limiter.NewBudget(cfg.MaxCalls))
	}
	if cfg.RequestsPerMinute > 0 {
		chain = append(chain, limiter.NewRateLimiter(cfg.RequestsPerMinute, 1))
	}
	chain = append(chain,
		validator.NewInputValidator(validator.RequireMessages),
		validator.NewResponseFilter(validator.RequireMessage),
	)
	return middleware.Wrap(llm, chain...)
}

// newApp wires providers, tools and the archive. human is used both by the
// chat prompt and by the ask-human-feedback tool; nil disables the tool.
func newApp(ctx context.Context, cfg *config.Config, human *bufio.Reader, out io.Writer) (*app, error) {
	llm, err := newLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	logger := logging.WithComponent("cli")
	a := &app{
		cfg:      cfg,
		logger:   logger,
		llm:      withMiddleware(llm, cfg.LLM, logging.WithComponent("llm")),
		fetcher:  newFetcher(cfg.Fetch),
		library:  research.NewLibrary(),
		registry: tool.NewRegistry(),
		prompts:  prompt.NewDefaultManager(),
	}
	if cfg.PromptsDir != "" {
		n, err := a.prompts.LoadDir(cfg.PromptsDir)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		logger.Info("loaded prompt overrides", "dir", cfg.PromptsDir, "count", n)
	}

	searcher := scholar.NewClient(cfg.Search.APIKey,
		scholar.WithEndpoint(cfg.Search.Endpoint),
		scholar.WithRetry(cfg.Search.Retries, cfg.Search.BaseDelay),
	)
	opts := []research.Option{research.WithAutoDownload(cfg.Search.AutoDownload)}
	if human != nil {
		opts = append(opts, research.WithHumanIO(human, out))
	}
	if err := research.NewToolkit(searcher, a.fetcher, a.library, opts...).Register(a.registry); err != nil {
		return nil, err
	}

	for _, srv := range mcpServers(cfg.MCP) {
		session, err := mcp.Dial(ctx, srv, mcp.WithLogger(a.logger))
		if err != nil {
			a.Close()
			return nil, err
		}
		stop, err := mcp.Attach(ctx, a.registry, session, a.logger)
		if err != nil {
			session.Close()
			a.Close()
			return nil, fmt.Errorf("attach mcp %s: %w", srv.Name, err)
		}
		a.closers = append(a.closers, stop, func() { session.Close() })
	}

	store, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		a.Close()
		return nil, err
	}
	if store != nil {
		a.archive = store
		a.closers = append(a.closers, func() { store.Close() })
	}
	return a, nil
}

// mcpServers merges named servers with bare endpoints, which are named
// mcp1, mcp2 and so on.
func mcpServers(cfg config.MCPConfig) []mcp.Server {
	servers := make([]mcp.Server, 0, len(cfg.Servers)+len(cfg.Endpoints))
	for _, s := range cfg.Servers {
		servers = append(servers, mcp.Server{Name: s.Name, Endpoint: s.Endpoint, Command: s.Command, Args: s.Args})
	}
	for i, endpoint := range cfg.Endpoints {
		servers = append(servers, mcp.Server{Name: fmt.Sprintf("mcp%d", i+1), Endpoint: endpoint})
	}
	return servers
}

func (a *app) generator() *report.Generator {
	return report.New(a.llm,
		report.WithDraftConcurrency(a.cfg.Report.DraftConcurrency),
		report.WithSummaryConcurrency(a.cfg.Report.SummaryConcurrency),
		report.WithMaxDocumentTokens(a.cfg.Report.MaxDocumentTokens),
		report.WithLanguage(a.cfg.Report.Language),
		report.WithPrompts(a.prompts),
	)
}

func (a *app) engine(observer workflow.Observer) *workflow.Engine {
	opts := []workflow.Option{
		workflow.WithReportGenerator(a.generator()),
		workflow.WithDocumentSource(a.library),
		workflow.WithFeedbackCeiling(a.cfg.Workflow.FeedbackCeiling),
		workflow.WithMaxSteps(a.cfg.Workflow.MaxSteps),
		workflow.WithMaxReferences(a.cfg.Report.MaxReferences),
		workflow.WithAgentOptions(
			agent.WithMaxIterations(a.cfg.Workflow.MaxToolIterations),
			agent.WithParallelTools(a.cfg.Workflow.ParallelTools),
		),
		workflow.WithPrompts(a.prompts),
		workflow.WithTracer(telemetry.Tracer()),
		workflow.WithObserver(observer),
	}
	if a.archive != nil {
		opts = append(opts, workflow.WithArchive(a.archive))
	}
	return workflow.New(a.llm, a.registry, opts...)
}

// Close releases MCP sessions and archive connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
