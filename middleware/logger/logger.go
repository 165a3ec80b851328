// Package logger records every model call in the structured log and the
// Prometheus LLM instruments.
package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/paper-survey/middleware"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
)

// CallLogger logs model requests and responses
type CallLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a call logging middleware. A nil logger uses slog.Default.
func New(logger *slog.Logger) *CallLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallLogger{logger: logger, now: time.Now}
}

// Name returns the middleware name
func (m *CallLogger) Name() string {
	return "CallLogger"
}

// Execute logs the call and observes its duration and token usage.
func (m *CallLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := m.now()
	attrs := []any{}
	if ctx.Request != nil {
		attrs = append(attrs,
			"messages", len(ctx.Request.Messages),
			"tools", len(ctx.Request.Tools),
			"structured", ctx.Request.Schema != nil,
		)
	}
	m.logger.Debug("llm request", attrs...)

	err := next(ctx)
	elapsed := m.now().Sub(start)
	metrics.LLMDuration.Observe(elapsed.Seconds())
	metrics.LLMCalls.WithLabelValues(metrics.Outcome(err)).Inc()

	if err != nil {
		m.logger.Warn("llm request failed", "duration", elapsed, "error", err)
		return err
	}
	if resp := ctx.Response; resp != nil {
		metrics.LLMTokens.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokens.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))
		toolCalls := 0
		if resp.Message != nil {
			toolCalls = len(resp.Message.ToolCalls)
		}
		m.logger.Debug("llm response",
			"duration", elapsed,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"tool_calls", toolCalls,
		)
	}
	return nil
}
