package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/message"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"github.com/sweetpotato0/paper-survey/runner"
	"github.com/sweetpotato0/paper-survey/tool"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxIterations bounds how many model turns one loop may take.
const DefaultMaxIterations = 25

// LoopState is the phase of the tool-calling loop.
type LoopState string

const (
	StateDeciding  LoopState = "deciding"
	StateExecuting LoopState = "executing"
)

// Agent runs the propose, execute, observe cycle against a tool registry.
type Agent struct {
	name          string
	systemPrompt  string
	maxIterations int
	parallelTools bool
	llm           LLMClient
	tools         *tool.Registry
	logger        *slog.Logger
	onState       func(LoopState, int)
}

// Option is a function that configures an Agent
type Option func(*Agent)

// WithName sets the agent name
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

// WithSystemPrompt sets a system prompt sent ahead of the history
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithMaxIterations sets the maximum number of model turns
func WithMaxIterations(max int) Option {
	return func(a *Agent) {
		if max > 0 {
			a.maxIterations = max
		}
	}
}

// WithParallelTools runs the tool calls of one turn concurrently. Observations
// are still appended in request order.
func WithParallelTools(enable bool) Option {
	return func(a *Agent) {
		a.parallelTools = enable
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStateObserver registers a callback invoked on every loop transition.
func WithStateObserver(fn func(state LoopState, iteration int)) Option {
	return func(a *Agent) {
		a.onState = fn
	}
}

// New creates a new agent bound to an LLM and a tool registry.
func New(llm LLMClient, tools *tool.Registry, opts ...Option) *Agent {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	agent := &Agent{
		name:          "agent",
		maxIterations: DefaultMaxIterations,
		llm:           llm,
		tools:         tools,
		logger:        logging.WithComponent("agent"),
	}

	for _, opt := range opts {
		opt(agent)
	}

	return agent
}

// Tools returns the registry used by the agent.
func (a *Agent) Tools() *tool.Registry {
	return a.tools
}

// Result is what one loop run adds to the conversation.
type Result struct {
	// Messages holds the new messages in order: assistant replies and tool
	// observations. The caller merges them into its history.
	Messages     []*message.Message
	Final        *message.Message
	Iterations   int
	ToolCalls    int
	ToolFailures int
}

// Run drives the loop over history until the model stops requesting tools.
// Tool failures become observations. Exceeding the iteration ceiling returns an
// ExecutionError together with the partial result.
func (a *Agent) Run(ctx context.Context, history []*message.Message) (res *Result, err error) {
	if a.llm == nil {
		return nil, fmt.Errorf("agent %s: LLM is not configured", a.name)
	}

	ctx, span := telemetry.Start(ctx, "agent", "run", attribute.String("agent.name", a.name))
	defer func() { telemetry.End(span, err) }()

	msgs := make([]*message.Message, 0, len(history)+1)
	if a.systemPrompt != "" {
		msgs = append(msgs, message.NewMessage(message.RoleSystem, a.systemPrompt))
	}
	msgs = append(msgs, history...)

	res = &Result{}
	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		res.Iterations = iteration
		a.transition(StateDeciding, iteration)

		resp, err := a.llm.Generate(ctx, &GenerateRequest{
			Messages: msgs,
			Tools:    a.tools.ToJSONSchemas(),
		})
		if err != nil {
			return res, fmt.Errorf("agent %s: generation failed: %w", a.name, err)
		}
		if resp == nil || resp.Message == nil {
			return res, fmt.Errorf("agent %s: empty response", a.name)
		}

		reply := resp.Message
		reply.Role = message.RoleAssistant
		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		msgs = append(msgs, reply)
		res.Messages = append(res.Messages, reply)

		if len(reply.ToolCalls) == 0 {
			res.Final = reply
			span.SetAttributes(attribute.Int("agent.iterations", iteration))
			return res, nil
		}

		a.transition(StateExecuting, iteration)
		observations, failures := a.execute(ctx, reply.ToolCalls)
		msgs = append(msgs, observations...)
		res.Messages = append(res.Messages, observations...)
		res.ToolCalls += len(observations)
		res.ToolFailures += failures
	}

	return res, apperr.NewExecutionError("agent loop", fmt.Errorf("%w: %d", apperr.ErrMaxIterations, a.maxIterations))
}

func (a *Agent) transition(state LoopState, iteration int) {
	a.logger.Debug("agent state", "agent", a.name, "state", state, "iteration", iteration)
	if a.onState != nil {
		a.onState(state, iteration)
	}
}

// execute runs every call of one turn and returns the observations in call
// order along with the number of failed calls.
func (a *Agent) execute(ctx context.Context, calls []message.ToolCall) ([]*message.Message, int) {
	if !a.parallelTools || len(calls) == 1 {
		observations := make([]*message.Message, 0, len(calls))
		failures := 0
		for _, call := range calls {
			obs, failed := a.invoke(ctx, call)
			if failed {
				failures++
			}
			observations = append(observations, obs)
		}
		return observations, failures
	}

	type outcome struct {
		obs    *message.Message
		failed bool
	}
	batch, _ := runner.Run(ctx, calls, func(ctx context.Context, call message.ToolCall) (outcome, error) {
		obs, failed := a.invoke(ctx, call)
		return outcome{obs: obs, failed: failed}, nil
	}, len(calls), runner.WithName("tools"))

	observations := make([]*message.Message, 0, len(calls))
	failures := 0
	for i, r := range batch.Results {
		if r.Err != nil {
			failures++
			observations = append(observations, failureObservation(calls[i], r.Err))
			continue
		}
		if r.Value.failed {
			failures++
		}
		observations = append(observations, r.Value.obs)
	}
	return observations, failures
}

func (a *Agent) invoke(ctx context.Context, call message.ToolCall) (*message.Message, bool) {
	result, err := a.tools.Execute(ctx, call.Name, call.Args)
	metrics.ToolCalls.WithLabelValues(call.Name, metrics.Outcome(err)).Inc()
	if err != nil {
		a.logger.Warn("tool call failed", "agent", a.name, "tool", call.Name, "call_id", call.ID, "error", err)
		return failureObservation(call, err), true
	}
	return message.NewToolResponseMessage(call.ID, call.Name, result), false
}

func failureObservation(call message.ToolCall, err error) *message.Message {
	obs := message.NewToolResponseMessage(call.ID, call.Name, fmt.Sprintf("Error executing tool %s: %v", call.Name, err))
	obs.Metadata["error"] = true
	return obs
}
