package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sweetpotato0/paper-survey/agent"
	"github.com/sweetpotato0/paper-survey/contrib/provider"
	"github.com/sweetpotato0/paper-survey/message"
)

// Config holds OpenAI provider configuration. Any OpenAI-compatible endpoint
// can be used through BaseURL.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	// PromptSchema sends structured-output schemas as prompt text instead of
	// response_format, for compatible endpoints that reject json_schema.
	PromptSchema bool
	HTTPClient   *http.Client
}

const defaultModel = "gpt-4o-mini"

// DefaultConfig returns settings for apiKey against baseURL. An empty
// baseURL means api.openai.com.
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       defaultModel,
		MaxTokens:   4096,
		Temperature: 0.3,
		MaxRetries:  2,
	}
}

// Provider is an agent.LLMClient over chat completions.
type Provider struct {
	config *Config
	client openai.Client
}

func New(cfg *Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Provider{config: cfg, client: openai.NewClient(requestOptions(cfg)...)}
}

func requestOptions(cfg *Config) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return opts
}

// Generate implements agent.LLMClient interface
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	msgs := req.Messages
	if req.Schema != nil && p.config.PromptSchema {
		msgs = append(append([]*message.Message(nil), msgs...),
			message.NewMessage(message.RoleSystem, provider.SchemaInstruction(req.Schema)))
	}
	openAIMessages, err := convertMessages(msgs)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Messages: openAIMessages,
		Model:    openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}

	if len(req.Tools) > 0 {
		fns, err := provider.Functions(req.Tools)
		if err != nil {
			return nil, err
		}
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(fns))
		for _, fn := range fns {
			tools = append(tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        fn.Name,
				Description: param.NewOpt(fn.Description),
				Parameters:  shared.FunctionParameters(fn.Parameters),
			}))
		}
		params.Tools = tools
	}

	if req.Schema != nil && !p.config.PromptSchema {
		schema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   req.Schema.Name,
			Schema: req.Schema.Definition,
		}
		if req.Schema.Description != "" {
			schema.Description = param.NewOpt(req.Schema.Description)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: schema},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	choice := completion.Choices[0]
	responseMsg := message.NewMessage(message.RoleAssistant, choice.Message.Content)
	if len(choice.Message.ToolCalls) > 0 {
		toolCalls := make([]message.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, message.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: provider.DecodeArgs([]byte(tc.Function.Arguments)),
			})
		}
		responseMsg.ToolCalls = toolCalls
	}

	return &agent.GenerateResponse{
		Message: responseMsg,
		Usage: agent.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func convertMessages(msgs []*message.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case message.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			assistantMsg := openai.AssistantMessage(msg.Content)
			if len(msg.ToolCalls) > 0 {
				toolCalls, err := encodeToolCalls(msg.ToolCalls)
				if err != nil {
					return nil, fmt.Errorf("failed to encode tool calls: %w", err)
				}
				if assistantMsg.OfAssistant != nil {
					assistantMsg.OfAssistant.ToolCalls = toolCalls
				}
			}
			out = append(out, assistantMsg)
		case message.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolID))
		}
	}
	return out, nil
}

func encodeToolCalls(calls []message.ToolCall) ([]openai.ChatCompletionMessageToolCallUnionParam, error) {
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		var raw []byte
		if text, ok := tc.Args[message.RawArgumentsKey].(string); ok {
			raw = []byte(text)
		} else {
			args := tc.Args
			if args == nil {
				args = make(map[string]any)
			}
			var err error
			if raw, err = json.Marshal(args); err != nil {
				return nil, err
			}
		}
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			},
		})
	}
	return params, nil
}
