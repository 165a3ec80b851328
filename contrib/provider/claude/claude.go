package claude

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/sweetpotato0/paper-survey/agent"
	"github.com/sweetpotato0/paper-survey/contrib/provider"
	"github.com/sweetpotato0/paper-survey/message"
)

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0.3,
		MaxRetries:  2,
	}
}

// Provider implements agent.LLMClient for the Anthropic messages API
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using official SDK
func New(config *Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithAuthToken(""),
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		options = append(options, option.WithRequestTimeout(config.Timeout))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	client := anthropic.NewClient(options...)

	return &Provider{
		config: config,
		client: client,
	}
}

// Generate implements agent.LLMClient interface. Schemas are sent as a
// system instruction since the messages API has no JSON response mode.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	var systemPrompts []string
	for _, msg := range req.Messages {
		if msg.Role == message.RoleSystem {
			systemPrompts = append(systemPrompts, msg.Content)
		}
	}
	if req.Schema != nil {
		systemPrompts = append(systemPrompts, provider.SchemaInstruction(req.Schema))
	}

	conversation, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: p.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n\n")},
		}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}

	if len(req.Tools) > 0 {
		fns, err := provider.Functions(req.Tools)
		if err != nil {
			return nil, err
		}
		claudeTools := make([]anthropic.ToolUnionParam, 0, len(fns))
		for _, fn := range fns {
			toolParam := anthropic.ToolParam{
				Name: fn.Name,
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: fn.Parameters["properties"],
					Required:   provider.Required(fn.Parameters),
				},
			}
			if fn.Description != "" {
				toolParam.Description = param.NewOpt(fn.Description)
			}
			claudeTools = append(claudeTools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = claudeTools
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var text strings.Builder
	var toolCalls []message.ToolCall
	for _, content := range apiMessage.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			toolCalls = append(toolCalls, message.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: provider.DecodeArgs(content.Input),
			})
		}
	}

	responseMsg := message.NewMessage(message.RoleAssistant, text.String())
	if len(toolCalls) > 0 {
		responseMsg.ToolCalls = toolCalls
	}
	return &agent.GenerateResponse{
		Message: responseMsg,
		Usage: agent.Usage{
			PromptTokens:     apiMessage.Usage.InputTokens,
			CompletionTokens: apiMessage.Usage.OutputTokens,
		},
	}, nil
}

// convertMessages maps the history onto alternating user/assistant turns.
// Consecutive tool observations become one user turn of tool_result blocks.
func convertMessages(msgs []*message.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	var pending []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleTool:
			isError, _ := msg.Metadata["error"].(bool)
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolID, msg.Content, isError))
		case message.RoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			flush()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()
	return out, nil
}
