package agent

import (
	"context"

	"github.com/sweetpotato0/paper-survey/message"
)

// LLMClient is the reasoning capability every component depends on. Given a
// message history it returns an assistant message that may carry tool calls.
type LLMClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest bundles inputs for one LLM invocation.
type GenerateRequest struct {
	Messages []*message.Message
	Tools    []map[string]any
	// Schema asks the provider for JSON output matching the schema. Providers
	// without native support append the schema to the prompt instead.
	Schema *Schema
}

// GenerateResponse captures the LLM reply.
type GenerateResponse struct {
	Message *message.Message
	Usage   Usage
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Schema names a JSON schema for structured output.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// LLMFunc adapts a function to LLMClient.
type LLMFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

// Generate calls f.
func (f LLMFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}
