// Package middleware wraps reasoning-model calls in a chain of interceptors
// for logging, rate limiting, validation and error classification.
package middleware

import (
	"context"

	"github.com/sweetpotato0/paper-survey/agent"
)

// Context carries one Generate call through the chain. Response and Error
// are filled once the provider has answered.
type Context struct {
	Request  *agent.GenerateRequest
	Response *agent.GenerateResponse
	Error    error
	// Metadata lets interceptors hand values to the ones below them.
	Metadata map[string]any

	ctx context.Context
}

func NewContext(ctx context.Context, req *agent.GenerateRequest) *Context {
	return &Context{Request: req, Metadata: map[string]any{}, ctx: ctx}
}

// Context returns the call's context.Context, or Background for a zero
// Context.
func (c *Context) Context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// Handler continues the chain.
type Handler func(*Context) error

// Middleware intercepts a model call. It must call next to reach the
// provider; returning without doing so short-circuits the call.
type Middleware interface {
	Name() string
	Execute(ctx *Context, next Handler) error
}

// Chain runs middlewares in insertion order, the first one outermost.
type Chain struct {
	items []Middleware
}

func NewChain(items ...Middleware) *Chain {
	return &Chain{items: items}
}

func (c *Chain) Add(m Middleware) *Chain {
	c.items = append(c.items, m)
	return c
}

// Execute threads ctx through every middleware and finally into last.
func (c *Chain) Execute(ctx *Context, last Handler) error {
	h := last
	for i := len(c.items) - 1; i >= 0; i-- {
		m, next := c.items[i], h
		h = func(mc *Context) error { return m.Execute(mc, next) }
	}
	return h(ctx)
}

// Wrap returns an LLMClient that sends every Generate call through
// middlewares, outermost first. With no middlewares llm is returned as is.
func Wrap(llm agent.LLMClient, middlewares ...Middleware) agent.LLMClient {
	if len(middlewares) == 0 {
		return llm
	}
	return &wrapped{llm: llm, chain: NewChain(middlewares...)}
}

type wrapped struct {
	llm   agent.LLMClient
	chain *Chain
}

func (w *wrapped) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	mc := NewContext(ctx, req)
	call := func(c *Context) error {
		c.Response, c.Error = w.llm.Generate(c.Context(), c.Request)
		return c.Error
	}
	if err := w.chain.Execute(mc, call); err != nil {
		return nil, err
	}
	return mc.Response, nil
}
