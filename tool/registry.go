package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	apperr "github.com/sweetpotato0/paper-survey/errors"
)

var errUnnamed = errors.New("tool name cannot be empty")

// Provider is an external source of tools, such as an MCP server session.
type Provider interface {
	Tools(ctx context.Context) ([]*Tool, error)
	// ToolsChanged fires when Tools would return a different set. Nil means
	// the set never changes.
	ToolsChanged() <-chan struct{}
	Close() error
}

// Registry is the set of tools visible to the agent loop. It is safe for
// concurrent use; MCP watchers upsert into it while runs read from it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		_ = r.Upsert(t)
	}
	return r
}

// Register adds t and fails with apperr.ErrAlreadyExists on a name clash.
func (r *Registry) Register(t *Tool) error {
	return r.put(t, false)
}

// Upsert adds t or replaces the tool of the same name.
func (r *Registry) Upsert(t *Tool) error {
	return r.put(t, true)
}

func (r *Registry) put(t *Tool, replace bool) error {
	if t == nil || t.Name == "" {
		return errUnnamed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]*Tool)
	}
	if _, taken := r.tools[t.Name]; taken && !replace {
		return fmt.Errorf("tool %s: %w", t.Name, apperr.ErrAlreadyExists)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", name, apperr.ErrNotFound)
	}
	return t, nil
}

// List returns the tools ordered by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Tool) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (r *Registry) ToJSONSchemas() []map[string]any {
	list := r.List()
	out := make([]map[string]any, len(list))
	for i, t := range list {
		out[i] = t.ToJSONSchema()
	}
	return out
}

// Describe lists one "- signature" line per tool for planning prompts.
func (r *Registry) Describe() string {
	var b strings.Builder
	for i, t := range r.List() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(t.Describe())
	}
	return b.String()
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx, args)
}

func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToJSONSchemas())
}
