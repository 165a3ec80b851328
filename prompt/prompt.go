// Package prompt holds the text/template prompts sent to the reasoning model.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// Template is a named, parsed prompt. Missing variables render as zero values.
type Template struct {
	Name     string
	Content  string
	template *template.Template
}

// NewTemplate parses content.
func NewTemplate(name, content string) (*Template, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return &Template{Name: name, Content: content, template: tmpl}, nil
}

// Render executes the template with vars.
func (t *Template) Render(vars map[string]interface{}) (string, error) {
	var buf strings.Builder
	if err := t.template.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// Manager is a concurrency-safe set of templates keyed by name.
type Manager struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{templates: make(map[string]*Template)}
}

// Register adds a template. Names must be unique.
func (m *Manager) Register(name, content string) error {
	if name == "" {
		return fmt.Errorf("prompt name cannot be empty")
	}
	tmpl, err := NewTemplate(name, content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[name]; exists {
		return fmt.Errorf("prompt %s already registered", name)
	}
	m.templates[name] = tmpl
	return nil
}

// Override registers or replaces a template.
func (m *Manager) Override(name, content string) error {
	tmpl, err := NewTemplate(name, content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[name] = tmpl
	return nil
}

// Get returns the template called name.
func (m *Manager) Get(name string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tmpl, ok := m.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt %s not found", name)
	}
	return tmpl, nil
}

// Render renders the template called name.
func (m *Manager) Render(name string, vars map[string]interface{}) (string, error) {
	tmpl, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return tmpl.Render(vars)
}

// Names returns the registered template names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir overrides templates from <dir>/<name>.tmpl files. Files whose
// name is not already registered are rejected so typos surface early.
func (m *Manager) LoadDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return 0, err
	}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".tmpl")
		if _, err := m.Get(name); err != nil {
			return 0, fmt.Errorf("unknown prompt file %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		if err := m.Override(name, string(data)); err != nil {
			return 0, err
		}
	}
	return len(paths), nil
}
