package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/paper-survey/tool"
)

// Attach loads the provider's tools into registry and keeps them fresh while
// the provider reports changes. The returned stop function ends the watcher.
func Attach(ctx context.Context, registry *tool.Registry, provider tool.Provider, logger *slog.Logger) (func(), error) {
	if registry == nil || provider == nil {
		return nil, fmt.Errorf("mcp: registry and provider are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := refresh(ctx, registry, provider); err != nil {
		return nil, err
	}

	ch := provider.ToolsChanged()
	if ch == nil {
		return func() {}, nil
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				if err := refresh(watchCtx, registry, provider); err != nil {
					logger.Warn("refresh mcp tools failed", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func refresh(ctx context.Context, registry *tool.Registry, provider tool.Provider) error {
	tools, err := provider.Tools(ctx)
	if err != nil {
		return fmt.Errorf("load tools from provider: %w", err)
	}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			continue
		}
		if err := registry.Upsert(t); err != nil {
			return err
		}
	}
	return nil
}
