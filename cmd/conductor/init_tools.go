package main

import (
	"context"
	"fmt"
	"log/slog"

	"conductor/internal/adapter/plugin"
	"conductor/internal/adapter/search"
	"conductor/internal/adapter/tool"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase/toolexec"
)

// ToolComponents holds the executor and the tool sources registered on it.
type ToolComponents struct {
	Executor *toolexec.Executor
	Builtins *tool.Builtins
	MCP      *plugin.MCPBridge
}

func initTools(ctx context.Context, cfg *config.Config, llmProvider domain.LLMProvider, log *slog.Logger) (*ToolComponents, func(), error) {
	exec := toolexec.NewExecutor(log.With("component", "toolexec"),
		toolexec.WithDefaultTimeout(cfg.Tools.DefaultTimeout),
		toolexec.WithRateLimit(cfg.Tools.RateLimit, cfg.Tools.RateBurst),
	)

	builtins := tool.NewBuiltins(tool.Deps{
		Search:        newSearchProvider(cfg.Search, log),
		LLM:           llmProvider,
		Model:         cfg.LLM.Model,
		Logger:        log.With("component", "tools"),
		AgentKeywords: cfg.Routing.Keywords,
		FallbackAgent: cfg.Routing.FallbackAgent,
	})
	if err := builtins.Register(exec, cfg.Tools.Timeouts); err != nil {
		return nil, nil, err
	}
	comp := &ToolComponents{Executor: exec, Builtins: builtins}

	if len(cfg.Tools.MCPServers) == 0 {
		return comp, func() {}, nil
	}
	bridge, err := plugin.NewMCPBridge(ctx, cfg.Tools.MCPServers, log.With("component", "mcp"))
	if err != nil {
		return nil, nil, fmt.Errorf("mcp: %w", err)
	}
	n := bridge.RegisterAll(exec)
	log.Info("mcp tools registered", "servers", len(cfg.Tools.MCPServers), "tools", n)
	comp.MCP = bridge
	return comp, bridge.Close, nil
}

func newSearchProvider(cfg config.SearchConfig, log *slog.Logger) domain.SearchProvider {
	if cfg.Backend == "searxng" && cfg.SearXNGURL != "" {
		return search.NewSearXNGProvider(cfg.SearXNGURL, log)
	}
	return search.NewStaticProvider()
}
