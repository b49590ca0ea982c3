package main

import (
	"fmt"
	"log/slog"

	"conductor/internal/adapter/bridge"
	"conductor/internal/adapter/httpapi"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase/agent"
	"conductor/internal/usecase/eventbus"
	"conductor/internal/usecase/messaging"
	"conductor/internal/usecase/orchestrator"
)

type runtimeDeps struct {
	Bus       *eventbus.Bus
	Tools     orchestratorTools
	Safety    domain.SafetyChecker
	Audit     domain.AuditLogger
	Knowledge agent.Knowledge
	Memory    agent.MemoryRecorder
	LLM       domain.LLMProvider
}

// orchestratorTools is what both agents and the orchestrator need from the
// tool executor.
type orchestratorTools interface {
	domain.ToolRunner
	orchestrator.ToolExecutor
}

// RuntimeComponents holds the routing core.
type RuntimeComponents struct {
	Router       *messaging.Router
	Orchestrator *orchestrator.Orchestrator
	Agents       []*agent.Agent
}

// initRuntime creates the router, the orchestrator and one agent per
// configured entry.
func initRuntime(cfg *config.Config, deps runtimeDeps, log *slog.Logger) (*RuntimeComponents, error) {
	router := messaging.NewRouter(deps.Bus, log.With("component", "router"))

	orch, err := orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Router: router,
		Bus:    deps.Bus,
		Tools:  deps.Tools,
		Safety: deps.Safety,
		Hook:   interventionHook(cfg.Intervene, log),
		Audit:  deps.Audit,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	rt := &RuntimeComponents{Router: router, Orchestrator: orch}
	for _, ac := range cfg.Agents {
		a := agent.New(agent.Config{
			ID:           ac.ID,
			Name:         ac.Name,
			Role:         ac.Role,
			Goal:         ac.Goal,
			Capabilities: ac.Capabilities,
			MemorySize:   ac.MemorySize,
		}, agent.Deps{
			Tools:     deps.Tools,
			Safety:    deps.Safety,
			Knowledge: deps.Knowledge,
			Memory:    deps.Memory,
			LLM:       deps.LLM,
			Model:     cfg.LLM.Model,
			Logger:    log,
		})
		a.Start()
		if err := orch.RegisterAgent(a); err != nil {
			a.Stop()
			orch.Close()
			return nil, fmt.Errorf("agent %s: %w", ac.ID, err)
		}
		rt.Agents = append(rt.Agents, a)
	}
	return rt, nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Routing: orchestrator.RoutingConfig{
			ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
			BaseConfidence:      cfg.Routing.BaseConfidence,
			DefaultConfidence:   cfg.Routing.DefaultConfidence,
			FallbackAgent:       cfg.Routing.FallbackAgent,
			Keywords:            cfg.Routing.Keywords,
		},
		ResourceLimits:     cfg.Resources.Limits,
		HighRiskTools:      cfg.Tools.HighRisk,
		ToolTimeouts:       cfg.Tools.Timeouts,
		DefaultToolTimeout: cfg.Tools.DefaultTimeout,
		TaskAgent:          taskAgentID(cfg.Agents, cfg.Routing.FallbackAgent),
		AutoRecover:        cfg.Recovery.AutoRecover,
	}
}

// taskAgentID returns the first agent with the task manager role.
func taskAgentID(agents []config.AgentConfig, fallback string) string {
	for _, a := range agents {
		if a.Role == domain.RoleTask {
			return a.ID
		}
	}
	return fallback
}

func interventionHook(cfg config.InterveneConfig, log *slog.Logger) orchestrator.InterventionHook {
	if cfg.Mode == "policy" {
		log.Info("intervention policy enabled",
			"approve_agents", cfg.ApproveAgents,
			"deny_agents", cfg.DenyAgents,
			"deny_tools", cfg.DenyTools,
		)
		return orchestrator.NewPolicyHook(cfg.ApproveAgents, cfg.DenyAgents, cfg.ApproveTools, cfg.DenyTools)
	}
	return orchestrator.NewAutoApprove(log)
}

// TransportComponents holds the optional outer surfaces.
type TransportComponents struct {
	HTTP   *httpapi.Server
	Bridge *bridge.Bridge
}

// Close detaches the bridge. The HTTP server is stopped by run.
func (t *TransportComponents) Close() {
	if t.Bridge != nil {
		t.Bridge.Close()
	}
}

func initTransport(cfg *config.Config, rt *RuntimeComponents, bus *eventbus.Bus, log *slog.Logger) (*TransportComponents, error) {
	tc := &TransportComponents{}

	if cfg.Server.Enabled {
		srv, err := httpapi.NewServer(cfg.Server, httpapi.Deps{
			Orchestrator: rt.Orchestrator,
			History:      rt.Router,
			Bus:          bus,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		tc.HTTP = srv
	}

	if cfg.Bridge.NATSURL != "" {
		b, err := bridge.Connect(cfg.Bridge, bus, rt.Router, log)
		if err != nil {
			return nil, fmt.Errorf("nats bridge: %w", err)
		}
		tc.Bridge = b
	}
	return tc, nil
}
