package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"conductor/internal/domain"
	"conductor/internal/usecase/knowledge"
)

// Env is what a strategy may do on behalf of its agent.
type Env interface {
	ID() string
	Goal() string
	UseTool(ctx context.Context, name string, args map[string]any) domain.Response
}

// Strategy produces the content of an agent's reply.
type Strategy interface {
	Name() string
	Respond(ctx context.Context, env Env, msg domain.Message) (any, error)
}

// TaskTracker is implemented by strategies that keep a task table.
type TaskTracker interface {
	UpdateProgress(ctx context.Context, env Env, taskID string, progress float64) error
	Tasks() []Task
}

// Knowledge is the subset of the knowledge base strategies use.
type Knowledge interface {
	Query(ctx context.Context, query, domainName string, limit int) (knowledge.QueryResult, error)
	Add(ctx context.Context, req knowledge.AddRequest) (string, error)
}

// Defaults describes a role's goal and tool set. Importance weights the
// role's conversation entries in shared memory.
type Defaults struct {
	Goal         string
	Capabilities []string
	Importance   float64
}

var roleDefaults = map[string]Defaults{
	domain.RoleCode: {
		Goal:         "Generate and analyze code efficiently and safely",
		Capabilities: []string{domain.ToolCodeAnalysis, domain.ToolCodeGeneration, domain.ToolTesting},
		Importance:   0.5,
	},
	domain.RoleResearch: {
		Goal:         "Gather and synthesize information effectively",
		Capabilities: []string{domain.ToolSearch, domain.ToolSummarize, domain.ToolFactCheck},
		Importance:   0.5,
	},
	domain.RoleTask: {
		Goal:         "Coordinate tasks and manage agent collaboration",
		Capabilities: []string{domain.ToolTaskPlanning, domain.ToolAgentCoordination, domain.ToolProgressTracking},
		Importance:   0.6,
	},
	domain.RoleGeneric: {
		Goal:       "Help the user",
		Importance: 0.3,
	},
}

// RoleDefaults returns the defaults for role; unknown roles get the generic set.
func RoleDefaults(role string) Defaults {
	if d, ok := roleDefaults[role]; ok {
		return d
	}
	return roleDefaults[domain.RoleGeneric]
}

// StrategyFor selects the strategy for role.
func StrategyFor(role string, deps Deps) Strategy {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch role {
	case domain.RoleCode:
		return &CodeStrategy{knowledge: deps.Knowledge, logger: logger}
	case domain.RoleResearch:
		return &ResearchStrategy{knowledge: deps.Knowledge, logger: logger}
	case domain.RoleTask:
		return NewTaskStrategy()
	default:
		return &GenericStrategy{llm: deps.LLM, model: deps.Model}
	}
}

// callTool runs a tool through env and decodes its result into T.
func callTool[T any](ctx context.Context, env Env, name string, args map[string]any) (T, error) {
	var out T
	resp := env.UseTool(ctx, name, args)
	if !resp.Success {
		err := fmt.Errorf("%w: %s: %s", domain.ErrExecution, name, resp.Error)
		if len(resp.Issues) > 0 {
			err = fmt.Errorf("%w: %s: %s", domain.ErrSafetyRejected, name, resp.Error)
		}
		return out, err
	}
	return decodeAs[T](resp.Content)
}

// decodeAs converts a tool result into T. Results from in-process tools are
// already typed; results from remote tools arrive as generic JSON.
func decodeAs[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	if p, ok := v.(*T); ok && p != nil {
		return *p, nil
	}
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("%w: encode tool result: %v", domain.ErrExecution, err)
	}
	if s, ok := v.(string); ok {
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode tool result: %v", domain.ErrExecution, err)
	}
	return out, nil
}
