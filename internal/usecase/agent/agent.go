// Package agent implements the stateful worker that consumes routed
// messages, calls tools through the safety gate and answers according to a
// role strategy.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// DefaultMemorySize bounds the per-agent message log.
const DefaultMemorySize = 1000

// Config is the static identity of an agent.
type Config struct {
	ID           string
	Name         string
	Role         string
	Goal         string
	Capabilities []string
	MemorySize   int
}

// MemoryRecorder stores conversation entries in the shared memory hierarchy.
type MemoryRecorder interface {
	AddMemory(ctx context.Context, entry domain.MemoryEntry) (domain.MemoryTier, error)
}

// Deps holds injected collaborators. Knowledge, LLM and Memory are optional.
type Deps struct {
	Tools     domain.ToolRunner
	Safety    domain.SafetyChecker
	Knowledge Knowledge
	LLM       domain.LLMProvider
	Memory    MemoryRecorder
	Model     string
	Logger    *slog.Logger
}

// Agent is safe for concurrent use.
type Agent struct {
	id           string
	name         string
	role         string
	goal         string
	capabilities []string
	strategy     Strategy
	deps         Deps

	mu         sync.Mutex
	status     domain.AgentStatus
	lastActive time.Time
	memory     *ring
}

// New builds an agent. Missing goal and capabilities fall back to the role
// defaults; the strategy is chosen by role.
func New(cfg Config, deps Deps) *Agent {
	if cfg.ID == "" {
		cfg.ID = domain.NewUUID()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	def := RoleDefaults(cfg.Role)
	if cfg.Goal == "" {
		cfg.Goal = def.Goal
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = def.Capabilities
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("agent", cfg.ID)

	return &Agent{
		id:           cfg.ID,
		name:         cfg.Name,
		role:         cfg.Role,
		goal:         cfg.Goal,
		capabilities: slices.Clone(cfg.Capabilities),
		strategy:     StrategyFor(cfg.Role, deps),
		deps:         deps,
		status:       domain.StatusInitialized,
		lastActive:   time.Now().UTC(),
		memory:       newRing(cfg.MemorySize),
	}
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Role() string { return a.role }
func (a *Agent) Goal() string { return a.goal }

// Strategy returns the role strategy in use.
func (a *Agent) Strategy() Strategy { return a.strategy }

// HasCapability reports whether the agent may call tool.
func (a *Agent) HasCapability(tool string) bool {
	return slices.Contains(a.capabilities, tool)
}

// Start moves a fresh agent to idle.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == domain.StatusInitialized {
		a.status = domain.StatusIdle
	}
	a.deps.Logger.Info("agent started", "name", a.name, "role", a.role)
}

// Stop is terminal.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = domain.StatusStopped
	a.deps.Logger.Info("agent stopped", "name", a.name)
}

// Recover returns an agent in the error state to idle.
func (a *Agent) Recover() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != domain.StatusError {
		return false
	}
	a.status = domain.StatusIdle
	return true
}

// Status returns the current lifecycle status.
func (a *Agent) Status() domain.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Info returns a read-only snapshot.
func (a *Agent) Info() domain.AgentInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.AgentInfo{
		ID:           a.id,
		Name:         a.name,
		Role:         a.role,
		Goal:         a.goal,
		Status:       a.status,
		Capabilities: slices.Clone(a.capabilities),
		LastActive:   a.lastActive,
		MemorySize:   a.memory.len(),
	}
}

// Memory returns up to limit of the most recent records, oldest first.
// limit <= 0 returns everything.
func (a *Agent) Memory(limit int) []domain.AgentMemoryRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory.last(limit)
}

func (a *Agent) remember(direction string, content any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory.push(domain.AgentMemoryRecord{Direction: direction, Content: content, Timestamp: time.Now().UTC()})
}

// record mirrors one side of an exchange into the shared memory hierarchy.
// Failures are logged and never fail the exchange.
func (a *Agent) record(ctx context.Context, direction, messageID string, content any) {
	if a.deps.Memory == nil {
		return
	}
	entry := domain.NewMemoryEntry(domain.MemoryTypeConversation, content, RoleDefaults(a.role).Importance, map[string]any{
		"agent_id":   a.id,
		"direction":  direction,
		"message_id": messageID,
	})
	if _, err := a.deps.Memory.AddMemory(ctx, entry); err != nil {
		a.deps.Logger.Warn("record conversation memory", "direction", direction, "error", err)
	}
}

// begin moves the agent to processing unless it has been stopped.
func (a *Agent) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == domain.StatusStopped {
		return domain.NewDomainError("Agent.ProcessMessage", domain.ErrAgentStopped, a.id)
	}
	a.status = domain.StatusProcessing
	a.lastActive = time.Now().UTC()
	return nil
}

func (a *Agent) finish(status domain.AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != domain.StatusStopped {
		a.status = status
	}
}

// ProcessMessage safety-checks msg, runs the role strategy and records the
// exchange. Strategy failures leave the agent in the error state.
func (a *Agent) ProcessMessage(ctx context.Context, msg domain.Message) (resp domain.Response) {
	ctx, span := tracer.StartSpan(ctx, "agent.process",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", a.id),
			tracer.StringAttr("agent.role", a.role),
			tracer.StringAttr("message.id", msg.ID),
		),
	)
	defer span.End()

	if err := a.begin(); err != nil {
		tracer.RecordError(span, err)
		return domain.Response{Error: err.Error()}
	}

	check := a.deps.Safety.CheckContent(msg.Text())
	if !check.Safe {
		a.finish(domain.StatusIdle)
		a.deps.Logger.Warn("message rejected by safety check", "message_id", msg.ID, "issues", len(check.Issues))
		tracer.RecordError(span, domain.ErrSafetyRejected)
		return domain.Response{Error: "Safety check failed", Issues: check.Issues}
	}

	a.remember("received", msg)
	a.record(ctx, "received", msg.ID, msg.Text())

	defer func() {
		if r := recover(); r != nil {
			a.finish(domain.StatusError)
			a.deps.Logger.Error("strategy panicked", "panic", r, "stack", string(debug.Stack()))
			err := fmt.Errorf("%w: strategy panic: %v", domain.ErrExecution, r)
			tracer.RecordError(span, err)
			resp = domain.Response{Error: err.Error()}
		}
	}()

	content, err := a.strategy.Respond(ctx, a, msg)
	if err != nil {
		a.finish(domain.StatusError)
		a.deps.Logger.Error("strategy failed", "strategy", a.strategy.Name(), "error", err)
		tracer.RecordError(span, err)
		return domain.Response{Error: err.Error()}
	}

	resp = domain.Response{Success: true, Content: content}
	a.remember("sent", resp)
	a.record(ctx, "sent", msg.ID, content)
	a.finish(domain.StatusIdle)
	tracer.SetOK(span)
	return resp
}

// UseTool runs a tool the agent holds, after checking its arguments.
func (a *Agent) UseTool(ctx context.Context, name string, args map[string]any) domain.Response {
	if !a.HasCapability(name) {
		err := domain.NewDomainError("Agent.UseTool", domain.ErrCapability, name)
		return domain.Response{Error: err.Error()}
	}
	check := a.deps.Safety.CheckToolArgs(name, args)
	if !check.Safe {
		a.deps.Logger.Warn("tool call rejected by safety check", "tool", name, "issues", len(check.Issues))
		return domain.Response{Error: "Tool usage failed safety check", Issues: check.Issues}
	}
	res := a.deps.Tools.Execute(ctx, name, args)
	if !res.Success {
		detail := res.Error
		if res.Detail != "" {
			detail += ": " + res.Detail
		}
		return domain.Response{Error: detail, Data: map[string]any{"execution_time": res.ExecutionTime.String()}}
	}
	return domain.Response{Success: true, Content: res.Result, Data: map[string]any{"execution_time": res.ExecutionTime.String()}}
}

// UpdateTaskProgress forwards progress to the task strategy. Agents whose
// strategy does not track tasks return ErrCapability.
func (a *Agent) UpdateTaskProgress(ctx context.Context, taskID string, progress float64) error {
	tracker, ok := a.strategy.(TaskTracker)
	if !ok {
		return domain.NewDomainError("Agent.UpdateTaskProgress", domain.ErrCapability, a.role)
	}
	return tracker.UpdateProgress(ctx, a, taskID, progress)
}

// Tasks returns the active task table when the strategy tracks tasks.
func (a *Agent) Tasks() []Task {
	tracker, ok := a.strategy.(TaskTracker)
	if !ok {
		return nil
	}
	return tracker.Tasks()
}

type ring struct {
	buf  []domain.AgentMemoryRecord
	size int
}

func newRing(size int) *ring { return &ring{size: size} }

func (r *ring) push(rec domain.AgentMemoryRecord) {
	if len(r.buf) < r.size {
		r.buf = append(r.buf, rec)
		return
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = rec
}

func (r *ring) len() int { return len(r.buf) }

func (r *ring) last(limit int) []domain.AgentMemoryRecord {
	start := 0
	if limit > 0 && limit < len(r.buf) {
		start = len(r.buf) - limit
	}
	return slices.Clone(r.buf[start:])
}
