// Package orchestrator turns user input into routed agent work. It scores
// messages against agent keyword sets, asks for human intervention when the
// routing is unsure or a tool is high risk, and mediates tool calls and
// handoffs between agents.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
	"conductor/internal/security"
	"conductor/internal/usecase/messaging"
)

// DefaultToolTimeout applies to tools without a configured timeout.
const DefaultToolTimeout = 30 * time.Second

// Result reasons.
const (
	ReasonSafety             = "safety"
	ReasonInterventionDenied = "intervention_denied"
	ReasonResourceLimit      = "resource_limit"
	ReasonValidation         = "validation"
	ReasonUnknownAgent       = "unknown_agent"
	ReasonUndelivered        = "undelivered"
	ReasonAgentError         = "agent_error"
)

// ToolExecutor is the slice of the tool executor the orchestrator needs.
type ToolExecutor interface {
	Validate(name string, args map[string]any) domain.ValidationResult
	ExecuteWithTimeout(ctx context.Context, name string, args map[string]any, timeout time.Duration) domain.ExecutionResult
}

// Config holds routing and policy settings.
type Config struct {
	Routing            RoutingConfig
	ResourceLimits     map[string]float64
	HighRiskTools      []string
	ToolTimeouts       map[string]time.Duration
	DefaultToolTimeout time.Duration
	// TaskAgent receives task_update progress. Defaults to the fallback agent.
	TaskAgent string
	// AutoRecover moves an agent reported on agent_error back to idle.
	// When false the agent stays in the error state until recovered.
	AutoRecover bool
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		Routing: RoutingConfig{
			ConfidenceThreshold: 0.7,
			BaseConfidence:      0.4,
			DefaultConfidence:   0.5,
			FallbackAgent:       "task_agent",
		},
		ResourceLimits:     map[string]float64{"memory": 90, "cpu": 80, "network": 80},
		HighRiskTools:      []string{domain.ToolCodeGeneration},
		DefaultToolTimeout: DefaultToolTimeout,
	}
}

// Deps holds injected collaborators. Router, Bus, Tools and Safety are
// required.
type Deps struct {
	Router  *messaging.Router
	Bus     domain.EventBus
	Tools   ToolExecutor
	Safety  domain.SafetyChecker
	Hook    InterventionHook
	Sampler domain.ResourceSampler
	Audit   domain.AuditLogger
	Logger  *slog.Logger
}

// Result is the answer to ProcessUserMessage.
type Result struct {
	Success  bool                 `json:"success"`
	AgentID  string               `json:"agent_id,omitempty"`
	Routing  *Routing             `json:"routing,omitempty"`
	Response *domain.Response     `json:"response,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Error    string               `json:"error,omitempty"`
	Code     domain.ErrorCode     `json:"code,omitempty"`
	Issues   []domain.SafetyIssue `json:"issues,omitempty"`
}

// ToolResult is the answer to HandleToolRequest.
type ToolResult struct {
	Success       bool                 `json:"success"`
	Result        any                  `json:"result,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Error         string               `json:"error,omitempty"`
	Detail        string               `json:"detail,omitempty"`
	Missing       []string             `json:"missing,omitempty"`
	Issues        []domain.SafetyIssue `json:"issues,omitempty"`
	ExecutionTime time.Duration        `json:"execution_time"`
	Usage         domain.ResourceUsage `json:"resource_usage,omitempty"`
}

// HandoffResult is the answer to HandleAgentHandoff.
type HandoffResult struct {
	Handoff
	Response *domain.Response `json:"response,omitempty"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Agents      []domain.AgentInfo `json:"agents"`
	Routes      int                `json:"routes"`
	HistorySize int                `json:"history_size"`
	Handoffs    int                `json:"handoffs"`
	Tasks       int                `json:"tasks"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	state    *State
	highRisk map[string]bool
	logger   *slog.Logger
	subs     []subscription
}

type subscription struct {
	event string
	id    uint64
}

// New builds an orchestrator and subscribes its event handlers.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Router == nil:
		return nil, fmt.Errorf("%w: orchestrator needs a router", domain.ErrInvalidInput)
	case deps.Bus == nil:
		return nil, fmt.Errorf("%w: orchestrator needs an event bus", domain.ErrInvalidInput)
	case deps.Tools == nil:
		return nil, fmt.Errorf("%w: orchestrator needs a tool executor", domain.ErrInvalidInput)
	case deps.Safety == nil:
		return nil, fmt.Errorf("%w: orchestrator needs a safety checker", domain.ErrInvalidInput)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hook == nil {
		deps.Hook = NewAutoApprove(deps.Logger)
	}
	if deps.Sampler == nil {
		deps.Sampler = NewStaticSampler()
	}
	if deps.Audit == nil {
		deps.Audit = domain.NopAuditLogger{}
	}
	if cfg.DefaultToolTimeout <= 0 {
		cfg.DefaultToolTimeout = DefaultToolTimeout
	}
	if cfg.TaskAgent == "" {
		cfg.TaskAgent = cfg.Routing.FallbackAgent
	}

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		state:    NewState(cfg.Routing.Keywords),
		highRisk: toSet(cfg.HighRiskTools),
		logger:   deps.Logger.With("component", "orchestrator"),
	}
	o.subscribe(domain.EventTaskUpdate, o.handleTaskUpdate)
	o.subscribe(domain.EventResourceAlert, o.handleResourceAlert)
	o.subscribe(domain.EventAgentError, o.handleAgentError)
	return o, nil
}

func (o *Orchestrator) subscribe(event string, cb domain.EventCallback) {
	id := o.deps.Bus.Subscribe(event, cb)
	o.subs = append(o.subs, subscription{event: event, id: id})
}

// State exposes the orchestrator state for read access.
func (o *Orchestrator) State() *State { return o.state }

// RegisterAgent adds w to the registry and installs its message route.
func (o *Orchestrator) RegisterAgent(w Worker) error {
	if !o.state.addAgent(w) {
		return domain.NewDomainError("Orchestrator.RegisterAgent", domain.ErrDuplicate, w.ID())
	}
	o.deps.Router.RegisterRoute(w.ID(), func(ctx context.Context, msg domain.Message) error {
		resp := w.ProcessMessage(ctx, msg)
		o.state.deliver(msg.ID, resp)
		if w.Info().Status == domain.StatusError {
			o.reportAgentError(ctx, w.ID(), resp.Error)
		}
		return nil
	})
	o.logger.Info("agent registered", "agent", w.ID())
	return nil
}

func (o *Orchestrator) reportAgentError(ctx context.Context, agentID, reason string) {
	msg := domain.NewMessage(domain.MessageEvent, agentID, "", map[string]any{
		"agent_id": agentID,
		"error":    reason,
	}).WithMetadata(domain.MetaEventType, domain.EventAgentError)
	o.deps.Router.RouteMessage(ctx, msg)
}

// ProcessUserMessage safety-checks text, routes it to an agent and returns
// the agent's response.
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, text string) Result {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.process_user_message")
	defer span.End()

	check := o.deps.Safety.CheckContent(text)
	if !check.Safe {
		o.audit(ctx, security.RecordRejection(ctx, o.deps.Audit, "user", "message", check))
		tracer.RecordError(span, domain.ErrSafetyRejected)
		return Result{
			Reason: ReasonSafety,
			Error:  "Safety check failed",
			Code:   domain.CodeSafetyRejected,
			Issues: check.Issues,
		}
	}

	routing := o.Route(text)
	span.SetAttributes(
		tracer.StringAttr("routing.agent", routing.AgentID),
		tracer.Float64Attr("routing.confidence", routing.Confidence),
	)

	if routing.Confidence < o.cfg.Routing.ConfidenceThreshold {
		o.logger.Info("routing below confidence threshold",
			"agent", routing.AgentID,
			"confidence", routing.Confidence,
			"threshold", o.cfg.Routing.ConfidenceThreshold,
		)
		decision, err := o.intervene(ctx, InterventionRequest{
			Kind:       InterventionRouting,
			AgentID:    routing.AgentID,
			Confidence: routing.Confidence,
			Text:       text,
		})
		if err != nil {
			tracer.RecordError(span, err)
			return Result{
				Routing: &routing,
				Reason:  ReasonInterventionDenied,
				Error:   err.Error(),
				Code:    domain.ErrorCodeOf(err),
			}
		}
		if decision.AgentID != "" {
			routing.AgentID = decision.AgentID
			routing.Reason = "redirected by intervention"
		}
	}

	if _, ok := o.state.agent(routing.AgentID); !ok {
		err := domain.NewDomainError("Orchestrator.ProcessUserMessage", domain.ErrUnknownAgent, routing.AgentID)
		tracer.RecordError(span, err)
		return Result{Routing: &routing, Reason: ReasonUnknownAgent, Error: err.Error(), Code: err.Code()}
	}

	if _, err := o.checkResources(ctx); err != nil {
		tracer.RecordError(span, err)
		return o.resourceFailure(ctx, routing, err)
	}

	msg := domain.NewMessage(domain.MessageDirect, "user", routing.AgentID, text)
	o.state.expect(msg.ID)
	d := o.deps.Router.RouteMessage(ctx, msg)
	resp, answered := o.state.take(msg.ID)

	if usage, err := o.deps.Sampler.Sample(ctx); err == nil {
		o.state.recordUsage(routing.AgentID, usage)
	}

	if !d.Delivered || !answered {
		err := fmt.Errorf("%w: %s", domain.ErrExecution, d.Reason)
		tracer.RecordError(span, err)
		return Result{AgentID: routing.AgentID, Routing: &routing, Reason: ReasonUndelivered, Error: d.Reason, Code: domain.CodeExecution}
	}

	res := Result{
		Success:  resp.Success,
		AgentID:  routing.AgentID,
		Routing:  &routing,
		Response: &resp,
		Issues:   resp.Issues,
	}
	if !resp.Success {
		res.Reason = ReasonAgentError
		res.Error = resp.Error
		if len(resp.Issues) > 0 {
			res.Reason = ReasonSafety
			res.Code = domain.CodeSafetyRejected
		}
		return res
	}
	tracer.SetOK(span)
	return res
}

func (o *Orchestrator) resourceFailure(ctx context.Context, routing Routing, err error) Result {
	if errors.Is(err, domain.ErrResourceLimit) {
		alert := domain.NewMessage(domain.MessageEvent, "orchestrator", "", map[string]any{
			"agent_id": routing.AgentID,
			"error":    err.Error(),
		}).WithMetadata(domain.MetaEventType, domain.EventResourceAlert)
		o.deps.Router.RouteMessage(ctx, alert)
	}
	return Result{
		AgentID: routing.AgentID,
		Routing: &routing,
		Reason:  ReasonResourceLimit,
		Error:   err.Error(),
		Code:    domain.ErrorCodeOf(err),
	}
}

func (o *Orchestrator) intervene(ctx context.Context, req InterventionRequest) (InterventionDecision, error) {
	decision, err := o.deps.Hook.RequestIntervention(ctx, req)
	if err == nil && !decision.Approved {
		err = domain.NewDomainError("Orchestrator.intervene", domain.ErrInterventionDenied, decision.Reason)
	}

	outcome := "approved"
	if err != nil {
		outcome = "denied"
	}
	resource := req.AgentID
	if req.Kind == InterventionTool {
		resource = req.Tool
	}
	o.audit(ctx, o.deps.Audit.Log(ctx, domain.AuditEvent{
		Type:     domain.AuditIntervention,
		Actor:    "orchestrator",
		Resource: resource,
		Outcome:  outcome,
		Detail:   map[string]string{"kind": req.Kind},
	}))
	return decision, err
}

// HandleToolRequest validates, safety-checks and (for high-risk tools)
// clears a tool call with the intervention hook before running it under
// its configured timeout.
func (o *Orchestrator) HandleToolRequest(ctx context.Context, tool string, params map[string]any) ToolResult {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.handle_tool_request",
		trace.WithAttributes(tracer.StringAttr("tool.name", tool)),
	)
	defer span.End()

	if params == nil {
		params = map[string]any{}
	}

	v := o.deps.Tools.Validate(tool, params)
	if !v.Valid {
		tracer.RecordError(span, v.Err)
		return ToolResult{
			Reason:  ReasonValidation,
			Error:   fmt.Sprintf("Tool validation failed: %v", v.Err),
			Missing: v.Missing,
		}
	}

	check := o.deps.Safety.CheckToolArgs(tool, params)
	if !check.Safe {
		o.audit(ctx, security.RecordRejection(ctx, o.deps.Audit, "user", tool, check))
		tracer.RecordError(span, domain.ErrSafetyRejected)
		return ToolResult{Reason: ReasonSafety, Error: "Tool usage failed safety check", Issues: check.Issues}
	}

	if o.highRisk[tool] {
		if _, err := o.intervene(ctx, InterventionRequest{Kind: InterventionTool, Tool: tool, Params: params}); err != nil {
			tracer.RecordError(span, err)
			return ToolResult{Reason: ReasonInterventionDenied, Error: err.Error()}
		}
	}

	if _, err := o.checkResources(ctx); err != nil {
		tracer.RecordError(span, err)
		return ToolResult{Reason: ReasonResourceLimit, Error: err.Error()}
	}

	timeout := o.cfg.DefaultToolTimeout
	if t, ok := o.cfg.ToolTimeouts[tool]; ok && t > 0 {
		timeout = t
	}
	res := o.deps.Tools.ExecuteWithTimeout(ctx, tool, params, timeout)
	o.audit(ctx, security.RecordToolExec(ctx, o.deps.Audit, "user", tool, res))

	out := ToolResult{
		Success:       res.Success,
		Result:        res.Result,
		Error:         res.Error,
		Detail:        res.Detail,
		ExecutionTime: res.ExecutionTime,
	}
	if usage, err := o.deps.Sampler.Sample(ctx); err == nil {
		out.Usage = usage
	}
	if !res.Success {
		tracer.RecordError(span, errors.New(res.Error))
		return out
	}
	tracer.SetOK(span)
	return out
}

// HandleAgentHandoff forwards content from one agent to another as a direct
// message tagged with a fresh handoff id.
func (o *Orchestrator) HandleAgentHandoff(ctx context.Context, from, to string, content any) (HandoffResult, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.handoff",
		trace.WithAttributes(
			tracer.StringAttr("handoff.from", from),
			tracer.StringAttr("handoff.to", to),
		),
	)
	defer span.End()

	for _, id := range []string{from, to} {
		if _, ok := o.state.agent(id); !ok {
			err := domain.NewDomainError("Orchestrator.HandleAgentHandoff", domain.ErrUnknownAgent, id)
			tracer.RecordError(span, err)
			return HandoffResult{}, err
		}
	}

	handoffID := domain.NewUUID()
	msg := domain.NewMessage(domain.MessageDirect, from, to, content).
		WithMetadata(domain.MetaHandoff, true).
		WithMetadata(domain.MetaHandoffID, handoffID).
		WithMetadata(domain.MetaFromAgent, from)

	o.state.expect(msg.ID)
	d := o.deps.Router.RouteMessage(ctx, msg)
	resp, answered := o.state.take(msg.ID)

	h := Handoff{
		ID:        handoffID,
		From:      from,
		To:        to,
		MessageID: msg.ID,
		Delivered: d.Delivered,
		CreatedAt: msg.Timestamp,
	}
	o.state.putHandoff(h)
	o.deps.Bus.Publish(ctx, domain.EventHandoff, domain.NewMessage(domain.MessageEvent, "orchestrator", "", h).
		WithMetadata(domain.MetaEventType, domain.EventHandoff))

	outcome := "delivered"
	if !d.Delivered {
		outcome = "dropped"
	}
	o.audit(ctx, o.deps.Audit.Log(ctx, domain.AuditEvent{
		Type:     domain.AuditHandoff,
		Actor:    from,
		Resource: to,
		Outcome:  outcome,
		Detail:   map[string]string{"handoff_id": handoffID, "message_id": msg.ID},
	}))

	result := HandoffResult{Handoff: h}
	if answered {
		result.Response = &resp
	}
	if !d.Delivered {
		err := fmt.Errorf("%w: %s", domain.ErrExecution, d.Reason)
		tracer.RecordError(span, err)
		return result, err
	}
	tracer.SetOK(span)
	return result, nil
}

// Status reports agent infos and routing counters.
func (o *Orchestrator) Status() Status {
	agents := o.state.Agents()
	infos := make([]domain.AgentInfo, 0, len(agents))
	for _, w := range agents {
		infos = append(infos, w.Info())
	}
	_, handoffs, tasks := o.state.counts()
	return Status{
		Agents:      infos,
		Routes:      len(o.state.keywordTable()),
		HistorySize: len(o.deps.Router.GetHistory(0)),
		Handoffs:    handoffs,
		Tasks:       tasks,
	}
}

// Close unsubscribes the event handlers and stops every agent.
func (o *Orchestrator) Close() {
	for _, s := range o.subs {
		o.deps.Bus.Unsubscribe(s.event, s.id)
	}
	o.subs = nil
	for _, w := range o.state.Agents() {
		w.Stop()
	}
}

type taskUpdate struct {
	TaskID   string   `json:"task_id"`
	Progress *float64 `json:"progress"`
	Status   string   `json:"status"`
}

func (o *Orchestrator) handleTaskUpdate(ctx context.Context, msg domain.Message) error {
	var upd taskUpdate
	if err := decodeContent(msg.Content, &upd); err != nil {
		return fmt.Errorf("task update: %w", err)
	}
	if upd.TaskID == "" {
		return fmt.Errorf("%w: task update without task_id", domain.ErrInvalidInput)
	}

	st, _ := o.state.Task(upd.TaskID)
	st.ID = upd.TaskID
	if upd.Status != "" {
		st.Status = upd.Status
	}
	if upd.Progress != nil {
		st.Progress = *upd.Progress
	}
	st.UpdatedAt = time.Now().UTC()
	o.state.updateTask(st)

	if upd.Progress == nil {
		return nil
	}
	w, ok := o.state.agent(o.cfg.TaskAgent)
	if !ok {
		return domain.NewDomainError("Orchestrator.handleTaskUpdate", domain.ErrUnknownAgent, o.cfg.TaskAgent)
	}
	return w.UpdateTaskProgress(ctx, upd.TaskID, *upd.Progress)
}

func (o *Orchestrator) handleResourceAlert(_ context.Context, msg domain.Message) error {
	o.logger.Warn("resource alert", "sender", msg.SenderID, "content", msg.Content)
	return nil
}

func (o *Orchestrator) handleAgentError(_ context.Context, msg domain.Message) error {
	agentID := msg.SenderID
	var body struct {
		AgentID string `json:"agent_id"`
		Error   string `json:"error"`
	}
	if err := decodeContent(msg.Content, &body); err == nil && body.AgentID != "" {
		agentID = body.AgentID
	}
	o.logger.Error("agent error", "agent", agentID, "error", body.Error)

	w, ok := o.state.agent(agentID)
	if !ok {
		return domain.NewDomainError("Orchestrator.handleAgentError", domain.ErrUnknownAgent, agentID)
	}
	if !o.cfg.AutoRecover {
		return nil
	}
	if w.Recover() {
		o.logger.Info("agent recovered", "agent", agentID)
	}
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, err error) {
	if err != nil {
		o.logger.WarnContext(ctx, "audit write failed", "error", err)
	}
}

func decodeContent(content any, dst any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
