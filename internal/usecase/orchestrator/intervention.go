package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"conductor/internal/domain"
)

// Intervention kinds.
const (
	InterventionRouting = "message_routing"
	InterventionTool    = "tool_usage"
)

// InterventionRequest describes a decision handed to a human (or a policy
// standing in for one).
type InterventionRequest struct {
	Kind       string
	AgentID    string
	Tool       string
	Confidence float64
	Text       string
	Params     map[string]any
}

// InterventionDecision is the answer to an InterventionRequest. A non-empty
// AgentID on an approved routing decision redirects the message.
type InterventionDecision struct {
	Approved bool
	AgentID  string
	Reason   string
}

// InterventionHook is consulted for low-confidence routing and for
// high-risk tools.
type InterventionHook interface {
	RequestIntervention(ctx context.Context, req InterventionRequest) (InterventionDecision, error)
}

// AutoApprove approves everything and leaves a warning in the log.
type AutoApprove struct {
	logger *slog.Logger
}

// NewAutoApprove creates the default hook.
func NewAutoApprove(logger *slog.Logger) *AutoApprove {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoApprove{logger: logger}
}

func (a *AutoApprove) RequestIntervention(_ context.Context, req InterventionRequest) (InterventionDecision, error) {
	a.logger.Warn("auto-approving intervention",
		"kind", req.Kind,
		"agent", req.AgentID,
		"tool", req.Tool,
		"confidence", req.Confidence,
	)
	return InterventionDecision{Approved: true, Reason: "auto-approved"}, nil
}

// PolicyHook decides from allow/deny lists of agents (routing) and tools
// (tool usage). Deny wins over approve; anything unlisted is denied.
type PolicyHook struct {
	approveAgents map[string]bool
	denyAgents    map[string]bool
	approveTools  map[string]bool
	denyTools     map[string]bool
}

// NewPolicyHook creates a PolicyHook from allow/deny lists.
func NewPolicyHook(approveAgents, denyAgents, approveTools, denyTools []string) *PolicyHook {
	return &PolicyHook{
		approveAgents: toSet(approveAgents),
		denyAgents:    toSet(denyAgents),
		approveTools:  toSet(approveTools),
		denyTools:     toSet(denyTools),
	}
}

func (p *PolicyHook) RequestIntervention(_ context.Context, req InterventionRequest) (InterventionDecision, error) {
	var subject string
	var approve, deny map[string]bool
	switch req.Kind {
	case InterventionRouting:
		subject, approve, deny = req.AgentID, p.approveAgents, p.denyAgents
	case InterventionTool:
		subject, approve, deny = req.Tool, p.approveTools, p.denyTools
	default:
		return InterventionDecision{}, domain.NewDomainError("PolicyHook.RequestIntervention",
			domain.ErrInvalidInput, fmt.Sprintf("unknown intervention kind %q", req.Kind))
	}

	if deny[subject] {
		return InterventionDecision{}, domain.NewDomainError("PolicyHook.RequestIntervention",
			domain.ErrInterventionDenied, fmt.Sprintf("%s %q is denied by policy", req.Kind, subject))
	}
	if approve[subject] {
		return InterventionDecision{Approved: true, Reason: "approved by policy"}, nil
	}
	return InterventionDecision{}, domain.NewDomainError("PolicyHook.RequestIntervention",
		domain.ErrInterventionDenied, fmt.Sprintf("%s %q is not on the approve list", req.Kind, subject))
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

var (
	_ InterventionHook = (*AutoApprove)(nil)
	_ InterventionHook = (*PolicyHook)(nil)
)
