package orchestrator

import (
	"context"
	"errors"
	"testing"

	"conductor/internal/domain"
)

func TestAutoApprove(t *testing.T) {
	hook := NewAutoApprove(testLogger())
	d, err := hook.RequestIntervention(context.Background(), InterventionRequest{Kind: InterventionRouting, AgentID: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Approved {
		t.Error("auto-approve should approve")
	}
}

func TestPolicyHook(t *testing.T) {
	hook := NewPolicyHook(
		[]string{"code_agent", "task_agent"},
		[]string{"task_agent"},
		[]string{"search"},
		[]string{"code_generation"},
	)

	tests := []struct {
		name    string
		req     InterventionRequest
		approve bool
	}{
		{"approved agent", InterventionRequest{Kind: InterventionRouting, AgentID: "code_agent"}, true},
		{"deny beats approve", InterventionRequest{Kind: InterventionRouting, AgentID: "task_agent"}, false},
		{"unlisted agent", InterventionRequest{Kind: InterventionRouting, AgentID: "research_agent"}, false},
		{"approved tool", InterventionRequest{Kind: InterventionTool, Tool: "search"}, true},
		{"denied tool", InterventionRequest{Kind: InterventionTool, Tool: "code_generation"}, false},
		{"unlisted tool", InterventionRequest{Kind: InterventionTool, Tool: "testing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := hook.RequestIntervention(context.Background(), tt.req)
			if tt.approve {
				if err != nil || !d.Approved {
					t.Fatalf("expected approval, got %+v, %v", d, err)
				}
				return
			}
			if !errors.Is(err, domain.ErrInterventionDenied) {
				t.Fatalf("expected ErrInterventionDenied, got %v", err)
			}
			if d.Approved {
				t.Error("denied decision must not be approved")
			}
		})
	}
}

func TestPolicyHookUnknownKind(t *testing.T) {
	hook := NewPolicyHook(nil, nil, nil, nil)
	_, err := hook.RequestIntervention(context.Background(), InterventionRequest{Kind: "coffee"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
