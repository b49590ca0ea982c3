package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Executor.Validate", ErrUnknownTool, "tool 'foo'")
	want := "Executor.Validate: tool 'foo': unknown tool"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Agent.ProcessMessage", ErrAgentStopped, "")
	want := "Agent.ProcessMessage: agent stopped"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Orchestrator.HandleAgentHandoff", ErrUnknownAgent, "ghost")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Error("errors.Is should match ErrUnknownAgent")
	}
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Orchestrator.HandleAgentHandoff" {
		t.Errorf("Op = %q", de.Op)
	}
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("op", nil))
	err := WrapOp("LongTerm.Add", ErrMemoryStore)
	assert.ErrorIs(t, err, ErrMemoryStore)
	assert.Equal(t, "LongTerm.Add: memory store failed", err.Error())
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"missing param", ErrMissingParameter, CodeValidation},
		{"invalid input", ErrInvalidInput, CodeValidation},
		{"duplicate tool", ErrDuplicateTool, CodeDuplicate},
		{"unknown tool", ErrUnknownTool, CodeUnknownEntity},
		{"unknown agent wrapped", fmt.Errorf("%w: ghost", ErrUnknownAgent), CodeUnknownEntity},
		{"not found", ErrNotFound, CodeUnknownEntity},
		{"timeout", ErrTimeout, CodeTimeout},
		{"capability", ErrCapability, CodeCapability},
		{"safety", NewDomainError("Agent.UseTool", ErrSafetyRejected, ""), CodeSafetyRejected},
		{"service", fmt.Errorf("llm: %w", ErrServiceUnavailable), CodeServiceUnavailable},
		{"plain", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestDomainErrorCode(t *testing.T) {
	err := NewDomainError("Executor.Execute", ErrMissingParameter, "path")
	assert.Equal(t, CodeValidation, err.Code())
}
