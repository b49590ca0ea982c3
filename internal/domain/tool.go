package domain

import (
	"context"
	"time"
)

// ToolHandler is the callable behind a registered tool. Handlers should
// observe ctx.Done(); cancellation on timeout is cooperative.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToolSpec is the public, immutable description of a registered tool.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Params      map[string]ParamSpec `json:"parameters"`
	Timeout     time.Duration        `json:"timeout"`
}

// Tool execution error labels carried in ExecutionResult.Error.
const (
	ToolErrValidation  = "validation"
	ToolErrTimeout     = "timeout"
	ToolErrRateLimited = "rate_limited"
	ToolErrSafety      = "safety"
)

// ExecutionResult is the tagged outcome of one tool invocation.
type ExecutionResult struct {
	Success       bool          `json:"success"`
	Result        any           `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ValidationResult is the outcome of validating tool arguments. Err wraps
// ErrUnknownTool or ErrMissingParameter when Valid is false.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
	Err     error    `json:"-"`
}

// ToolRunner is the subset of the tool executor agents depend on.
type ToolRunner interface {
	Validate(name string, args map[string]any) ValidationResult
	Execute(ctx context.Context, name string, args map[string]any) ExecutionResult
}
