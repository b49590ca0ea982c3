package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Components wrap these with fmt.Errorf("%w: ...") or
// NewDomainError so callers can classify failures with errors.Is.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrPermissionDenied = fmt.Errorf("permission denied")
)

// Sentinel errors for the orchestration layer.
var (
	ErrMissingParameter   = fmt.Errorf("%w: missing required parameter", ErrInvalidInput)
	ErrUnknownTool        = fmt.Errorf("unknown tool")
	ErrDuplicateTool      = fmt.Errorf("%w: tool already registered", ErrDuplicate)
	ErrUnknownAgent       = fmt.Errorf("unknown agent")
	ErrCapability         = fmt.Errorf("%w: capability not held by agent", ErrPermissionDenied)
	ErrSafetyRejected     = fmt.Errorf("safety check failed")
	ErrExecution          = fmt.Errorf("tool execution failed")
	ErrRoutingAmbiguity   = fmt.Errorf("routing confidence below threshold")
	ErrInterventionDenied = fmt.Errorf("human intervention denied")
	ErrResourceLimit      = fmt.Errorf("resource limit exceeded")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrAgentStopped       = fmt.Errorf("agent stopped")

	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrDecryption    = fmt.Errorf("decryption failed")
	ErrMemoryStore   = fmt.Errorf("memory store failed")
	ErrMemoryIndex   = fmt.Errorf("memory index operation failed")
	ErrEmbedding     = fmt.Errorf("embedding generation failed")
	ErrSearchBackend = fmt.Errorf("search backend failed")
	ErrAuditWrite    = fmt.Errorf("audit log write failed")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Executor.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for callers and monitoring.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeValidation         ErrorCode = "VALIDATION"
	CodeSafetyRejected     ErrorCode = "SAFETY_REJECTED"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeExecution          ErrorCode = "EXECUTION"
	CodeRoutingAmbiguity   ErrorCode = "ROUTING_AMBIGUITY"
	CodeUnknownEntity      ErrorCode = "UNKNOWN_ENTITY"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeCapability         ErrorCode = "CAPABILITY"
	CodeInterventionDenied ErrorCode = "INTERVENTION_DENIED"
	CodeResourceLimit      ErrorCode = "RESOURCE_LIMIT"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeAgentStopped       ErrorCode = "AGENT_STOPPED"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeStorage            ErrorCode = "STORAGE"
	CodeConfig             ErrorCode = "CONFIG"
)

// errorCodeOrder is checked in order; more specific sentinels come before the
// categories they wrap (ErrMissingParameter before ErrInvalidInput).
var errorCodeOrder = []struct {
	sentinel error
	code     ErrorCode
}{
	{ErrMissingParameter, CodeValidation},
	{ErrDuplicateTool, CodeDuplicate},
	{ErrCapability, CodeCapability},
	{ErrSafetyRejected, CodeSafetyRejected},
	{ErrTimeout, CodeTimeout},
	{ErrExecution, CodeExecution},
	{ErrRoutingAmbiguity, CodeRoutingAmbiguity},
	{ErrInterventionDenied, CodeInterventionDenied},
	{ErrUnknownTool, CodeUnknownEntity},
	{ErrUnknownAgent, CodeUnknownEntity},
	{ErrNotFound, CodeUnknownEntity},
	{ErrResourceLimit, CodeResourceLimit},
	{ErrServiceUnavailable, CodeServiceUnavailable},
	{ErrAgentStopped, CodeAgentStopped},
	{ErrRateLimit, CodeRateLimit},
	{ErrMemoryStore, CodeStorage},
	{ErrMemoryIndex, CodeStorage},
	{ErrConfigLoad, CodeConfig},
	{ErrDecryption, CodeConfig},
	{ErrDuplicate, CodeDuplicate},
	{ErrInvalidInput, CodeValidation},
	{ErrPermissionDenied, CodeCapability},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeOrder {
		if errors.Is(err, entry.sentinel) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
