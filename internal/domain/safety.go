package domain

// Severity ranks a safety issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue types reported by the safety gate.
const (
	IssueDangerousCommand = "dangerous_command"
	IssuePIIDetected      = "pii_detected"
	IssueHarmfulContent   = "harmful_content"
	IssueInfiniteLoop     = "infinite_loop"
	IssueMemoryLimit      = "memory_limit"
	IssueUnsafeTool       = "unsafe_tool"
	IssueUnsafePath       = "unsafe_path"
	IssueInvalidInput     = "invalid_input"
)

// SafetyIssue describes one rule match.
type SafetyIssue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
	Location string   `json:"location,omitempty"`
}

// SafetyResult is the outcome of a safety check. Safe is true iff Issues is empty.
type SafetyResult struct {
	Safe   bool          `json:"safe"`
	Issues []SafetyIssue `json:"issues"`
}

// NewSafetyResult builds a result whose Safe flag is derived from issues.
func NewSafetyResult(issues []SafetyIssue) SafetyResult {
	if issues == nil {
		issues = []SafetyIssue{}
	}
	return SafetyResult{Safe: len(issues) == 0, Issues: issues}
}

// SafetyChecker is the subset of the safety gate that agents and the
// orchestrator depend on.
type SafetyChecker interface {
	CheckContent(text any) SafetyResult
	CheckToolArgs(toolName string, args map[string]any) SafetyResult
}
