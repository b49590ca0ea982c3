package domain

// Built-in tool names. Agents reference these through their capability
// lists; the tool adapter registers handlers under the same names.
const (
	ToolCodeAnalysis      = "code_analysis"
	ToolCodeGeneration    = "code_generation"
	ToolTesting           = "testing"
	ToolSearch            = "search"
	ToolSummarize         = "summarize"
	ToolFactCheck         = "fact_check"
	ToolTextProcessing    = "text_processing"
	ToolTaskPlanning      = "task_planning"
	ToolAgentCoordination = "agent_coordination"
	ToolProgressTracking  = "progress_tracking"
)

// CodeAnalysis is the output of code_analysis.
type CodeAnalysis struct {
	RequiresCode bool     `json:"requires_code"`
	Language     string   `json:"language,omitempty"`
	Reasoning    string   `json:"reasoning"`
	Explanation  string   `json:"explanation"`
	Issues       []string `json:"issues,omitempty"`
}

// GeneratedCode is the output of code_generation.
type GeneratedCode struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// TestReport is the output of testing.
type TestReport struct {
	Passed   bool     `json:"passed"`
	Tests    []string `json:"tests"`
	Problems []string `json:"problems,omitempty"`
}

// SearchOutput is the output of search.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
	Sources []string       `json:"sources"`
}

// FactCheckOutput is the output of fact_check.
type FactCheckOutput struct {
	VerifiedContent []string `json:"verified_content"`
	Rejected        []string `json:"rejected,omitempty"`
	Confidence      float64  `json:"confidence"`
}

// SummaryOutput is the output of summarize.
type SummaryOutput struct {
	Summary string `json:"summary"`
	Method  string `json:"method"`
}

// TaskPlan is the output of task_planning.
type TaskPlan struct {
	TaskID         string   `json:"task_id"`
	Steps          []string `json:"steps"`
	RequiredAgents []string `json:"required_agents"`
}

// Coordination is the output of agent_coordination.
type Coordination struct {
	Assignments         map[string]string `json:"assignments"`
	EstimatedCompletion string            `json:"estimated_completion"`
}

// ProgressReport is the output of progress_tracking.
type ProgressReport struct {
	TaskID   string  `json:"task_id"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
}
