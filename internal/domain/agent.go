package domain

import "time"

// AgentStatus is a node in the agent lifecycle state machine.
type AgentStatus string

const (
	StatusInitialized AgentStatus = "initialized"
	StatusIdle        AgentStatus = "idle"
	StatusProcessing  AgentStatus = "processing"
	StatusError       AgentStatus = "error"
	StatusStopped     AgentStatus = "stopped"
)

// CanTransition reports whether the lifecycle allows moving from s to next.
// stopped is terminal and reachable from anywhere.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if s == StatusStopped {
		return false
	}
	if next == StatusStopped {
		return true
	}
	switch s {
	case StatusInitialized:
		return next == StatusIdle || next == StatusProcessing
	case StatusIdle:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusIdle || next == StatusError
	case StatusError:
		return next == StatusIdle || next == StatusProcessing
	}
	return false
}

// Agent roles known to the strategy table.
const (
	RoleCode     = "code_assistant"
	RoleResearch = "researcher"
	RoleTask     = "task_manager"
	RoleGeneric  = "generic"
)

// Response is what an agent returns from processing a message or using a tool.
type Response struct {
	Success bool           `json:"success"`
	Content any            `json:"content,omitempty"`
	Error   string         `json:"error,omitempty"`
	Issues  []SafetyIssue  `json:"issues,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// AgentInfo is a read-only status snapshot of an agent.
type AgentInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Role         string      `json:"role"`
	Goal         string      `json:"goal"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities"`
	LastActive   time.Time   `json:"last_active"`
	MemorySize   int         `json:"memory_size"`
}

// AgentMemoryRecord is one item of an agent's private ring buffer.
type AgentMemoryRecord struct {
	Direction string    `json:"type"` // "received" or "sent"
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
