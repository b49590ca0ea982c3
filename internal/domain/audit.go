package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditSafetyRejection AuditEventType = "safety_rejection"
	AuditToolExec        AuditEventType = "tool_exec"
	AuditIntervention    AuditEventType = "intervention"
	AuditHandoff         AuditEventType = "handoff"
	AuditMemoryPromote   AuditEventType = "memory_promote"
)

// AuditEvent represents a single auditable action.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Actor     string            `json:"actor,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

func (NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }
func (NopAuditLogger) Close() error                          { return nil }
