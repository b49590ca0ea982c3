package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// AuditLog implements domain.AuditLogger by appending JSONL to a file.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLog opens (or creates with 0600) the audit file at path.
func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLog{file: f}, nil
}

// Log writes event as a single JSON line and mirrors it as a span event
// when ctx carries a recording span.
func (a *AuditLog) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("AuditLog.Log", domain.ErrAuditWrite, err.Error())
	}

	a.mu.Lock()
	_, err = a.file.Write(append(data, '\n'))
	a.mu.Unlock()
	if err != nil {
		return domain.NewDomainError("AuditLog.Log", domain.ErrAuditWrite, err.Error())
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, len(event.Detail)+2)
		attrs = append(attrs,
			tracer.StringAttr("audit.actor", event.Actor),
			tracer.StringAttr("audit.outcome", event.Outcome),
		)
		for k, v := range event.Detail {
			attrs = append(attrs, tracer.StringAttr("audit."+k, v))
		}
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(attrs...))
	}
	return nil
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// RecordRejection logs a safety rejection for actor acting on resource.
func RecordRejection(ctx context.Context, audit domain.AuditLogger, actor, resource string, result domain.SafetyResult) error {
	detail := map[string]string{"issues": strconv.Itoa(len(result.Issues))}
	for i, issue := range result.Issues {
		detail["issue."+strconv.Itoa(i)] = issue.Type + "/" + string(issue.Severity)
	}
	return audit.Log(ctx, domain.AuditEvent{
		Type:     domain.AuditSafetyRejection,
		Actor:    actor,
		Resource: resource,
		Outcome:  "rejected",
		Detail:   detail,
	})
}

// RecordToolExec logs the outcome of a tool execution.
func RecordToolExec(ctx context.Context, audit domain.AuditLogger, actor, tool string, res domain.ExecutionResult) error {
	outcome := "success"
	detail := map[string]string{"duration": res.ExecutionTime.String()}
	if !res.Success {
		outcome = "failure"
		detail["error"] = res.Error
	}
	return audit.Log(ctx, domain.AuditEvent{
		Type:     domain.AuditToolExec,
		Actor:    actor,
		Resource: tool,
		Outcome:  outcome,
		Detail:   detail,
	})
}

var _ domain.AuditLogger = (*AuditLog)(nil)
