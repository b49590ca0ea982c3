package main

import (
	"fmt"
	"log/slog"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/security"
)

// SecurityComponents holds the safety gate and the audit sink.
type SecurityComponents struct {
	Gate  *security.Gate
	Audit domain.AuditLogger
}

// initSecurity builds the safety gate and opens the audit log when one is
// configured. The cleanup closes the audit file.
func initSecurity(cfg *config.Config, log *slog.Logger) (*SecurityComponents, func(), error) {
	gate, err := security.NewGate(cfg.Safety, log)
	if err != nil {
		return nil, nil, fmt.Errorf("safety gate: %w", err)
	}
	comp := &SecurityComponents{Gate: gate, Audit: domain.NopAuditLogger{}}

	if cfg.Safety.AuditLog == "" {
		return comp, func() {}, nil
	}
	audit, err := security.NewAuditLog(cfg.Safety.AuditLog)
	if err != nil {
		return nil, nil, fmt.Errorf("audit log: %w", err)
	}
	comp.Audit = audit
	log.Info("audit logging enabled", "path", cfg.Safety.AuditLog)

	return comp, func() {
		if err := audit.Close(); err != nil {
			log.Warn("audit log close error", "error", err)
		}
	}, nil
}
