// Package memory implements the two-tier agent memory: a bounded working
// tier and a persistent long-term tier, with periodic consolidation from
// the former into the latter.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// Defaults for ManagerConfig.
const (
	DefaultThreshold = 0.7
	DefaultInterval  = 300 * time.Second
)

// ManagerConfig tunes routing between tiers and the consolidation cadence.
type ManagerConfig struct {
	Threshold float64
	Interval  time.Duration
}

// Manager routes new memories to a tier and consolidates working memory
// into long-term storage on a schedule.
type Manager struct {
	working   *Working
	longTerm  *LongTerm
	threshold float64
	interval  time.Duration
	logger    *slog.Logger
	bus       domain.EventBus
	audit     domain.AuditLogger

	mu      sync.Mutex
	cron    *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

// ManagerOption configures optional Manager collaborators.
type ManagerOption func(*Manager)

// WithEventBus publishes a memory.consolidated event after each run that
// promoted at least one entry.
func WithEventBus(bus domain.EventBus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithAudit records promotions in the audit log.
func WithAudit(a domain.AuditLogger) ManagerOption {
	return func(m *Manager) { m.audit = a }
}

// NewManager wires the two tiers together.
func NewManager(working *Working, longTerm *LongTerm, cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	m := &Manager{
		working:   working,
		longTerm:  longTerm,
		threshold: cfg.Threshold,
		interval:  cfg.Interval,
		logger:    logger,
		audit:     domain.NopAuditLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Working exposes the short-term tier.
func (m *Manager) Working() *Working { return m.working }

// LongTerm exposes the persistent tier.
func (m *Manager) LongTerm() *LongTerm { return m.longTerm }

// Threshold is the importance at or above which entries are persisted.
func (m *Manager) Threshold() float64 { return m.threshold }

// AddMemory stores entry in long-term memory when its importance reaches the
// threshold, otherwise in working memory. It returns the tier used.
func (m *Manager) AddMemory(ctx context.Context, entry domain.MemoryEntry) (domain.MemoryTier, error) {
	if entry.Importance >= m.threshold {
		if err := m.longTerm.Add(ctx, entry); err != nil {
			return "", err
		}
		return domain.TierLongTerm, nil
	}
	if evicted := m.working.Add(entry); len(evicted) > 0 {
		m.logger.Debug("working memory evicted entries", "count", len(evicted))
	}
	return domain.TierWorking, nil
}

// Consolidate copies every working entry at or above the threshold into
// long-term memory and then empties working memory. It returns the number
// of entries promoted; entries that fail to persist stay in working memory
// and are reported in the joined error.
func (m *Manager) Consolidate(ctx context.Context) (int, error) {
	ctx, span := tracer.StartSpan(ctx, "memory.consolidate")
	defer span.End()

	entries := m.working.Drain()
	promoted := 0
	var errs []error
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			// Unvisited entries go back to working memory.
			for _, rest := range entries[i:] {
				m.working.Add(rest)
			}
			errs = append(errs, err)
			break
		}
		if e.Importance < m.threshold {
			continue
		}
		if err := m.longTerm.Add(ctx, e.Clone()); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				continue
			}
			m.working.Add(e)
			errs = append(errs, fmt.Errorf("promote %s: %w", e.ID, err))
			continue
		}
		promoted++
	}

	span.SetAttributes(tracer.IntAttr("memory.drained", len(entries)), tracer.IntAttr("memory.promoted", promoted))
	err := errors.Join(errs...)
	if err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}

	if promoted > 0 {
		m.logger.Info("memory consolidated", "promoted", promoted, "drained", len(entries))
		_ = m.audit.Log(ctx, domain.AuditEvent{
			Type:    domain.AuditMemoryPromote,
			Actor:   "memory",
			Outcome: "success",
			Detail:  map[string]string{"promoted": strconv.Itoa(promoted)},
		})
		if m.bus != nil {
			msg := domain.NewMessage(domain.MessageEvent, "memory", "", map[string]any{"promoted": promoted})
			m.bus.Publish(ctx, domain.EventMemoryPromote, msg.WithMetadata(domain.MetaEventType, domain.EventMemoryPromote))
		}
	}
	return promoted, err
}

// StartConsolidation schedules Consolidate every interval. Calling it on a
// running manager is a no-op.
func (m *Manager) StartConsolidation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	m.runCtx, m.cancel = context.WithCancel(context.Background())
	runCtx := m.runCtx
	m.cron = cron.New()
	m.cron.Schedule(cron.Every(m.interval), cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}
		if _, err := m.Consolidate(runCtx); err != nil {
			m.logger.Error("memory consolidation failed", "error", err)
		}
	}))
	m.cron.Start()
	m.running = true
	m.logger.Info("memory consolidation started", "interval", m.interval)
}

// StopConsolidation stops the schedule, cancels an in-flight run and waits
// for it to return. Calling it on a stopped manager is a no-op.
func (m *Manager) StopConsolidation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.running = false
	m.logger.Info("memory consolidation stopped")
}

// Running reports whether consolidation is scheduled.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SearchAll matches pred against both tiers, working hits first.
func (m *Manager) SearchAll(ctx context.Context, pred domain.EntryPredicate) ([]domain.SearchHit, error) {
	var hits []domain.SearchHit
	for _, e := range m.working.Search(pred) {
		hits = append(hits, domain.SearchHit{Tier: domain.TierWorking, Entry: e})
	}
	stored, err := m.longTerm.Search(ctx, nil)
	if err != nil {
		return hits, err
	}
	for _, e := range stored {
		if pred == nil || pred(e) {
			hits = append(hits, domain.SearchHit{Tier: domain.TierLongTerm, Entry: e})
		}
	}
	return hits, nil
}
