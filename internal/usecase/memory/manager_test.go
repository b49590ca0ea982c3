package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/adapter/persistence/memstore"
	"conductor/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(_ context.Context, event string, _ domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}
func (b *recordingBus) Subscribe(string, domain.EventCallback) uint64 { return 0 }
func (b *recordingBus) Unsubscribe(string, uint64)                    {}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAudit) Log(_ context.Context, e domain.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}
func (a *recordingAudit) Close() error { return nil }

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	return NewManager(NewWorking(10), NewLongTerm(memstore.New()), ManagerConfig{Threshold: 0.7, Interval: time.Second}, testLogger(), opts...)
}

func TestAddMemoryRoutesByImportance(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	high := domain.NewMemoryEntry(domain.MemoryTypeKnowledge, "important", 0.9, nil)
	tier, err := m.AddMemory(ctx, high)
	require.NoError(t, err)
	assert.Equal(t, domain.TierLongTerm, tier)
	assert.Equal(t, 0, m.Working().Len())

	_, err = m.LongTerm().Get(ctx, high.ID)
	require.NoError(t, err)

	edge := domain.NewMemoryEntry(domain.MemoryTypeKnowledge, "edge", 0.7, nil)
	tier, err = m.AddMemory(ctx, edge)
	require.NoError(t, err)
	assert.Equal(t, domain.TierLongTerm, tier, "threshold is inclusive")

	low := domain.NewMemoryEntry(domain.MemoryTypeObservation, "minor", 0.3, nil)
	tier, err = m.AddMemory(ctx, low)
	require.NoError(t, err)
	assert.Equal(t, domain.TierWorking, tier)
	assert.Equal(t, 1, m.Working().Len())
}

func TestManagerDefaults(t *testing.T) {
	m := NewManager(NewWorking(1), NewLongTerm(memstore.New()), ManagerConfig{}, testLogger())
	assert.Equal(t, DefaultThreshold, m.Threshold())
	assert.Equal(t, DefaultInterval, m.interval)
}

func TestConsolidatePromotesAndClears(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	audit := &recordingAudit{}
	m := newTestManager(t, WithEventBus(bus), WithAudit(audit))

	keep := domain.NewMemoryEntry(domain.MemoryTypeTask, "keep", 0.8, nil)
	drop := domain.NewMemoryEntry(domain.MemoryTypeTask, "drop", 0.2, nil)
	m.Working().Add(keep)
	m.Working().Add(drop)

	n, err := m.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, m.Working().Len())

	count, err := m.LongTerm().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, []string{domain.EventMemoryPromote}, bus.events)
	require.Len(t, audit.events, 1)
	assert.Equal(t, domain.AuditMemoryPromote, audit.events[0].Type)
	assert.Equal(t, "1", audit.events[0].Detail["promoted"])
}

func TestConsolidateSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	e := domain.NewMemoryEntry(domain.MemoryTypeTask, "twice", 0.9, nil)
	require.NoError(t, m.LongTerm().Add(ctx, e))
	m.Working().Add(e)

	n, err := m.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConsolidateNothingToDo(t *testing.T) {
	bus := &recordingBus{}
	m := newTestManager(t, WithEventBus(bus))

	n, err := m.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, bus.events)
}

// fullStore accepts reads but rejects every write.
type fullStore struct {
	*memstore.Store
}

func (fullStore) Save(context.Context, string, []byte, domain.IndexRecord) error {
	return errors.New("disk full")
}

func TestConsolidateFailedWriteKeepsEntry(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewWorking(10), NewLongTerm(fullStore{memstore.New()}), ManagerConfig{Threshold: 0.7, Interval: time.Second}, testLogger())

	important := domain.NewMemoryEntry(domain.MemoryTypeTask, "must survive", 0.9, nil)
	m.Working().Add(important)
	m.Working().Add(domain.NewMemoryEntry(domain.MemoryTypeTask, "minor", 0.1, nil))

	n, err := m.Consolidate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryStore)
	assert.Equal(t, 0, n)

	kept := m.Working().All()
	require.Len(t, kept, 1)
	assert.Equal(t, important.ID, kept[0].ID)
}

func TestConsolidateCancelledKeepsEntries(t *testing.T) {
	m := newTestManager(t)
	m.Working().Add(domain.NewMemoryEntry(domain.MemoryTypeTask, "a", 0.9, nil))
	m.Working().Add(domain.NewMemoryEntry(domain.MemoryTypeTask, "b", 0.1, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := m.Consolidate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, m.Working().Len())
}

func TestStartStopConsolidationIdempotent(t *testing.T) {
	m := newTestManager(t)

	m.StopConsolidation()
	assert.False(t, m.Running())

	m.StartConsolidation()
	m.StartConsolidation()
	assert.True(t, m.Running())

	m.StopConsolidation()
	m.StopConsolidation()
	assert.False(t, m.Running())

	m.StartConsolidation()
	assert.True(t, m.Running())
	m.StopConsolidation()
}

func TestScheduledConsolidation(t *testing.T) {
	m := newTestManager(t)
	m.Working().Add(domain.NewMemoryEntry(domain.MemoryTypeTask, "scheduled", 0.95, nil))

	m.StartConsolidation()
	t.Cleanup(m.StopConsolidation)

	assert.Eventually(t, func() bool {
		n, err := m.LongTerm().Count(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSearchAllOrdersWorkingFirst(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.AddMemory(ctx, domain.NewMemoryEntry(domain.MemoryTypeTask, "stored", 0.9, nil))
	require.NoError(t, err)
	_, err = m.AddMemory(ctx, domain.NewMemoryEntry(domain.MemoryTypeTask, "fresh", 0.2, nil))
	require.NoError(t, err)
	_, err = m.AddMemory(ctx, domain.NewMemoryEntry(domain.MemoryTypeKnowledge, "other", 0.2, nil))
	require.NoError(t, err)

	hits, err := m.SearchAll(ctx, OfType(domain.MemoryTypeTask))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, domain.TierWorking, hits[0].Tier)
	assert.Equal(t, "fresh", hits[0].Entry.Content)
	assert.Equal(t, domain.TierLongTerm, hits[1].Tier)
	assert.Equal(t, "stored", hits[1].Entry.Content)
}
