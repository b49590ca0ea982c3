// Package eventbus is the in-process publish/subscribe layer. Callbacks run
// synchronously in the publisher's goroutine, in subscription order.
package eventbus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"conductor/internal/domain"
)

type subscription struct {
	id       uint64
	callback domain.EventCallback
}

// Bus is a goroutine-safe, ordered event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[string][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		typed:  make(map[string][]subscription),
		logger: logger,
	}
}

// Publish invokes every subscriber of event, then every SubscribeAll tap.
// A failing or panicking callback is logged and the rest still run.
func (b *Bus) Publish(ctx context.Context, event string, msg domain.Message) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[event]))
	copy(typed, b.typed[event])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.dispatch(ctx, event, msg, sub)
	}
	for _, sub := range allSubs {
		b.dispatch(ctx, event, msg, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event string, msg domain.Message, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event callback panicked",
				"event", event,
				"subscription", sub.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := sub.callback(ctx, msg); err != nil {
		b.logger.Warn("event callback failed",
			"event", event,
			"subscription", sub.id,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Subscribe registers a callback for event and returns its id.
func (b *Bus) Subscribe(event string, cb domain.EventCallback) uint64 {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.typed[event] = append(b.typed[event], subscription{id: id, callback: cb})
	b.mu.Unlock()
	return id
}

// On is Subscribe returning an unsubscribe function instead of the id.
func (b *Bus) On(event string, cb domain.EventCallback) func() {
	id := b.Subscribe(event, cb)
	return func() { b.Unsubscribe(event, id) }
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.typed[event]
	for i, s := range subs {
		if s.id == id {
			b.typed[event] = append(subs[:i:i], subs[i+1:]...)
			if len(b.typed[event]) == 0 {
				delete(b.typed, event)
			}
			return
		}
	}
}

// SubscribeAll registers a callback that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(cb domain.EventCallback) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, subscription{id: id, callback: cb})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers reports how many callbacks are registered for event.
func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.typed[event])
}

// Close makes later publishes no-ops. Close is idempotent.
func (b *Bus) Close() {
	b.closed.Store(true)
}

var _ domain.EventBus = (*Bus)(nil)
