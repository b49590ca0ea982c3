// Package messaging delivers messages between registered agents according
// to the message type and keeps a bounded record of what was routed.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// DefaultHistoryLimit bounds the routing history.
const DefaultHistoryLimit = 1000

type route struct {
	agentID  string
	callback domain.RouteCallback
}

// Router dispatches messages to agent routes and mirrors events onto the bus.
type Router struct {
	mu     sync.RWMutex
	routes []route

	histMu  sync.Mutex
	history []domain.Delivery
	limit   int

	bus    domain.EventBus
	logger *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.limit = n
		}
	}
}

// NewRouter creates a router publishing on bus.
func NewRouter(bus domain.EventBus, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{bus: bus, logger: logger, limit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterRoute installs (or replaces) the callback for agentID. Broadcasts
// reach routes in registration order.
func (r *Router) RegisterRoute(agentID string, cb domain.RouteCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].agentID == agentID {
			r.routes[i].callback = cb
			return
		}
	}
	r.routes = append(r.routes, route{agentID: agentID, callback: cb})
}

// UnregisterRoute removes agentID's route, if any.
func (r *Router) UnregisterRoute(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].agentID == agentID {
			r.routes = append(r.routes[:i:i], r.routes[i+1:]...)
			return
		}
	}
}

// HasRoute reports whether agentID is registered.
func (r *Router) HasRoute(agentID string) bool {
	_, ok := r.lookup(agentID)
	return ok
}

func (r *Router) lookup(agentID string) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.agentID == agentID {
			return rt, true
		}
	}
	return route{}, false
}

func (r *Router) snapshot() []route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]route, len(r.routes))
	copy(out, r.routes)
	return out
}

// RouteMessage delivers msg according to its type. Every message, delivered
// or dropped, lands in the history; only delivered ones are published as
// message.routed.
func (r *Router) RouteMessage(ctx context.Context, msg domain.Message) domain.Delivery {
	ctx, span := tracer.StartSpan(ctx, "router.route",
		trace.WithAttributes(
			tracer.StringAttr("message.id", msg.ID),
			tracer.StringAttr("message.type", string(msg.Type)),
		),
	)
	defer span.End()

	d := r.route(ctx, msg)
	if !d.Delivered {
		r.logger.Error("message dropped",
			"message_id", msg.ID,
			"type", string(msg.Type),
			"recipient", msg.RecipientID,
			"reason", d.Reason,
		)
	}
	span.SetAttributes(
		tracer.BoolAttr("message.delivered", d.Delivered),
		tracer.IntAttr("message.recipients", len(d.Recipients)),
	)
	tracer.SetOK(span)

	r.addToHistory(d)
	if d.Delivered && r.bus != nil {
		r.bus.Publish(ctx, domain.EventMessageRouted,
			domain.NewMessage(domain.MessageEvent, "router", "", d).
				WithMetadata(domain.MetaEventType, domain.EventMessageRouted))
	}
	return d
}

func (r *Router) route(ctx context.Context, msg domain.Message) domain.Delivery {
	if err := msg.Validate(); err != nil {
		return domain.Delivery{Message: msg, Reason: err.Error()}
	}

	switch msg.Type {
	case domain.MessageBroadcast:
		return r.broadcast(ctx, msg)
	case domain.MessageDirect:
		return r.direct(ctx, msg)
	case domain.MessageEvent:
		eventType, ok := msg.MetaString(domain.MetaEventType)
		if !ok {
			return domain.Delivery{Message: msg, Reason: "event message missing event_type"}
		}
		if r.bus != nil {
			r.bus.Publish(ctx, eventType, msg)
		}
		return domain.Delivery{Message: msg, Delivered: true}
	case domain.MessageSystem:
		d := r.broadcast(ctx, msg)
		if r.bus != nil {
			r.bus.Publish(ctx, domain.EventSystem, msg)
		}
		d.Delivered = true
		return d
	case domain.MessageToolRequest, domain.MessageToolResponse:
		if msg.RecipientID != "" {
			return r.direct(ctx, msg)
		}
		return r.broadcast(ctx, msg)
	}
	return domain.Delivery{Message: msg, Reason: fmt.Sprintf("unsupported message type %q", msg.Type)}
}

func (r *Router) direct(ctx context.Context, msg domain.Message) domain.Delivery {
	d := domain.Delivery{Message: msg}
	rt, ok := r.lookup(msg.RecipientID)
	if !ok {
		d.Reason = "no route for recipient " + msg.RecipientID
		return d
	}
	if err := r.invoke(ctx, rt, msg); err != nil {
		d.Failed = []string{rt.agentID}
		d.Reason = err.Error()
		return d
	}
	d.Delivered = true
	d.Recipients = []string{rt.agentID}
	return d
}

func (r *Router) broadcast(ctx context.Context, msg domain.Message) domain.Delivery {
	d := domain.Delivery{Message: msg}
	routes := r.snapshot()
	if len(routes) == 0 {
		d.Reason = "no routes registered"
		return d
	}
	for _, rt := range routes {
		if err := r.invoke(ctx, rt, msg); err != nil {
			r.logger.Warn("broadcast recipient failed", "agent", rt.agentID, "message_id", msg.ID, "error", err)
			d.Failed = append(d.Failed, rt.agentID)
			continue
		}
		d.Recipients = append(d.Recipients, rt.agentID)
	}
	d.Delivered = len(d.Recipients) > 0
	if !d.Delivered {
		d.Reason = "every recipient failed"
	}
	return d
}

func (r *Router) invoke(ctx context.Context, rt route, msg domain.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("route %s panicked: %v", rt.agentID, p)
		}
	}()
	return rt.callback(ctx, msg)
}

func (r *Router) addToHistory(d domain.Delivery) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history = append(r.history, d)
	if over := len(r.history) - r.limit; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

// GetHistory returns up to limit of the most recent deliveries, oldest
// first. limit <= 0 returns the whole history.
func (r *Router) GetHistory(limit int) []domain.Delivery {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	start := 0
	if limit > 0 && limit < len(r.history) {
		start = len(r.history) - limit
	}
	out := make([]domain.Delivery, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}
