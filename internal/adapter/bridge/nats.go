// Package bridge mirrors the local event bus onto NATS so that processes
// outside conductor can watch traffic and inject messages.
//
// Outbound: every bus event is published as JSON on
// <prefix>.events.<event name>. Inbound: messages published on
// <prefix>.inbound are decoded and handed to the local router.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// Tap receives every event published on the local bus.
type Tap interface {
	SubscribeAll(cb domain.EventCallback) func()
}

// Router accepts messages injected from NATS.
type Router interface {
	RouteMessage(ctx context.Context, msg domain.Message) domain.Delivery
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Bridge is safe for concurrent use.
type Bridge struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	router Router
	logger *slog.Logger

	mu    sync.Mutex
	unsub func()
	sub   *nats.Subscription
}

// Connect dials NATS and starts forwarding events from tap. router may be
// nil, in which case inbound messages are not accepted.
func Connect(cfg config.BridgeConfig, tap Tap, router Router, logger *slog.Logger) (*Bridge, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("%w: bridge needs a nats url", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bridge")

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("conductor"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to nats: %v", domain.ErrServiceUnavailable, err)
	}

	b := newBridge(nc, cfg.SubjectPrefix, router, logger)
	b.conn = nc
	if router != nil {
		sub, err := nc.Subscribe(b.inboundSubject(), func(m *nats.Msg) {
			b.handleInbound(context.Background(), m.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrServiceUnavailable, b.inboundSubject(), err)
		}
		b.sub = sub
	}
	b.Attach(tap)
	logger.Info("nats bridge connected", "url", cfg.NATSURL, "prefix", b.prefix)
	return b, nil
}

func newBridge(pub publisher, prefix string, router Router, logger *slog.Logger) *Bridge {
	if prefix == "" {
		prefix = "conductor"
	}
	return &Bridge{pub: pub, prefix: prefix, router: router, logger: logger}
}

// Attach starts forwarding every event from tap.
func (b *Bridge) Attach(tap Tap) {
	if tap == nil {
		return
	}
	unsub := tap.SubscribeAll(b.forward)
	b.mu.Lock()
	b.unsub = unsub
	b.mu.Unlock()
}

// Subject returns the outbound subject for an event name.
func (b *Bridge) Subject(event string) string {
	return b.prefix + ".events." + subjectToken(event)
}

func (b *Bridge) inboundSubject() string { return b.prefix + ".inbound" }

// envelope is the outbound wire format.
type envelope struct {
	Event   string         `json:"event"`
	Message domain.Message `json:"message"`
}

func (b *Bridge) forward(_ context.Context, msg domain.Message) error {
	event, ok := msg.MetaString(domain.MetaEventType)
	if !ok {
		event = string(msg.Type)
	}
	data, err := json.Marshal(envelope{Event: event, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if err := b.pub.Publish(b.Subject(event), data); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrServiceUnavailable, event, err)
	}
	return nil
}

func (b *Bridge) handleInbound(ctx context.Context, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("inbound message rejected", "error", err)
		return
	}
	if msg.ID == "" {
		fresh := domain.NewMessage(msg.Type, msg.SenderID, msg.RecipientID, msg.Content)
		fresh.Metadata = msg.Metadata
		msg = fresh
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	d := b.router.RouteMessage(ctx, msg)
	b.logger.Debug("inbound message routed", "message_id", msg.ID, "delivered", d.Delivered)
}

// Close stops forwarding and drains the NATS connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
}

// subjectToken makes an event name safe for use inside a NATS subject.
func subjectToken(event string) string {
	if event == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, event)
}
