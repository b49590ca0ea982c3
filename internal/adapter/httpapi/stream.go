package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"conductor/internal/domain"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// listener is one websocket subscribed to routed deliveries.
type listener struct {
	ws        *websocket.Conn
	sendCh    chan domain.Delivery
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// streamHub fans routed deliveries out to websocket listeners. Slow
// listeners lose deliveries rather than blocking the router.
type streamHub struct {
	logger    *slog.Logger
	listeners sync.Map // uint64 -> *listener
	nextID    atomic.Uint64
	size      atomic.Int64
}

func newStreamHub(logger *slog.Logger) *streamHub {
	return &streamHub{logger: logger}
}

// publish is subscribed to message.routed on the event bus.
func (h *streamHub) publish(_ context.Context, msg domain.Message) error {
	d, ok := msg.Content.(domain.Delivery)
	if !ok {
		return nil
	}
	h.listeners.Range(func(_, value any) bool {
		l := value.(*listener)
		select {
		case l.sendCh <- d:
		default:
			h.logger.Warn("stream: dropped delivery for slow listener", "message_id", d.Message.ID)
		}
		return true
	})
	return nil
}

func (h *streamHub) add(ws *websocket.Conn) (uint64, *listener) {
	id := h.nextID.Add(1)
	l := &listener{
		ws:     ws,
		sendCh: make(chan domain.Delivery, streamBuffer),
		done:   make(chan struct{}),
	}
	h.listeners.Store(id, l)
	h.size.Add(1)
	return id, l
}

func (h *streamHub) remove(id uint64) {
	if v, ok := h.listeners.LoadAndDelete(id); ok {
		v.(*listener).close()
		h.size.Add(-1)
	}
}

func (h *streamHub) count() int { return int(h.size.Load()) }

func (h *streamHub) closeAll() {
	h.listeners.Range(func(key, value any) bool {
		l := value.(*listener)
		l.close()
		l.ws.Close(websocket.StatusGoingAway, "server shutting down")
		h.remove(key.(uint64))
		return true
	})
}

// stream upgrades to a websocket and writes every routed delivery as a JSON
// frame until the client disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	}
	opts.OriginPatterns = append(opts.OriginPatterns, s.cfg.CORSOrigins...)
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	id, l := s.streams.add(ws)
	s.logger.Info("stream listener connected", "conn_id", id)

	// Listeners only receive; the read side exists to notice the close.
	ctx := ws.CloseRead(r.Context())
	s.writeLoop(ctx, l)

	s.streams.remove(id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("stream listener disconnected", "conn_id", id)
}

func (s *Server) writeLoop(ctx context.Context, l *listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case d := <-l.sendCh:
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, l.ws, d)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
