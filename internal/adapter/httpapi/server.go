// Package httpapi exposes the orchestrator over HTTP and streams routed
// messages to websocket listeners.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/middleware"
	"conductor/internal/usecase/orchestrator"
)

// Orchestrator is the subset of the orchestrator served over HTTP.
type Orchestrator interface {
	ProcessUserMessage(ctx context.Context, text string) orchestrator.Result
	HandleToolRequest(ctx context.Context, tool string, params map[string]any) orchestrator.ToolResult
	HandleAgentHandoff(ctx context.Context, from, to string, content any) (orchestrator.HandoffResult, error)
	Status() orchestrator.Status
}

// HistorySource returns routed deliveries, newest last.
type HistorySource interface {
	GetHistory(limit int) []domain.Delivery
}

// Deps holds the collaborators of the server. Orchestrator and Bus are
// required.
type Deps struct {
	Orchestrator Orchestrator
	History      HistorySource
	Bus          domain.EventBus
	Logger       *slog.Logger
}

// Server serves the REST API and the /ws delivery stream.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	logger  *slog.Logger
	streams *streamHub
	httpSrv *http.Server
	bound   string

	stopOnce sync.Once
	subID    uint64
}

// NewServer creates a server and subscribes its stream hub to
// message.routed.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Orchestrator == nil || deps.Bus == nil {
		return nil, fmt.Errorf("%w: http server needs an orchestrator and a bus", domain.ErrInvalidInput)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "httpapi")
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		streams: newStreamHub(logger),
	}
	s.subID = deps.Bus.Subscribe(domain.EventMessageRouted, s.streams.publish)
	return s, nil
}

// Handler builds the route tree. ctx bounds the rate limiter's cleanup
// goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequestLog(s.logger))
	if s.cfg.RequestsPerMin > 0 {
		r.Use(middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst))
	}
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.health)
	r.Get("/ws", s.stream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", s.postMessage)
		r.Post("/tools/{name}", s.postTool)
		r.Post("/handoffs", s.postHandoff)
		r.Get("/agents", s.listAgents)
		r.Get("/history", s.history)
	})
	return r
}

// Start listens on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.bound = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server started", "addr", s.bound)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Stop closes every stream and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.deps.Bus.Unsubscribe(domain.EventMessageRouted, s.subID)
		s.streams.closeAll()
		if s.httpSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(shutdownCtx)
	})
	return err
}

// BoundAddr is the listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.bound }
