package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown of in-flight REST requests
const shutdownTimeout = 15 * time.Second

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	live          *liveHandler
	afterShutdown []func()
}

// NewServer returns new Server struct serving the REST fallback and live connections on top of svc.
// Live connections are registered in registry, callers are identified by tokens.
func NewServer(logger *zap.SugaredLogger, svc ChatService, registry Registry, tokens TokenParser, opts ...Option) (*Server, error) {
	h := &handler{logger: logger, svc: svc}

	cfg := &config{
		httpServer: &http.Server{Addr: ":9000"},
		handlers: map[string]http.Handler{
			"/rooms/get":       http.HandlerFunc(h.rooms),
			"/rooms/add":       http.HandlerFunc(h.openRoom),
			"/messages/add":    http.HandlerFunc(h.sendMessage),
			"/messages/get":    http.HandlerFunc(h.messages),
			"/messages/read":   http.HandlerFunc(h.markRead),
			"/messages/unread": http.HandlerFunc(h.unread),
		},
		live: defaultLiveConfig(),
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	if cfg.live.sendBuffer < 1 {
		return nil, fmt.Errorf("send buffer must hold at least one event, got %d", cfg.live.sendBuffer)
	}
	if cfg.live.pingPeriod >= cfg.live.pongWait {
		return nil, fmt.Errorf("ping period %s must be shorter than pong wait %s", cfg.live.pingPeriod, cfg.live.pongWait)
	}

	live := newLiveHandler(logger, svc, registry, tokens, cfg.live)
	cfg.liveHandler = live

	for _, opt := range []Option{
		applyAuth(tokens),
		applyEnforcePostJson(),
		applyLog(logger.Desugar()),
		registerHandlers(),
	} {
		opt.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		live:          live,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root handler with every middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}

// Shutdown stops accepting requests, disconnects live clients and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	// hijacked connections are not tracked by http.Server
	s.live.closeAll()
	return err
}
