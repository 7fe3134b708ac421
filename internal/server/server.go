// Package server assembles the relay's components behind the Server type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wicara/internal/account"
	"github.com/Tyrowin/wicara/internal/assist"
	"github.com/Tyrowin/wicara/internal/store"
)

// LoginLimiter throttles login attempts per client address.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// Options wires the relay's dependencies.
type Options struct {
	Config    Config
	Store     store.Store
	Assistant *assist.Assistant
	// LoginLimiter is optional; logins are unthrottled without it.
	LoginLimiter LoginLimiter
	Logger       *slog.Logger
}

// Server is the relay: registry, router and HTTP surface sharing one store.
type Server struct {
	cfg          Config
	store        store.Store
	hub          *Hub
	router       *Router
	presence     *Presence
	accounts     *account.Service
	assistant    *assist.Assistant
	loginLimiter LoginLimiter
	metrics      *Metrics
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	httpServer   *http.Server
}

// New builds a Server. Start must be called before serving WebSocket traffic.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config.Sanitize()
	asst := opts.Assistant
	if asst == nil {
		asst = assist.NewAssistant(nil, 0, logger)
	}

	metrics := NewMetrics()
	hub := NewHub(logger, metrics)
	metrics.trackOnline(hub)
	presence := NewPresence(hub, opts.Store)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	s := &Server{
		cfg:          cfg,
		store:        opts.Store,
		hub:          hub,
		router:       NewRouter(hub, opts.Store, presence, metrics, cfg.StoreTimeout, logger),
		presence:     presence,
		accounts:     account.NewService(opts.Store, logger),
		assistant:    asst,
		loginLimiter: opts.LoginLimiter,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
	s.httpServer = CreateServer(cfg.Port, s.Handler())
	return s, nil
}

// Handler returns the routed HTTP handler with request id and access logging.
func (s *Server) Handler() http.Handler {
	return withRequestID(withRequestLog(s.logger, s.metrics, s.SetupRoutes()))
}

// Start launches the hub loop.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("hub started")
}

// ListenAndServe serves HTTP on the configured port until Shutdown.
func (s *Server) ListenAndServe() error {
	return StartServer(s.httpServer, s.logger)
}

// Shutdown stops accepting requests, then closes every WebSocket connection.
func (s *Server) Shutdown() error {
	httpErr := ShutdownServer(s.httpServer, s.cfg.ShutdownTimeout, s.logger)
	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	return errors.Join(httpErr, hubErr)
}
