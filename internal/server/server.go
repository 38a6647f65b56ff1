// Package server exposes the bridge over HTTP. It serves the canonical
// activity, user, library and server records as JSON, pushes every poll
// result to WebSocket subscribers and publishes Prometheus metrics. Routing
// uses chi/v5 with CORS for browser dashboards.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opd-ai/go-emby-bridge/internal/bridge"
	"github.com/opd-ai/go-emby-bridge/internal/metrics"
	"github.com/opd-ai/go-emby-bridge/internal/storage"
	"github.com/opd-ai/go-emby-bridge/internal/ui"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

// Version is reported by /api/status. It is set at build time.
var Version = "dev"

// Server is the HTTP front end of the bridge.
type Server struct {
	config     *config.ServerConfig
	logger     *slog.Logger
	bridge     *bridge.Bridge
	storage    *storage.Manager
	hub        *Hub
	httpServer *http.Server
	router     chi.Router
	started    time.Time
}

// New creates the server. The returned server's Hub should be registered
// with the poller so subscribers receive activity updates.
func New(cfg *config.ServerConfig, b *bridge.Bridge, store *storage.Manager, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		bridge:  b,
		storage: store,
		hub:     NewHub(logger, cfg.AllowedOrigins),
		started: time.Now(),
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware())
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCompression {
		s.router.Use(middleware.Compress(5))
	}

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// Long-lived; kept outside the request timeout.
	s.router.Get("/ws/activity", s.handleWebSocket)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/status", s.handleStatus)
		r.Get("/activity", s.handleActivity)
		r.Get("/activity/latest", s.handleLatestActivity)
		r.Get("/users", s.handleUsers)
		r.Get("/libraries", s.handleLibraries)
		r.Get("/server", s.handleServerIdentity)
		r.Post("/sessions/{id}/terminate", s.handleTerminateSession)
	})

	dashboard, err := ui.New(Version)
	if err != nil {
		s.logger.Error("Dashboard disabled", "error", err)
		return
	}
	dashboard.RegisterRoutes(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		"address", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop closes WebSocket subscribers and shuts the server down, waiting up
// to 30 seconds for in-flight requests.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP server")

	s.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped successfully")
	return nil
}

// loggingMiddleware logs each request and records its duration by route
// pattern.
func (s *Server) loggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.APIRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())

			s.logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"ip", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
