// Package server wires the HTTP surface: the streaming chat endpoint, the
// typed discovery API, WebSocket session tails, and health checks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/gosuda/loom/internal/api/v1"
	"github.com/gosuda/loom/internal/api/ws"
	"github.com/gosuda/loom/internal/bus"
	"github.com/gosuda/loom/internal/config"
	"github.com/gosuda/loom/internal/loop"
	"github.com/gosuda/loom/internal/server/middleware"
	"github.com/gosuda/loom/internal/tool"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router       chi.Router
	httpServer   *http.Server
	loop         *loop.Loop
	registry     *tool.Registry
	wsHub        *ws.Hub
	cfg          *config.Config
	systemPrompt string
}

// New creates a Server with all routes wired. ctx bounds background
// middleware work such as rate-limiter cleanup.
func New(ctx context.Context, cfg *config.Config, lp *loop.Loop, registry *tool.Registry, b bus.Bus) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)

	hub := ws.NewHub(b)

	s := &Server{
		router:       router,
		loop:         lp,
		registry:     registry,
		wsHub:        hub,
		cfg:          cfg,
		systemPrompt: tool.SystemPrompt(registry),
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 10, 20))

		// The chat stream is raw NDJSON and stays outside huma.
		r.Post("/chat", s.handleChat)

		apiConfig := huma.DefaultConfig("Loom API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterToolRoutes(api, registry)
		v1.RegisterSessionRoutes(api, lp.Sessions())
	})

	// WebSocket routes.
	router.Route("/ws", func(r chi.Router) {
		r.Get("/sessions/{sessionID}", hub.ServeSession)
	})

	// Health check.
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
