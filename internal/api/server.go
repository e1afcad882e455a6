// Package api provides the HTTP REST surface of the dispatch service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/dispatch"
	"github.com/haveloc/servehub/internal/events"
	"github.com/haveloc/servehub/internal/logging"
)

// Server exposes invocation, task and servable endpoints over HTTP.
type Server struct {
	router       chi.Router
	supervisor   *dispatch.Supervisor
	reconciler   *dispatch.Reconciler
	servables    core.ServableStore
	users        core.UserStore
	engine       core.EngineClient
	tasks        core.TaskStore
	introspector core.TokenIntrospector
	eventBus     *events.EventBus
	logger       *logging.Logger
	noCORS       bool
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEvents attaches the lifecycle event bus.
func WithEvents(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.eventBus = bus
	}
}

// WithEngine sets the workflow engine client used by the publication
// flow. Without one, publish requests are refused.
func WithEngine(engine core.EngineClient) ServerOption {
	return func(s *Server) {
		s.engine = engine
	}
}

// WithoutCORS disables the CORS middleware.
func WithoutCORS() ServerOption {
	return func(s *Server) {
		s.noCORS = true
	}
}

// NewServer creates the API server over its collaborators.
func NewServer(
	supervisor *dispatch.Supervisor,
	reconciler *dispatch.Reconciler,
	servables core.ServableStore,
	tasks core.TaskStore,
	users core.UserStore,
	introspector core.TokenIntrospector,
	opts ...ServerOption,
) *Server {
	s := &Server{
		supervisor:   supervisor,
		reconciler:   reconciler,
		servables:    servables,
		tasks:        tasks,
		users:        users,
		introspector: introspector,
		logger:       logging.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(s.loggingMiddleware)

	if !s.noCORS {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: false,
			MaxAge:           300,
		})
		r.Use(corsHandler.Handler)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/run", s.handleRun)
		r.Post("/pipelines/run", s.handlePipelineRun)
		r.Post("/publish", s.handlePublish)

		r.Get("/tasks/{taskID}/status", s.handleTaskStatus)
		r.Get("/namespaces", s.handleNamespaces)

		r.Route("/servables", func(r chi.Router) {
			r.Get("/", s.handleListServables)
			r.Get("/{uuid}/status", s.handleServableStatus)
			r.Delete("/{namespace}/{name}", s.handleDeleteServable)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("encoding response", "error", err)
		}
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server with graceful shutdown on ctx
// cancellation.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
