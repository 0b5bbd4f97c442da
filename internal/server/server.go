// Package server exposes the bridge's operational endpoints: liveness,
// Prometheus metrics, worker pool stats and the engine registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/horde-bridge/internal/backend"
	"github.com/ChuLiYu/horde-bridge/internal/health"
	"github.com/ChuLiYu/horde-bridge/internal/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// PoolStats is implemented by *worker.Pool.
type PoolStats interface {
	Stats() worker.Stats
}

// HealthState is implemented by *health.Monitor.
type HealthState interface {
	State() health.State
}

// EngineLister is implemented by *backend.Registry.
type EngineLister interface {
	List() []backend.Info
}

// Deps are the components the endpoints read from.
type Deps struct {
	Pool    PoolStats
	Health  HealthState
	Engines EngineLister
	Engine  string // active engine name
	Model   string // advertised model name
}

// Server wraps the chi router.
type Server struct {
	router *chi.Mux
	deps   Deps
	logger *slog.Logger
	addr   string
}

// New creates the ops server listening on addr.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: logger,
		addr:   addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/v1/stats", s.handleStats)
	s.router.Get("/v1/engines", s.handleEngines)
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	s.logger.Info("Ops server stopped")
	return nil
}

type healthResponse struct {
	Status        string    `json:"status"`
	Running       bool      `json:"running"`
	ServerHealthy *bool     `json:"server_healthy"`
	CheckedAt     *time.Time `json:"checked_at,omitempty"`
}

// handleHealthz answers 200 while the worker loops may run and 503 once the
// pool has stopped.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Running: true}
	if s.deps.Pool != nil {
		resp.Running = s.deps.Pool.Stats().Running
	}
	if s.deps.Health != nil {
		if st := s.deps.Health.State(); st.Known {
			healthy := st.Healthy
			resp.ServerHealthy = &healthy
			checkedAt := st.CheckedAt
			resp.CheckedAt = &checkedAt
		}
	}

	status := http.StatusOK
	if !resp.Running {
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

type statsResponse struct {
	Engine string       `json:"engine"`
	Model  string       `json:"model"`
	Pool   worker.Stats `json:"pool"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pool == nil {
		s.writeError(w, http.StatusServiceUnavailable, "worker pool not running")
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Engine: s.deps.Engine,
		Model:  s.deps.Model,
		Pool:   s.deps.Pool.Stats(),
	})
}

type enginesResponse struct {
	Active  string         `json:"active"`
	Engines []backend.Info `json:"engines"`
}

func (s *Server) handleEngines(w http.ResponseWriter, _ *http.Request) {
	resp := enginesResponse{Active: s.deps.Engine, Engines: []backend.Info{}}
	if s.deps.Engines != nil {
		resp.Engines = s.deps.Engines.List()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Encode response", "error", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
