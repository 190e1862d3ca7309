package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskloop/internal/engine"
	"github.com/seantiz/taskloop/internal/snapshot"
	"github.com/seantiz/taskloop/internal/work"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// TableSource provides the last rendered task table.
type TableSource interface {
	Rows(ctx context.Context) ([]snapshot.Row, error)
}

// MemoryTable adapts an in-memory snapshot table to TableSource.
func MemoryTable(t *snapshot.Table) TableSource {
	return memoryTable{t}
}

type memoryTable struct {
	t *snapshot.Table
}

func (m memoryTable) Rows(context.Context) ([]snapshot.Row, error) {
	return m.t.Rows(), nil
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router  *chi.Mux
	manager *engine.Manager
	kinds   *work.Registry
	table   TableSource
	metrics *prometheus.Registry
	logger  *slog.Logger
	addr    string
}

// NewServer creates and configures a new HTTP server. The HTTP and task
// collectors are registered on reg, which is served on /metrics; a nil reg
// gets a private registry.
func NewServer(addr string, m *engine.Manager, kinds *work.Registry, table TableSource, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(newTaskCollector(m))
	hm := newHTTPMetrics(reg)

	srv := &Server{
		router:  chi.NewRouter(),
		manager: m,
		kinds:   kinds,
		table:   table,
		metrics: reg,
		logger:  logger.With("component", "api"),
		addr:    addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(hm.middleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler(s.metrics))

	s.router.Get("/v1/kinds", s.handleListKinds)
	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/table", s.handleGetTable)

	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Post("/cancel-active", s.handleCancelActive)
		r.Post("/clear-finished", s.handleClearFinished)
		r.Post("/clear-all", s.handleClearAll)
		r.Get("/{id}", s.handleGetTask)
		r.Get("/{id}/result", s.handleGetResult)
		r.Get("/{id}/events", s.handleStreamEvents)
		r.Delete("/{id}", s.handleCancelTask)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
