// Package frontend exposes the control plane: synchronous and
// streaming run endpoints, input submission, cancellation, run
// history and schedule previews.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flowprobe/flowprobe/internal/catalog"
	"github.com/flowprobe/flowprobe/internal/config"
	"github.com/flowprobe/flowprobe/internal/engine"
	"github.com/flowprobe/flowprobe/internal/logger"
)

// Server is the HTTP control plane.
type Server struct {
	cfg    *config.Config
	store  catalog.Store
	coord  *engine.Coordinator
	router chi.Router
}

// NewServer wires the routes.
func NewServer(cfg *config.Config, store catalog.Store, coord *engine.Coordinator) *Server {
	s := &Server{cfg: cfg, store: store, coord: coord}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/runs/{runId}", s.handleGetRun)
		r.Get("/schedules/preview", s.handleSchedulePreview)

		r.Route("/test-suites/{suiteId}", func(r chi.Router) {
			r.Get("/runs", s.handleListRuns)
			r.Post("/run", s.handleRunSuite)
			r.Get("/run/stream", s.handleRunSuiteStream)
			r.Post("/steps/{stepId}/run", s.handleRunStep)
			r.Get("/steps/{stepId}/run/stream", s.handleRunStepStream)
			r.Post("/run/{runId}/inputs", s.handleSubmitInputs)
			r.Post("/run/{runId}/cancel", s.handleCancelRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the route tree.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Server listening", "addr", s.cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
