// Package diagnostics exposes a read-only HTTP surface over a store: health
// and row-count metrics only, never the check-and-insert API. That stays
// reachable solely through a validator client's in-process call into store,
// never over the network.
package diagnostics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/sigilhold/slashguard/store"
)

// Server serves /healthz and /metrics over st.
type Server struct {
	logger *zap.Logger
	store  *store.Store
	router *chi.Mux
}

// NewServer builds a Server backed by st.
func NewServer(logger *zap.Logger, st *store.Store) *Server {
	s := &Server{
		logger: logger,
		store:  st,
	}
	s.router = chi.NewRouter()
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(middleware.Logger)
	s.router.Use(render.SetContentType(render.ContentTypeJSON))
	s.router.Mount("/debug", middleware.Profiler())
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/metrics", s.handleMetrics)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.NumValidatorRows(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	validators, err := s.store.NumValidatorRows(r.Context())
	if err != nil {
		s.logger.Error("failed to count validators", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lowerBounds, err := s.store.NumLowerBoundRows(r.Context())
	if err != nil {
		s.logger.Error("failed to count lower bounds", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, map[string]int64{
		"validators":   validators,
		"lower_bounds": lowerBounds,
	})
}
