// Package statusapi exposes a small read-only HTTP surface over run
// history, store health, and active promos, for operators who want a
// dashboard without shelling into Postgres.
package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/pkg/httputil"
)

// RunLister, StoreLister, and PromoLister are the read surfaces this
// package needs. The Postgres repository layer (RunRepo, StoreRepo,
// PromoRepo) satisfies all three; Server takes each dependency separately
// so callers aren't forced to share one concrete type across all of them.
type RunLister interface {
	ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

type StoreLister interface {
	ActiveStores(ctx context.Context, allowlist []string) ([]domain.Store, error)
}

type PromoLister interface {
	ActivePromos(ctx context.Context, cooldownDays int, allowlist []string) ([]domain.Promo, error)
}

// Server serves the status API.
type Server struct {
	runs   RunLister
	stores StoreLister
	promos PromoLister
	router *chi.Mux
}

// NewServer builds the status router. The returned Server's router is an
// http.Handler ready to mount under http.ListenAndServe or a parent mux.
func NewServer(runs RunLister, stores StoreLister, promos PromoLister) *Server {
	s := &Server{runs: runs, stores: stores, promos: promos}
	s.router = s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/runs", s.handleRuns)
	r.Get("/stores", s.handleStores)
	r.Get("/promos/active", s.handleActivePromos)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	runs, err := s.runs.ListRecentRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, runs)
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.stores.ActiveStores(r.Context(), nil)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stores)
}

func (s *Server) handleActivePromos(w http.ResponseWriter, r *http.Request) {
	// a cooldown of 0 here means "no cooldown filtering": show everything
	// currently marked active regardless of last_notified_at.
	promos, err := s.promos.ActivePromos(r.Context(), 0, nil)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, promos)
}

// ListenAndServe runs the status API with sane read/write timeouts,
// blocking until ctx is cancelled or the server errors.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
