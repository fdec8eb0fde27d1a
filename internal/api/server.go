package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BardiaPzK/ribooster/internal/api/handler"
	mw "github.com/BardiaPzK/ribooster/internal/api/middleware"
	"github.com/BardiaPzK/ribooster/internal/config"
	"github.com/BardiaPzK/ribooster/internal/core"
)

// Pinger is a dependency checked by /readyz, such as the job store's
// connection pool or the redis event bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	checks   map[string]Pinger
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, services *core.Services, checks map[string]Pinger, cfg *config.Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		checks:   checks,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
	s.router.Use(mw.CORS(s.cfg.CORSOrigins))
}

func (s *Server) setupRoutes() {
	if s.cfg.MetricsListenAddr == "" {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.Auth(s.services.Auth))

		project := handler.NewProject(s.services.Project)
		r.Get("/user/projects", project.List)

		backup := handler.NewBackup(s.services.Backup)
		r.Post("/user/projects/backup", backup.Start)
		r.Get("/user/projects/backup/{jobID}", backup.Get)
		r.Post("/user/projects/backup/{jobID}/stop", backup.Stop)
		r.Get("/user/projects/backup/{jobID}/file", backup.Download)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var mu sync.Mutex
	checks := make(map[string]string, len(s.checks))
	healthy := true

	var g errgroup.Group
	for name, p := range s.checks {
		g.Go(func() error {
			result := "ok"
			if err := p.Ping(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[name] = result
			if result != "ok" {
				healthy = false
			}
			return nil
		})
	}
	g.Wait()

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
