package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/maniack/sessionsweep/internal/logging"
	"github.com/maniack/sessionsweep/internal/monitoring"
	"github.com/maniack/sessionsweep/internal/scheduler"
	"github.com/maniack/sessionsweep/internal/storage"
	"github.com/maniack/sessionsweep/internal/sweeper"
)

const sweepJob = "sessions"

type MonitoringConfig struct {
	MetricsEndpoint string
	HealthzEndpoint string
}

type Config struct {
	Store      *storage.Store
	Sweeper    *sweeper.Sweeper
	Logger     *logrus.Logger
	Version    string
	Monitoring MonitoringConfig

	// APIKey guards /api when set.
	APIKey string
	// Schedule is a cron spec for the session sweep, "@daily" by default.
	Schedule string
	// SweepTimeout bounds each run; zero means no timeout.
	SweepTimeout time.Duration

	SkipWorkers bool
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		logging.Init(false, false)
		c.Logger = logging.L()
	}
	if c.Monitoring.MetricsEndpoint == "" {
		c.Monitoring.MetricsEndpoint = "/metrics"
	}
	if c.Monitoring.HealthzEndpoint == "" {
		c.Monitoring.HealthzEndpoint = "/healthz"
	}
	if c.Schedule == "" {
		c.Schedule = "@daily"
	}
}

type Server struct {
	Router  chi.Router
	store   *storage.Store
	sweeper *sweeper.Sweeper
	log     *logrus.Logger
	cfg     Config
	sched   *scheduler.Scheduler

	mu   sync.RWMutex
	last *SweepStatus
}

// NewServer builds the ops router and, unless SkipWorkers is set, starts the
// scheduled sweep.
func NewServer(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	monitoring.Init()

	s := &Server{store: cfg.Store, sweeper: cfg.Sweeper, log: cfg.Logger, cfg: cfg}
	s.Router = s.routes()

	if !cfg.SkipWorkers {
		if err := s.startSessionSweep(cfg.Schedule, cfg.SweepTimeout); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	m := s.cfg.Monitoring
	r := chi.NewRouter()
	r.Use(chmw.RequestID, chmw.RealIP, chmw.Recoverer)
	r.Use(RequestLogger(s.log, m.HealthzEndpoint+"/alive", m.HealthzEndpoint+"/ready", m.MetricsEndpoint))
	r.Use(SecurityHeaders())

	r.Route(m.HealthzEndpoint, func(r chi.Router) {
		r.Get("/alive", s.handleAlive)
		r.Get("/ready", s.handleReady)
	})
	r.Handle(m.MetricsEndpoint, monitoring.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.RequireAPIKey)
		r.Get("/version", s.handleVersion)
		r.Get("/settings", s.handleGetSettings)
		r.Get("/sweep", s.handleLastSweep)
		r.Post("/sweep", s.handleRunSweep)
	})
	return r
}

// Shutdown stops the scheduled worker, waiting for a running sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Stop(ctx)
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady answers 200 once the session database responds.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.store.DB == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no database"})
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("healthz: database not ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "table": s.store.Sessions().Table()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
