package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/alerts"
	"github.com/kaspa-aio/controller/pkg/backup"
	"github.com/kaspa-aio/controller/pkg/broadcast"
	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/config"
	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/monitor"
	"github.com/kaspa-aio/controller/pkg/resources"
	"github.com/kaspa-aio/controller/pkg/runtime"
	"github.com/kaspa-aio/controller/pkg/syncmgr"
	"github.com/kaspa-aio/controller/pkg/tasks"
	"github.com/kaspa-aio/controller/pkg/tokens"
	"github.com/kaspa-aio/controller/pkg/update"
)

// Deps collects the subsystems the HTTP surfaces expose.
type Deps struct {
	Config      *config.Config
	Catalog     *catalog.Catalog
	Adapter     runtime.Adapter
	Monitor     *monitor.Monitor
	Sampler     *resources.Sampler
	Sync        *syncmgr.Manager
	Tasks       *tasks.Supervisor
	Alerts      *alerts.Engine
	Backups     *backup.Manager
	Pipeline    *update.Pipeline
	Fallback    *update.NodeFallback
	Store       *configstore.Store
	Tokens      *tokens.Store
	Broadcaster *broadcast.Broadcaster
}

// Server hosts the dashboard and wizard HTTP surfaces. Both share the same
// subsystems; the wizard additionally serves installation and token handoff.
type Server struct {
	deps      Deps
	logger    zerolog.Logger
	startedAt time.Time

	skipMu  sync.Mutex
	skipped map[string]string // serviceID -> skipped version
}

// NewServer creates the HTTP server layer over the given subsystems.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:      deps,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
		skipped:   make(map[string]string),
	}
}

func (s *Server) baseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	return r
}

// instrument counts requests and logs non-2xx outcomes.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := strconv.Itoa(ww.Status())
		metrics.APIRequestsTotal.WithLabelValues(r.Method, routePattern(r), status).Inc()
		if ww.Status() >= 500 {
			s.logger.Error().Str("method", r.Method).Str("path", r.URL.Path).
				Int("status", ww.Status()).Dur("took", time.Since(start)).Msg("request failed")
		}
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

// DashboardHandler returns the dashboard surface router.
func (s *Server) DashboardHandler() http.Handler {
	r := s.baseRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.deps.Broadcaster.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/resources", s.handleResources)

		r.Route("/services/{id}", func(r chi.Router) {
			r.Post("/start", s.handleServiceStart)
			r.Post("/stop", s.handleServiceStop)
			r.Post("/restart", s.handleServiceRestart)
			r.Get("/logs", s.handleServiceLogs)
		})

		r.Get("/config", s.handleConfigGet)
		r.Post("/config", s.handleConfigSet)

		r.Route("/updates", func(r chi.Router) {
			r.Get("/available", s.handleUpdatesAvailable)
			r.Post("/apply", s.handleUpdatesApply)
			r.Post("/apply-all", s.handleUpdatesApplyAll)
			r.Post("/skip/{id}", s.handleUpdatesSkip)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleAlertsList)
			r.Post("/{id}/ack", s.handleAlertAck)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTasksList)
			r.Get("/{id}", s.handleTaskGet)
			r.Post("/{id}/cancel", s.handleTaskCancel)
		})

		r.Get("/node/status", s.handleNodeStatus)
		r.Post("/node/rpc", s.handleNodeRPC)

		r.Post("/system/emergency-stop", s.handleEmergencyStop)
	})

	return r
}

// WizardHandler returns the wizard surface router.
func (s *Server) WizardHandler() http.Handler {
	r := s.baseRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.deps.Broadcaster.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/profiles", s.handleProfiles)
		r.Post("/profiles/validate-selection", s.handleValidateSelection)
		r.Post("/resource-check/calculate-combined", s.handleCalculateCombined)

		r.Route("/wizard", func(r chi.Router) {
			r.Get("/health", s.handleWizardHealth)
			r.Get("/current-config", s.handleCurrentConfig)
			r.Post("/install", s.handleInstall)
			r.Post("/reconfigure", s.handleReconfigure)
			r.Post("/rollback", s.handleRollback)

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", s.handleBackupsList)
				r.Post("/", s.handleBackupsCreate)
				r.Get("/{id}", s.handleBackupGet)
				r.Delete("/{id}", s.handleBackupDelete)
				r.Get("/{a}/diff/{b}", s.handleBackupDiff)
			})

			r.Post("/updates/apply", s.handleUpdatesApply)

			r.Get("/sync-status", s.handleNodeStatus)
			r.Post("/sync-strategy", s.handleSyncStrategy)

			r.Get("/state", s.handleWizardStateGet)
			r.Post("/state", s.handleWizardStateSet)
			r.Delete("/state", s.handleWizardStateClear)

			r.Get("/reconfigure-link", s.handleReconfigureLink)
			r.Get("/update-link", s.handleUpdateLink)
			r.Get("/token-data", s.handleTokenData)
			r.Delete("/token/{id}", s.handleTokenDelete)
		})
	})

	return r
}

// Run serves both surfaces until the context is cancelled, then shuts them
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.deps.Config
	dashboard := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.WizardHost, cfg.DashboardPort),
		Handler:      s.DashboardHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // log streaming
		IdleTimeout:  60 * time.Second,
	}
	wizard := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.WizardHost, cfg.WizardPort),
		Handler:      s.WizardHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info().Str("addr", dashboard.Addr).Msg("dashboard API listening")
		if err := dashboard.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info().Str("addr", wizard.Addr).Msg("wizard API listening")
		if err := wizard.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = dashboard.Shutdown(shutdownCtx)
	_ = wizard.Shutdown(shutdownCtx)
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.deps.Config.Version,
		"uptimeSec": int64(time.Since(s.startedAt).Seconds()),
	})
}
