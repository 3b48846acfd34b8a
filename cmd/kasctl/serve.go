package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kaspa-aio/controller/pkg/alerts"
	"github.com/kaspa-aio/controller/pkg/api"
	"github.com/kaspa-aio/controller/pkg/backup"
	"github.com/kaspa-aio/controller/pkg/broadcast"
	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/config"
	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/monitor"
	"github.com/kaspa-aio/controller/pkg/resources"
	"github.com/kaspa-aio/controller/pkg/runtime"
	"github.com/kaspa-aio/controller/pkg/store"
	"github.com/kaspa-aio/controller/pkg/syncmgr"
	"github.com/kaspa-aio/controller/pkg/tasks"
	"github.com/kaspa-aio/controller/pkg/tokens"
	"github.com/kaspa-aio/controller/pkg/types"
	"github.com/kaspa-aio/controller/pkg/update"
)

const composeProject = "kaspa-aio"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller daemon",
	Long: `Start the controller: the service monitor, resource sampler, sync
manager, alert engine, WebSocket broadcaster, and both HTTP surfaces.
The daemon runs until interrupted and shuts its workers down in reverse
start order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if v, _ := cmd.Flags().GetString("project-root"); v != "" {
			cfg.ProjectRoot = v
			cfg.DataDir = v + "/.kaspa-aio"
		}
		if v, _ := cmd.Flags().GetInt("port"); v != 0 {
			cfg.WizardPort = v
		}
		if v, _ := cmd.Flags().GetInt("dashboard-port"); v != 0 {
			cfg.DashboardPort = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.LogLevel = v
		}
		if changed := cmd.Flags().Changed("log-json"); changed {
			cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("daemon")
		logger.Info().Str("version", Version).Str("project_root", cfg.ProjectRoot).Msg("controller starting")

		cat, err := catalog.Builtin()
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}

		adapter, err := runtime.NewDockerAdapter(cfg.ProjectRoot, composeProject, cat)
		if err != nil {
			return fmt.Errorf("container runtime: %w", err)
		}
		if _, err := adapter.Info(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("container engine not reachable yet")
		}

		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		defer st.Close()

		bus := events.NewBus()

		mon := monitor.New(cat, adapter, bus, monitor.DefaultOptions())
		mon.Start()

		sampler := resources.NewSampler(adapter, bus, cfg.ProjectRoot)
		sampler.Start()

		rpc := syncmgr.NewRPCClient(cfg.KaspaNodeHost, cfg.KaspaNodePort)
		sync := syncmgr.NewManager(rpc, bus, st, "kaspa-node")

		cfgStore := configstore.New(cfg.ProjectRoot)

		engine := alerts.NewEngine(cat, bus, st, alerts.DefaultThresholds())
		engine.Start()

		backups := backup.NewManager(cfg.ProjectRoot, nil)
		pipeline := update.NewPipeline(cat, adapter, mon, cfgStore, backups, bus)
		fallback := update.NewNodeFallback(pipeline, cfg.KaspaNodeHost, cfg.KaspaNodePort, cfg.PublicNodeURL)

		supervisor := tasks.NewSupervisor(bus, st)
		resumeTasks(supervisor, sync, st, cfgStore, fallback)

		tokenStore := tokens.NewStore()
		tokenStore.Start()

		broadcaster := broadcast.New(mon, sampler, supervisor, bus, broadcast.Options{
			UpdateInterval: cfg.UpdateInterval,
			HiddenInterval: cfg.HiddenInterval,
		}).WithTaskRegistrar(func(kind, serviceID string) (string, error) {
			if kind != string(types.TaskNodeSync) {
				return "", fmt.Errorf("unsupported task kind %q", kind)
			}
			if serviceID == "" {
				serviceID = sync.NodeKey()
			}
			return supervisor.StartNodeSync(sync, serviceID, fallback.Configured(), restoreFn(fallback))
		})
		broadcaster.Start()

		jobs := cron.New()
		// Terminal tasks older than a day only clutter listings; the archive
		// in the state store keeps the durable record.
		_, _ = jobs.AddFunc("@hourly", func() {
			if n := supervisor.Cleanup(24 * time.Hour); n > 0 {
				logger.Debug().Int("removed", n).Msg("cleaned up terminal tasks")
			}
		})
		_, _ = jobs.AddFunc("@daily", func() {
			if err := st.PruneSyncSamples(time.Now().Add(-7 * 24 * time.Hour)); err != nil {
				logger.Warn().Err(err).Msg("sync sample pruning failed")
			}
		})
		jobs.Start()

		srv := api.NewServer(api.Deps{
			Config:      cfg,
			Catalog:     cat,
			Adapter:     adapter,
			Monitor:     mon,
			Sampler:     sampler,
			Sync:        sync,
			Tasks:       supervisor,
			Alerts:      engine,
			Backups:     backups,
			Pipeline:    pipeline,
			Fallback:    fallback,
			Store:       cfgStore,
			Tokens:      tokenStore,
			Broadcaster: broadcaster,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = srv.Run(ctx)

		logger.Info().Msg("shutting down")
		jobs.Stop()
		broadcaster.Stop()
		engine.Stop()
		tokenStore.Stop()
		sampler.Stop()
		mon.Stop()
		logger.Info().Msg("shutdown complete")
		return err
	},
}

// resumeTasks restores task visibility across a daemon restart: terminal
// records come back from the archive, and an interrupted node sync from the
// wizard state is re-registered as a live task. A resumed sync keeps its
// endpoint switch-back so a fallback engaged before the restart still flips
// to the local node on completion.
func resumeTasks(supervisor *tasks.Supervisor, sync *syncmgr.Manager, st *store.Store, cfgStore *configstore.Store, fallback *update.NodeFallback) {
	logger := log.WithComponent("daemon")

	archived, err := st.ListArchivedTasks(100)
	if err == nil {
		for _, t := range archived {
			supervisor.Adopt(*t)
		}
	}

	state, err := cfgStore.LoadWizardState()
	if err != nil {
		return
	}
	for _, t := range state.BackgroundTasks {
		if t.Kind != types.TaskNodeSync || t.Status.Terminal() {
			continue
		}
		if _, err := supervisor.StartNodeSync(sync, t.ServiceID, fallback.Configured(), restoreFn(fallback)); err != nil {
			logger.Warn().Err(err).Str("service_id", t.ServiceID).Msg("node sync not resumed")
		}
	}
}

// restoreFn adapts the fallback's Restore to the node-sync completion hook.
func restoreFn(fallback *update.NodeFallback) func() error {
	if !fallback.Configured() {
		return nil
	}
	return func() error { return fallback.Restore(context.Background()) }
}

func init() {
	serveCmd.Flags().Int("port", 0, "Wizard API port (overrides WIZARD_PORT)")
	serveCmd.Flags().Int("dashboard-port", 0, "Dashboard API port (overrides DASHBOARD_PORT)")
	serveCmd.Flags().String("project-root", "", "Directory holding .env and compose files")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("log-json", true, "Log JSON instead of console output")
}
