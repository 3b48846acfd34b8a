package update

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/backup"
	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/depgraph"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/monitor"
	"github.com/kaspa-aio/controller/pkg/runtime"
	"github.com/kaspa-aio/controller/pkg/types"
)

// Item is one requested service update.
type Item struct {
	ServiceID     string `json:"serviceId"`
	TargetVersion string `json:"targetVersion"`
}

// Options flags an update run.
type Options struct {
	CreateBackup         bool `json:"createBackup"`
	BreakingAcknowledged bool `json:"breakingAcknowledged"`
}

// ServiceResult is the per-service outcome of a run.
type ServiceResult struct {
	ServiceID   string `json:"serviceId"`
	FromVersion string `json:"fromVersion"`
	ToVersion   string `json:"toVersion"`
	Succeeded   bool   `json:"succeeded"`
	RolledBack  bool   `json:"rolledBack"`
	Error       string `json:"error,omitempty"`
}

// Result is the outcome of a whole run.
type Result struct {
	Succeeded  bool            `json:"succeeded"`
	SnapshotID string          `json:"snapshotId,omitempty"`
	Services   []ServiceResult `json:"services"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Pipeline drives version updates and reconfiguration: snapshot, stop,
// rewrite, start, await health, with a per-service rollback on failure.
// Fleet mutation runs under the monitor's fleet lock so updates never
// interleave with manual control operations.
type Pipeline struct {
	catalog *catalog.Catalog
	adapter runtime.Adapter
	monitor *monitor.Monitor
	cfg     *configstore.Store
	backups *backup.Manager
	bus     *events.Bus
	graph   *depgraph.Graph
	logger  zerolog.Logger
}

// NewPipeline creates an update pipeline.
func NewPipeline(cat *catalog.Catalog, adapter runtime.Adapter, mon *monitor.Monitor, cfg *configstore.Store, backups *backup.Manager, bus *events.Bus) *Pipeline {
	return &Pipeline{
		catalog: cat,
		adapter: adapter,
		monitor: mon,
		cfg:     cfg,
		backups: backups,
		bus:     bus,
		graph:   depgraph.NewGraph(cat.ListServices()),
		logger:  log.WithComponent("update"),
	}
}

// Run applies the requested updates sequentially in dependency order. A
// service that fails to come back healthy is rolled back to its prior
// version and the remaining services are not touched.
func (p *Pipeline) Run(ctx context.Context, items []Item, opts Options) (*Result, error) {
	if len(items) == 0 {
		return nil, errdefs.New(errdefs.KindValidation, "no services to update")
	}

	byService := make(map[string]Item, len(items))
	var ids []string
	for _, item := range items {
		if _, err := p.catalog.GetService(item.ServiceID); err != nil {
			return nil, err
		}
		if item.TargetVersion == "" {
			return nil, errdefs.New(errdefs.KindValidation,
				"service %s has no target version", item.ServiceID)
		}
		byService[item.ServiceID] = item
		ids = append(ids, item.ServiceID)
	}

	if err := p.checkBreaking(items, opts); err != nil {
		return nil, err
	}

	order, err := p.graph.Sort(ids)
	if err != nil {
		return nil, err
	}

	result := &Result{StartedAt: time.Now()}
	err = p.monitor.MutateFleet(func() error {
		return p.runLocked(ctx, order, byService, opts, result)
	})
	result.FinishedAt = time.Now()

	if err != nil {
		metrics.UpdatesTotal.WithLabelValues("failed").Inc()
		p.bus.Publish(events.SubUpdates, events.TypeUpdateFailed, result)
		return result, err
	}

	result.Succeeded = true
	metrics.UpdatesTotal.WithLabelValues("succeeded").Inc()
	p.bus.Publish(events.SubUpdates, events.TypeUpdateComplete, result)
	return result, nil
}

func (p *Pipeline) runLocked(ctx context.Context, order []string, byService map[string]Item, opts Options, result *Result) error {
	p.bus.Publish(events.SubUpdates, events.TypeUpdateStarted, map[string]any{
		"services": order,
	})

	if opts.CreateBackup {
		meta, err := p.backups.Create("pre-update", map[string]string{
			"services": fmt.Sprintf("%v", order),
		})
		if err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "pre-update snapshot failed")
		}
		result.SnapshotID = meta.SnapshotID
	}

	for _, id := range order {
		item := byService[id]
		svcResult, err := p.updateOne(ctx, item)
		result.Services = append(result.Services, svcResult)
		if err != nil {
			return err
		}
	}
	return nil
}

// updateOne runs the stop, rewrite, start, await-health phases for a single
// service and rolls it back if health never returns.
func (p *Pipeline) updateOne(ctx context.Context, item Item) (ServiceResult, error) {
	def, err := p.catalog.GetService(item.ServiceID)
	if err != nil {
		return ServiceResult{ServiceID: item.ServiceID}, err
	}

	current, err := p.currentTag(def)
	if err != nil {
		return ServiceResult{ServiceID: item.ServiceID}, err
	}

	res := ServiceResult{
		ServiceID:   item.ServiceID,
		FromVersion: current,
		ToVersion:   item.TargetVersion,
	}
	logger := p.logger.With().Str("service_id", item.ServiceID).
		Str("from", current).Str("to", item.TargetVersion).Logger()
	logger.Info().Msg("updating service")

	p.progress(item.ServiceID, "stop")
	if err := p.adapter.StopService(ctx, item.ServiceID); err != nil {
		res.Error = err.Error()
		return res, errdefs.Wrap(err, errdefs.KindUpdateFailed, "stop of %s failed", item.ServiceID)
	}

	p.progress(item.ServiceID, "rewrite")
	if err := p.cfg.SetImageTag(p.composeName(def), item.TargetVersion); err != nil {
		res.Error = err.Error()
		return res, errdefs.Wrap(err, errdefs.KindUpdateFailed, "rewrite for %s failed", item.ServiceID)
	}

	p.progress(item.ServiceID, "start")
	if err := p.adapter.StartService(ctx, item.ServiceID); err != nil {
		res.Error = err.Error()
		p.rollback(ctx, def, current, &res)
		return res, errdefs.Wrap(err, errdefs.KindUpdateFailed, "start of %s failed", item.ServiceID)
	}

	p.progress(item.ServiceID, "await-health")
	if err := p.monitor.AwaitHealthy(ctx, item.ServiceID); err != nil {
		res.Error = err.Error()
		logger.Warn().Err(err).Msg("service unhealthy after update, rolling back")
		p.rollback(ctx, def, current, &res)
		return res, errdefs.Wrap(err, errdefs.KindUpdateFailed,
			"%s not healthy on %s", item.ServiceID, item.TargetVersion)
	}

	res.Succeeded = true
	logger.Info().Msg("service updated")
	p.bus.Publish(events.SubUpdates, events.TypeUpdateServiceDone, res)
	return res, nil
}

// rollback restores the prior image tag and restarts the service. Rollback
// failures are reported through the result, never masked as success.
func (p *Pipeline) rollback(ctx context.Context, def *types.ServiceDefinition, priorTag string, res *ServiceResult) {
	metrics.RollbacksTotal.Inc()

	if err := p.cfg.SetImageTag(p.composeName(def), priorTag); err != nil {
		p.logger.Error().Err(err).Str("service_id", def.ID).Msg("rollback rewrite failed")
		return
	}
	if err := p.adapter.Restart(ctx, []string{def.ID}); err != nil {
		p.logger.Error().Err(err).Str("service_id", def.ID).Msg("rollback restart failed")
		return
	}
	if err := p.monitor.AwaitHealthy(ctx, def.ID); err != nil {
		p.logger.Error().Err(err).Str("service_id", def.ID).Msg("service unhealthy after rollback")
		return
	}
	res.RolledBack = true
	p.logger.Info().Str("service_id", def.ID).Str("tag", priorTag).Msg("service rolled back")
}

// currentTag reads the live image tag from the compose file, falling back to
// the catalog's declared tag.
func (p *Pipeline) currentTag(def *types.ServiceDefinition) (string, error) {
	cf, err := p.cfg.LoadCompose()
	if err != nil {
		return "", err
	}
	image, err := cf.ImageOf(p.composeName(def))
	if err != nil {
		return def.ImageTag(), nil
	}
	return tagOf(image), nil
}

// composeName maps a catalog service to its compose declaration.
func (p *Pipeline) composeName(def *types.ServiceDefinition) string {
	return def.ContainerName
}

func tagOf(image string) string {
	for i := len(image) - 1; i >= 0; i-- {
		if image[i] == ':' {
			return image[i+1:]
		}
		if image[i] == '/' {
			break
		}
	}
	return "latest"
}

func (p *Pipeline) progress(serviceID, phase string) {
	p.bus.Publish(events.SubUpdates, events.TypeUpdateProgress, map[string]any{
		"serviceId": serviceID,
		"phase":     phase,
	})
}

// checkBreaking refuses major version jumps unless acknowledged.
func (p *Pipeline) checkBreaking(items []Item, opts Options) error {
	if opts.BreakingAcknowledged {
		return nil
	}

	var breaking []string
	for _, item := range items {
		def, err := p.catalog.GetService(item.ServiceID)
		if err != nil {
			continue
		}
		current, err := p.currentTag(def)
		if err != nil {
			continue
		}
		if IsBreaking(current, item.TargetVersion) {
			breaking = append(breaking, item.ServiceID)
		}
	}
	if len(breaking) == 0 {
		return nil
	}
	return errdefs.New(errdefs.KindValidation,
		"major version change for %v requires acknowledgement", breaking).
		WithDetails(map[string]any{"services": breaking})
}

// IsBreaking reports whether moving between two tags crosses a major
// version. Tags that do not parse as semver are treated as non-breaking.
func IsBreaking(currentTag, targetTag string) bool {
	cur, err := semver.NewVersion(currentTag)
	if err != nil {
		return false
	}
	target, err := semver.NewVersion(targetTag)
	if err != nil {
		return false
	}
	return cur.Major() != target.Major()
}

// Available describes one service with a newer published version.
type Available struct {
	ServiceID      string `json:"serviceId"`
	CurrentVersion string `json:"currentVersion"`
	LatestVersion  string `json:"latestVersion"`
	Breaking       bool   `json:"breaking"`
}

// CheckAvailable compares the fleet's current tags against a map of latest
// published versions and returns the services with an upgrade.
func (p *Pipeline) CheckAvailable(latest map[string]string) []Available {
	var out []Available
	for serviceID, latestTag := range latest {
		def, err := p.catalog.GetService(serviceID)
		if err != nil {
			continue
		}
		current, err := p.currentTag(def)
		if err != nil {
			continue
		}
		curV, err := semver.NewVersion(current)
		if err != nil {
			continue
		}
		latestV, err := semver.NewVersion(latestTag)
		if err != nil {
			continue
		}
		if latestV.GreaterThan(curV) {
			out = append(out, Available{
				ServiceID:      serviceID,
				CurrentVersion: current,
				LatestVersion:  latestTag,
				Breaking:       curV.Major() != latestV.Major(),
			})
		}
	}
	return out
}
