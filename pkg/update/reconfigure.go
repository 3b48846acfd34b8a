package update

import (
	"context"
	"sort"
	"time"

	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/types"
)

// ReconfigureRequest edits environment values and optionally changes which
// profiles are active.
type ReconfigureRequest struct {
	EnvChanges       map[string]string `json:"envChanges,omitempty"`
	ActivateProfiles []string          `json:"activateProfiles,omitempty"`
	RemoveProfiles   []string          `json:"removeProfiles,omitempty"`
	CreateBackup     bool              `json:"createBackup"`
}

// ReconfigureResult reports what a reconfiguration touched.
type ReconfigureResult struct {
	Diff             types.ConfigDiff `json:"diff"`
	AffectedServices []string         `json:"affectedServices"`
	SnapshotID       string           `json:"snapshotId,omitempty"`
	StartedAt        time.Time        `json:"startedAt"`
	FinishedAt       time.Time        `json:"finishedAt"`
}

// Reconfigure rewrites the environment file and restarts exactly the
// services whose profiles own a changed key. Profile activation changes go
// through the compose runtime.
func (p *Pipeline) Reconfigure(ctx context.Context, req ReconfigureRequest) (*ReconfigureResult, error) {
	if len(req.EnvChanges) == 0 && len(req.ActivateProfiles) == 0 && len(req.RemoveProfiles) == 0 {
		return nil, errdefs.New(errdefs.KindValidation, "nothing to reconfigure")
	}

	for _, id := range append(append([]string(nil), req.ActivateProfiles...), req.RemoveProfiles...) {
		if !p.catalog.HasProfile(p.catalog.Resolve(id)) {
			return nil, errdefs.New(errdefs.KindNotFound, "unknown profile %q", id)
		}
	}

	result := &ReconfigureResult{StartedAt: time.Now()}
	err := p.monitor.MutateFleet(func() error {
		return p.reconfigureLocked(ctx, req, result)
	})
	result.FinishedAt = time.Now()

	if err != nil {
		p.bus.Publish(events.SubUpdates, events.TypeUpdateFailed, result)
		return result, err
	}
	p.bus.Publish(events.SubUpdates, events.TypeUpdateComplete, result)
	return result, nil
}

func (p *Pipeline) reconfigureLocked(ctx context.Context, req ReconfigureRequest, result *ReconfigureResult) error {
	p.bus.Publish(events.SubUpdates, events.TypeUpdateStarted, map[string]any{
		"reconfigure": true,
	})

	if req.CreateBackup {
		meta, err := p.backups.Create("pre-reconfigure", nil)
		if err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "pre-reconfigure snapshot failed")
		}
		result.SnapshotID = meta.SnapshotID
	}

	if len(req.EnvChanges) > 0 {
		env, err := p.cfg.LoadEnv()
		if err != nil {
			return err
		}
		before := env.Clone()
		for key, value := range req.EnvChanges {
			env.Set(key, value)
		}
		result.Diff = configstore.DiffEnv(before, env)
		if err := p.cfg.SaveEnv(env); err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "environment rewrite failed")
		}
	}

	if len(req.RemoveProfiles) > 0 {
		if err := p.adapter.Down(ctx, p.resolveAll(req.RemoveProfiles)); err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "profile removal failed")
		}
	}
	if len(req.ActivateProfiles) > 0 {
		if err := p.adapter.Up(ctx, p.resolveAll(req.ActivateProfiles)); err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "profile activation failed")
		}
	}

	result.AffectedServices = p.AffectedServices(result.Diff)
	return p.restartAffected(ctx, result.AffectedServices)
}

// AffectedServices returns the services whose owning profile declares any of
// the changed keys, sorted.
func (p *Pipeline) AffectedServices(diff types.ConfigDiff) []string {
	seen := make(map[string]bool)
	for _, change := range diff.Changes {
		for _, profile := range p.catalog.OwnersOfKey(change.Key) {
			for _, serviceID := range profile.Services {
				seen[serviceID] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// restartAffected restarts services that are currently running, stop phase
// in reverse dependency order and start phase forward, awaiting health.
func (p *Pipeline) restartAffected(ctx context.Context, serviceIDs []string) error {
	var running []string
	for _, id := range serviceIDs {
		if obs, ok := p.monitor.Observation(id); ok && obs.State == types.StateRunning {
			running = append(running, id)
		}
	}
	if len(running) == 0 {
		return nil
	}

	stopOrder, err := p.graph.ReverseSort(running)
	if err != nil {
		return err
	}
	for _, id := range stopOrder {
		p.progress(id, "stop")
		if err := p.adapter.StopService(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "stop of %s failed", id)
		}
	}

	startOrder, err := p.graph.Sort(running)
	if err != nil {
		return err
	}
	for _, id := range startOrder {
		p.progress(id, "start")
		if err := p.adapter.StartService(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed, "start of %s failed", id)
		}
		p.progress(id, "await-health")
		if err := p.monitor.AwaitHealthy(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindUpdateFailed,
				"%s not healthy after reconfigure", id)
		}
	}
	return nil
}

func (p *Pipeline) resolveAll(profileIDs []string) []string {
	out := make([]string, len(profileIDs))
	for i, id := range profileIDs {
		out[i] = p.catalog.Resolve(id)
	}
	return out
}
