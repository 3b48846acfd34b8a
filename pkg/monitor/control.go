package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/types"
)

// DefaultEmergencyAllowlist names the service IDs left running by an
// emergency stop. The node keeps its chain state warm and the proxy keeps the
// dashboard reachable.
var DefaultEmergencyAllowlist = []string{"kaspad", "kaspad-archive", "nginx-proxy"}

// StartServices starts the given services in dependency order. Dependencies
// outside the set must already be Healthy. Each started service is awaited
// until Healthy; a service that misses the startup deadline aborts the
// remainder with PartialStart.
func (m *Monitor) StartServices(ctx context.Context, serviceIDs []string) error {
	m.fleetMu.Lock()
	defer m.fleetMu.Unlock()

	order, err := m.graph.Sort(serviceIDs)
	if err != nil {
		return err
	}

	if err := m.checkOutsidePrereqs(serviceIDs); err != nil {
		return err
	}

	var started []string
	for _, id := range order {
		if obs, ok := m.Observation(id); ok && obs.State == types.StateRunning && obs.Health == types.HealthHealthy {
			continue
		}

		m.logger.Info().Str("service_id", id).Msg("starting service")
		if err := m.adapter.StartService(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindPartialStart,
				"failed to start %s", id).
				WithDetails(map[string]any{"started": started, "failed": id})
		}
		started = append(started, id)

		if err := m.awaitHealthy(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindPartialStart,
				"%s did not become healthy within the startup deadline", id).
				WithDetails(map[string]any{"started": started, "failed": id})
		}
	}
	return nil
}

// StopServices stops the given services in reverse dependency order. Running
// dependents outside the set block the stop with DependentsRunning and the
// offending service IDs.
func (m *Monitor) StopServices(ctx context.Context, serviceIDs []string) error {
	m.fleetMu.Lock()
	defer m.fleetMu.Unlock()

	return m.stopLocked(ctx, serviceIDs)
}

func (m *Monitor) stopLocked(ctx context.Context, serviceIDs []string) error {
	if err := m.checkDependents(serviceIDs); err != nil {
		return err
	}

	order, err := m.graph.ReverseSort(serviceIDs)
	if err != nil {
		return err
	}

	for _, id := range order {
		if obs, ok := m.Observation(id); ok && obs.State != types.StateRunning {
			continue
		}
		m.logger.Info().Str("service_id", id).Msg("stopping service")
		if err := m.adapter.StopService(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindInternal, "failed to stop %s", id)
		}
	}
	return nil
}

// RestartServices stops then starts the given set, applying both directions'
// dependency rules.
func (m *Monitor) RestartServices(ctx context.Context, serviceIDs []string) error {
	m.fleetMu.Lock()
	defer m.fleetMu.Unlock()

	if err := m.stopLocked(ctx, serviceIDs); err != nil {
		return err
	}

	order, err := m.graph.Sort(serviceIDs)
	if err != nil {
		return err
	}
	if err := m.checkOutsidePrereqs(serviceIDs); err != nil {
		return err
	}

	var started []string
	for _, id := range order {
		m.logger.Info().Str("service_id", id).Msg("starting service")
		if err := m.adapter.StartService(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindPartialStart,
				"failed to start %s", id).
				WithDetails(map[string]any{"started": started, "failed": id})
		}
		started = append(started, id)

		if err := m.awaitHealthy(ctx, id); err != nil {
			return errdefs.Wrap(err, errdefs.KindPartialStart,
				"%s did not become healthy within the startup deadline", id).
				WithDetails(map[string]any{"started": started, "failed": id})
		}
	}
	return nil
}

// EmergencyStop stops every running service except those on the allowlist,
// in reverse dependency order, ignoring per-service failures so one stuck
// container cannot block the rest. A nil allowlist uses the default.
func (m *Monitor) EmergencyStop(ctx context.Context, allowlist []string) []string {
	m.fleetMu.Lock()
	defer m.fleetMu.Unlock()

	if allowlist == nil {
		allowlist = DefaultEmergencyAllowlist
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, id := range allowlist {
		allowed[id] = true
	}

	var targets []string
	for _, obs := range m.Observations() {
		if obs.State == types.StateRunning && !allowed[obs.ServiceID] {
			targets = append(targets, obs.ServiceID)
		}
	}

	order, err := m.graph.ReverseSort(targets)
	if err != nil {
		// A cycle should have been rejected at catalog load; stop in
		// arbitrary order rather than not at all.
		order = targets
		sort.Strings(order)
	}

	var stopped []string
	for _, id := range order {
		if err := m.adapter.StopService(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("service_id", id).Msg("emergency stop failed for service")
			continue
		}
		stopped = append(stopped, id)
	}
	m.logger.Warn().Strs("stopped", stopped).Msg("emergency stop executed")
	return stopped
}

// MutateFleet runs fn under the fleet-wide mutation lock, serializing it
// with the monitor's own control operations.
func (m *Monitor) MutateFleet(fn func() error) error {
	m.fleetMu.Lock()
	defer m.fleetMu.Unlock()
	return fn()
}

// AwaitHealthy blocks until a service is observed Healthy or the startup
// deadline passes.
func (m *Monitor) AwaitHealthy(ctx context.Context, serviceID string) error {
	return m.awaitHealthy(ctx, serviceID)
}

// checkOutsidePrereqs verifies every dependency outside the set is currently
// Healthy.
func (m *Monitor) checkOutsidePrereqs(serviceIDs []string) error {
	missing := m.graph.MissingDependencies(serviceIDs)
	var notReady []string
	for _, deps := range missing {
		for _, dep := range deps {
			if !m.Healthy(dep) {
				notReady = append(notReady, dep)
			}
		}
	}
	if len(notReady) == 0 {
		return nil
	}
	sort.Strings(notReady)
	notReady = dedup(notReady)
	return errdefs.New(errdefs.KindPrerequisiteNotReady,
		"dependencies not healthy: %v", notReady).
		WithDetails(map[string]any{"services": notReady})
}

// checkDependents verifies no healthy service outside the set depends on a
// member of the set.
func (m *Monitor) checkDependents(serviceIDs []string) error {
	in := make(map[string]bool, len(serviceIDs))
	for _, id := range serviceIDs {
		in[id] = true
	}

	var offenders []string
	for _, id := range serviceIDs {
		for _, dependent := range m.graph.DependentsOf(id) {
			if in[dependent] {
				continue
			}
			if obs, ok := m.Observation(dependent); ok && obs.State == types.StateRunning && obs.Health == types.HealthHealthy {
				offenders = append(offenders, dependent)
			}
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	sort.Strings(offenders)
	offenders = dedup(offenders)
	return errdefs.New(errdefs.KindDependentsRunning,
		"healthy dependents still running: %v", offenders).
		WithDetails(map[string]any{"services": offenders})
}

// awaitHealthy re-observes one service on the check cadence until it turns
// Healthy or the startup deadline passes. Services without a declared probe
// are considered ready once running.
func (m *Monitor) awaitHealthy(ctx context.Context, serviceID string) error {
	def, err := m.catalog.GetService(serviceID)
	if err != nil {
		return err
	}
	if def.HealthProbe.Kind == types.ProbeNone || def.HealthProbe.Kind == "" {
		return nil
	}

	deadline := time.Now().Add(m.opts.StartupDeadline)
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		m.Cycle(ctx)
		if m.Healthy(serviceID) {
			return nil
		}
		if time.Now().After(deadline) {
			return errdefs.New(errdefs.KindStartupDeadline,
				"%s not healthy after %s", serviceID, m.opts.StartupDeadline)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return errdefs.Wrap(ctx.Err(), errdefs.KindCancelled, "start of %s cancelled", serviceID)
		}
	}
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
