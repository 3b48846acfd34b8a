package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/depgraph"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/health"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/runtime"
	"github.com/kaspa-aio/controller/pkg/types"
)

// Options tunes the monitor's cadences and budgets.
type Options struct {
	CheckInterval   time.Duration // between observation cycles
	ProbeTimeout    time.Duration // per health probe
	RetryAttempts   int           // consecutive failed cycles before Unhealthy
	StartupDeadline time.Duration // max wait for Healthy after a start
	ProbeHost       string        // host the probes dial, normally localhost
}

// DefaultOptions returns the standard cadences.
func DefaultOptions() Options {
	return Options{
		CheckInterval:   5 * time.Second,
		ProbeTimeout:    5 * time.Second,
		RetryAttempts:   3,
		StartupDeadline: 120 * time.Second,
		ProbeHost:       "localhost",
	}
}

// ServiceChange is the payload of a service:changed event.
type ServiceChange struct {
	ServiceID string                    `json:"serviceId"`
	Previous  *types.ServiceObservation `json:"previous,omitempty"`
	Current   types.ServiceObservation  `json:"current"`
}

// Monitor owns the fleet's service observations. One observation cycle runs
// at a time; control operations (start/stop/restart) take a fleet-wide lock
// while reads stay non-blocking.
type Monitor struct {
	catalog *catalog.Catalog
	adapter runtime.Adapter
	bus     *events.Bus
	graph   *depgraph.Graph
	opts    Options
	logger  zerolog.Logger

	obsMu        sync.RWMutex
	observations map[string]*types.ServiceObservation

	statusMu sync.Mutex
	statuses map[string]*health.Status

	fleetMu sync.Mutex // serializes fleet mutations

	cycleMu sync.Mutex // no two observation cycles overlap

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a monitor over the catalog's services.
func New(cat *catalog.Catalog, adapter runtime.Adapter, bus *events.Bus, opts Options) *Monitor {
	if opts.CheckInterval == 0 {
		opts = DefaultOptions()
	}
	return &Monitor{
		catalog:      cat,
		adapter:      adapter,
		bus:          bus,
		graph:        depgraph.NewGraph(cat.ListServices()),
		opts:         opts,
		logger:       log.WithComponent("monitor"),
		observations: make(map[string]*types.ServiceObservation),
		statuses:     make(map[string]*health.Status),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start begins the periodic observation loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	m.Cycle(context.Background())

	for {
		select {
		case <-ticker.C:
			m.Cycle(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Cycle runs one observation cycle. If a cycle is already in flight the call
// runs after it; the ticker cadence means overlapping cycles are skipped in
// practice.
func (m *Monitor) Cycle(ctx context.Context) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.MonitorCyclesTotal.Inc()
		metrics.MonitorCycleDuration.Observe(time.Since(start).Seconds())
	}()

	cctx, cancel := context.WithTimeout(ctx, m.opts.CheckInterval*2)
	defer cancel()

	containers, err := m.adapter.ListRunning(cctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("runtime unavailable, skipping cycle")
		return
	}

	byService := make(map[string]types.RuntimeContainer, len(containers))
	for _, c := range containers {
		if c.ServiceID != "" {
			byService[c.ServiceID] = c
		}
	}

	now := time.Now()
	for _, def := range m.catalog.ListServices() {
		obs := m.observe(cctx, def, byService, now)
		m.apply(def.ID, obs)
	}

	m.updateGauges()
}

// observe classifies one service: state from the runtime, health from the
// declared probe with the consecutive-failure budget applied.
func (m *Monitor) observe(ctx context.Context, def *types.ServiceDefinition, byService map[string]types.RuntimeContainer, now time.Time) types.ServiceObservation {
	obs := types.ServiceObservation{
		ServiceID:     def.ID,
		ContainerName: def.ContainerName,
		State:         types.StateStopped,
		Health:        types.HealthUnknown,
		LastCheckedAt: now,
	}

	c, present := byService[def.ID]
	if present {
		obs.State = c.State
		obs.StartedAt = c.StartedAt
		obs.Version = imageTag(c.Image)
		if !c.StartedAt.IsZero() {
			obs.UptimeSec = int64(now.Sub(c.StartedAt).Seconds())
		}
	}

	if obs.State != types.StateRunning {
		// A container that is not running has no meaningful probe result;
		// forget the retry budget so a fresh start is judged cleanly.
		m.resetStatus(def.ID)
		return obs
	}

	checker := m.checkerFor(def)
	if checker == nil {
		// No declared probe: trust the engine's health when it has one.
		if c.RuntimeHealth != types.HealthUnknown {
			obs.Health = c.RuntimeHealth
		}
		return obs
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	result := checker.Check(pctx)
	cancel()

	status := m.statusFor(def.ID)
	status.Update(result, health.Config{Retries: m.opts.RetryAttempts})

	switch {
	case status.Healthy:
		obs.Health = types.HealthHealthy
	case status.EverHealthy || status.ConsecutiveFailures >= m.opts.RetryAttempts:
		obs.Health = types.HealthUnhealthy
	default:
		// Never probed healthy and the failure budget is not yet spent;
		// the service is still coming up.
		obs.Health = types.HealthUnknown
	}
	if !result.Healthy {
		obs.LastError = result.Message
		metrics.ProbeFailuresTotal.WithLabelValues(def.ID).Inc()
	}
	return obs
}

// apply stores the new observation and emits a change event when state or
// health moved.
func (m *Monitor) apply(serviceID string, obs types.ServiceObservation) {
	m.obsMu.Lock()
	prev := m.observations[serviceID]
	changed := prev == nil || prev.State != obs.State || prev.Health != obs.Health
	stored := obs
	m.observations[serviceID] = &stored
	m.obsMu.Unlock()

	if !changed {
		return
	}

	change := ServiceChange{ServiceID: serviceID, Current: obs}
	if prev != nil {
		prevCopy := *prev
		change.Previous = &prevCopy
		m.logger.Info().
			Str("service_id", serviceID).
			Str("state", string(obs.State)).
			Str("health", string(obs.Health)).
			Msg("service changed")
	}
	m.bus.Publish(events.SubServices, events.TypeServiceChanged, change)
}

func (m *Monitor) updateGauges() {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()

	metrics.ServicesTotal.Reset()
	for _, obs := range m.observations {
		metrics.ServicesTotal.WithLabelValues(string(obs.State), string(obs.Health)).Inc()
	}
}

func (m *Monitor) statusFor(serviceID string) *health.Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	s, ok := m.statuses[serviceID]
	if !ok {
		s = health.NewStatus()
		m.statuses[serviceID] = s
	}
	return s
}

func (m *Monitor) resetStatus(serviceID string) {
	m.statusMu.Lock()
	delete(m.statuses, serviceID)
	m.statusMu.Unlock()
}

// checkerFor builds the probe checker declared for a service, or nil.
func (m *Monitor) checkerFor(def *types.ServiceDefinition) health.Checker {
	probe := def.HealthProbe
	switch probe.Kind {
	case types.ProbeHTTP:
		url := fmt.Sprintf("http://%s:%d%s", m.opts.ProbeHost, probe.Port, probe.Path)
		return health.NewHTTPChecker(url).WithTimeout(m.opts.ProbeTimeout)
	case types.ProbeJSONRPC:
		url := fmt.Sprintf("http://%s:%d", m.opts.ProbeHost, probe.Port)
		return health.NewJSONRPCChecker(url, probe.Method).WithTimeout(m.opts.ProbeTimeout)
	case types.ProbeTCP:
		addr := fmt.Sprintf("%s:%d", m.opts.ProbeHost, probe.Port)
		return health.NewTCPChecker(addr).WithTimeout(m.opts.ProbeTimeout)
	default:
		return nil
	}
}

// Observations returns a snapshot of all observations sorted by service ID.
func (m *Monitor) Observations() []types.ServiceObservation {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()

	out := make([]types.ServiceObservation, 0, len(m.observations))
	for _, def := range m.catalog.ListServices() {
		if obs, ok := m.observations[def.ID]; ok {
			out = append(out, *obs)
		}
	}
	return out
}

// Observation returns the current observation of one service.
func (m *Monitor) Observation(serviceID string) (types.ServiceObservation, bool) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	obs, ok := m.observations[serviceID]
	if !ok {
		return types.ServiceObservation{}, false
	}
	return *obs, true
}

// Healthy reports whether a service is currently observed Healthy.
func (m *Monitor) Healthy(serviceID string) bool {
	obs, ok := m.Observation(serviceID)
	return ok && obs.Health == types.HealthHealthy
}

func imageTag(image string) string {
	for i := len(image) - 1; i >= 0; i-- {
		if image[i] == ':' {
			return image[i+1:]
		}
		if image[i] == '/' {
			break
		}
	}
	return ""
}
