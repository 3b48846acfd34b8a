package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/monitor"
	"github.com/kaspa-aio/controller/pkg/store"
	"github.com/kaspa-aio/controller/pkg/types"
)

// historyKeep is how many alerts the persistent history retains.
const historyKeep = 500

// Thresholds are the resource boundaries that raise alerts.
type Thresholds struct {
	CPUWarnPct  float64
	CPUCritPct  float64
	MemWarnPct  float64
	MemCritPct  float64
	DiskWarnPct float64
	DiskCritPct float64
	LoadCrit    float64
}

// DefaultThresholds returns the standard boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarnPct:  80,
		CPUCritPct:  90,
		MemWarnPct:  85,
		MemCritPct:  90,
		DiskWarnPct: 85,
		DiskCritPct: 95,
		LoadCrit:    10,
	}
}

type level int

const (
	levelNone level = iota
	levelWarn
	levelCrit
)

// Engine turns service transitions, resource samples and sync transitions
// into deduplicated alerts. An alert is never re-raised while one is open
// for the same (kind, subjectKey).
type Engine struct {
	catalog    *catalog.Catalog
	bus        *events.Bus
	store      *store.Store // optional history persistence
	thresholds Thresholds
	logger     zerolog.Logger

	mu         sync.Mutex
	open       map[string]*types.Alert // (kind|subject) -> open alert
	levels     map[string]level        // resource subject -> last level
	syncStates map[string]bool         // node key -> last isSynced

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEngine creates an alert engine. st may be nil to keep history
// in memory only.
func NewEngine(cat *catalog.Catalog, bus *events.Bus, st *store.Store, thresholds Thresholds) *Engine {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Engine{
		catalog:    cat,
		bus:        bus,
		store:      st,
		thresholds: thresholds,
		logger:     log.WithComponent("alerts"),
		open:       make(map[string]*types.Alert),
		levels:     make(map[string]level),
		syncStates: make(map[string]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start subscribes to the event bus and begins evaluating.
func (e *Engine) Start() {
	sub := e.bus.Subscribe(events.SubServices, events.SubResources, "sync:*")
	go e.run(sub)
}

// Stop detaches from the bus and waits for the loop to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) run(sub *events.Subscriber) {
	defer close(e.doneCh)
	defer e.bus.Unsubscribe(sub)

	for {
		select {
		case <-sub.C():
			for {
				msg, ok := sub.Next()
				if !ok {
					break
				}
				e.handle(msg)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) handle(msg events.Message) {
	switch data := msg.Data.(type) {
	case monitor.ServiceChange:
		e.EvaluateServiceChange(data)
	case types.ResourceSample:
		e.EvaluateResourceSample(data)
	case types.SyncStatus:
		e.EvaluateSyncStatus(data)
	}
}

// EvaluateServiceChange applies the service failure and recovery rules.
func (e *Engine) EvaluateServiceChange(change monitor.ServiceChange) {
	cur := change.Current
	failed := cur.Health == types.HealthUnhealthy || cur.State == types.StateStopped || cur.State == types.StateExited

	// The very first observation of a stopped fleet is not a failure.
	if change.Previous == nil && cur.Health != types.HealthUnhealthy {
		return
	}

	if failed {
		severity := types.SeverityWarning
		if def, err := e.catalog.GetService(cur.ServiceID); err == nil && def.Critical {
			severity = types.SeverityCritical
		}
		e.raise(types.AlertServiceFailure, cur.ServiceID, severity,
			fmt.Sprintf("service %s is %s/%s", cur.ServiceID, cur.State, cur.Health))
		return
	}

	if cur.Health == types.HealthHealthy {
		if e.close(types.AlertServiceFailure, cur.ServiceID) {
			e.raiseClosed(types.AlertServiceRecovery, cur.ServiceID, types.SeverityInfo,
				fmt.Sprintf("service %s recovered", cur.ServiceID))
		}
	}
}

// EvaluateResourceSample applies the threshold crossing rules.
func (e *Engine) EvaluateResourceSample(sample types.ResourceSample) {
	e.evaluateMetric("cpu", sample.CPUPct, e.thresholds.CPUWarnPct, e.thresholds.CPUCritPct)
	e.evaluateMetric("memory", sample.MemPct, e.thresholds.MemWarnPct, e.thresholds.MemCritPct)
	e.evaluateMetric("disk", sample.DiskPct, e.thresholds.DiskWarnPct, e.thresholds.DiskCritPct)
	e.evaluateMetric("load", sample.LoadAvg[0], e.thresholds.LoadCrit, e.thresholds.LoadCrit)
}

func (e *Engine) evaluateMetric(subject string, value, warn, crit float64) {
	var lvl level
	switch {
	case value >= crit:
		lvl = levelCrit
	case value >= warn:
		lvl = levelWarn
	}

	e.mu.Lock()
	prev := e.levels[subject]
	e.levels[subject] = lvl
	e.mu.Unlock()

	switch {
	case lvl > prev:
		severity := types.SeverityWarning
		if lvl == levelCrit {
			severity = types.SeverityCritical
		}
		e.raise(types.AlertResourceThreshold, subject, severity,
			fmt.Sprintf("%s at %.1f crossed the %s threshold", subject, value, severityWord(lvl)))
	case lvl == levelNone && prev > levelNone:
		if e.close(types.AlertResourceThreshold, subject) {
			e.raiseClosed(types.AlertResourceRecovery, subject, types.SeverityInfo,
				fmt.Sprintf("%s back below threshold at %.1f", subject, value))
		}
	}
}

func severityWord(lvl level) string {
	if lvl == levelCrit {
		return "critical"
	}
	return "warning"
}

// EvaluateSyncStatus applies the sync lost and recovered rules.
func (e *Engine) EvaluateSyncStatus(status types.SyncStatus) {
	e.mu.Lock()
	prev, seen := e.syncStates[status.NodeKey]
	e.syncStates[status.NodeKey] = status.IsSynced
	e.mu.Unlock()

	switch {
	case seen && prev && !status.IsSynced:
		e.raise(types.AlertSyncLost, status.NodeKey, types.SeverityCritical,
			fmt.Sprintf("node %s lost sync", status.NodeKey))
	case seen && !prev && status.IsSynced:
		e.close(types.AlertSyncLost, status.NodeKey)
		e.raiseClosed(types.AlertSyncRecovered, status.NodeKey, types.SeverityInfo,
			fmt.Sprintf("node %s regained sync", status.NodeKey))
	}
}

func alertKey(kind types.AlertKind, subject string) string {
	return string(kind) + "|" + subject
}

// raise opens a deduplicated alert. A raise while one is open for the same
// (kind, subject) only escalates severity in place.
func (e *Engine) raise(kind types.AlertKind, subject string, severity types.AlertSeverity, message string) {
	key := alertKey(kind, subject)

	e.mu.Lock()
	if existing, ok := e.open[key]; ok {
		if rank(severity) > rank(existing.Severity) {
			existing.Severity = severity
			existing.Message = message
			e.persist(existing)
		}
		e.mu.Unlock()
		return
	}

	alert := &types.Alert{
		ID:         uuid.NewString(),
		Kind:       kind,
		Severity:   severity,
		SubjectKey: subject,
		Message:    message,
		RaisedAt:   time.Now(),
	}
	e.open[key] = alert
	openCount := len(e.open)
	e.persist(alert)
	e.mu.Unlock()

	e.logger.Warn().
		Str("kind", string(kind)).
		Str("subject", subject).
		Str("severity", string(severity)).
		Msg(message)

	metrics.AlertsRaisedTotal.WithLabelValues(string(kind), string(severity)).Inc()
	metrics.AlertsOpen.Set(float64(openCount))
	e.bus.Publish(events.SubAlerts, events.TypeAlertRaised, *alert)
}

// raiseClosed records a one-shot informational alert that is born resolved.
func (e *Engine) raiseClosed(kind types.AlertKind, subject string, severity types.AlertSeverity, message string) {
	now := time.Now()
	alert := &types.Alert{
		ID:          uuid.NewString(),
		Kind:        kind,
		Severity:    severity,
		SubjectKey:  subject,
		Message:     message,
		RaisedAt:    now,
		RecoveredAt: now,
	}

	e.mu.Lock()
	e.persist(alert)
	e.mu.Unlock()

	e.logger.Info().Str("kind", string(kind)).Str("subject", subject).Msg(message)
	metrics.AlertsRaisedTotal.WithLabelValues(string(kind), string(severity)).Inc()
	e.bus.Publish(events.SubAlerts, events.TypeAlertRecovered, *alert)
}

// close resolves the open alert for (kind, subject); reports whether one was
// open.
func (e *Engine) close(kind types.AlertKind, subject string) bool {
	key := alertKey(kind, subject)

	e.mu.Lock()
	alert, ok := e.open[key]
	if ok {
		alert.RecoveredAt = time.Now()
		delete(e.open, key)
		e.persist(alert)
	}
	openCount := len(e.open)
	e.mu.Unlock()

	if ok {
		metrics.AlertsOpen.Set(float64(openCount))
	}
	return ok
}

// Acknowledge marks an open alert as seen. It stays out of the open set so
// it will not suppress a future raise.
func (e *Engine) Acknowledge(alertID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, alert := range e.open {
		if alert.ID == alertID {
			alert.AcknowledgedAt = time.Now()
			delete(e.open, key)
			e.persist(alert)
			metrics.AlertsOpen.Set(float64(len(e.open)))
			return nil
		}
	}
	return errdefs.New(errdefs.KindNotFound, "alert %s is not open", alertID)
}

// Open returns the open alerts, newest first.
func (e *Engine) Open() []types.Alert {
	e.mu.Lock()
	out := make([]types.Alert, 0, len(e.open))
	for _, alert := range e.open {
		out = append(out, *alert)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].RaisedAt.After(out[j].RaisedAt)
	})
	return out
}

// History returns up to limit persisted alerts, newest first.
func (e *Engine) History(limit int) ([]*types.Alert, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListAlerts(limit)
}

// persist writes an alert to the history, trimming to the retained size.
// Callers hold the engine lock.
func (e *Engine) persist(alert *types.Alert) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAlert(alert); err != nil {
		e.logger.Debug().Err(err).Msg("failed to persist alert")
		return
	}
	if err := e.store.TrimAlerts(historyKeep); err != nil {
		e.logger.Debug().Err(err).Msg("failed to trim alert history")
	}
}

func rank(s types.AlertSeverity) int {
	switch s {
	case types.SeverityCritical:
		return 2
	case types.SeverityWarning:
		return 1
	default:
		return 0
	}
}
