package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/monitor"
	"github.com/kaspa-aio/controller/pkg/types"
)

func testEngine(t *testing.T) (*Engine, *events.Bus) {
	t.Helper()
	cat, err := catalog.Load(
		[]*types.Profile{
			{ID: "core", DisplayName: "Core", Category: types.CategoryNode,
				Services: []string{"kaspa-node", "kaspa-dashboard"}, StartupOrder: 1},
		},
		[]*types.ServiceDefinition{
			{ID: "kaspa-node", OwningProfileID: "core", Critical: true},
			{ID: "kaspa-dashboard", OwningProfileID: "core"},
		},
		nil,
	)
	require.NoError(t, err)

	bus := events.NewBus()
	return NewEngine(cat, bus, nil, DefaultThresholds()), bus
}

func observation(id string, state types.ServiceState, health types.HealthState) types.ServiceObservation {
	return types.ServiceObservation{ServiceID: id, State: state, Health: health}
}

func change(id string, prev *types.ServiceObservation, cur types.ServiceObservation) monitor.ServiceChange {
	return monitor.ServiceChange{ServiceID: id, Previous: prev, Current: cur}
}

func TestServiceFailureSeverityFollowsCriticality(t *testing.T) {
	e, _ := testEngine(t)
	healthy := observation("kaspa-node", types.StateRunning, types.HealthHealthy)

	e.EvaluateServiceChange(change("kaspa-node", &healthy,
		observation("kaspa-node", types.StateRunning, types.HealthUnhealthy)))

	dashHealthy := observation("kaspa-dashboard", types.StateRunning, types.HealthHealthy)
	e.EvaluateServiceChange(change("kaspa-dashboard", &dashHealthy,
		observation("kaspa-dashboard", types.StateStopped, types.HealthUnknown)))

	open := e.Open()
	require.Len(t, open, 2)

	bySubject := map[string]types.Alert{}
	for _, a := range open {
		bySubject[a.SubjectKey] = a
	}
	assert.Equal(t, types.SeverityCritical, bySubject["kaspa-node"].Severity)
	assert.Equal(t, types.SeverityWarning, bySubject["kaspa-dashboard"].Severity)
}

func TestServiceFailureNotReRaisedWhileOpen(t *testing.T) {
	e, bus := testEngine(t)
	sub := bus.Subscribe(events.SubAlerts)
	defer bus.Unsubscribe(sub)

	healthy := observation("kaspa-node", types.StateRunning, types.HealthHealthy)
	unhealthy := observation("kaspa-node", types.StateRunning, types.HealthUnhealthy)

	e.EvaluateServiceChange(change("kaspa-node", &healthy, unhealthy))
	e.EvaluateServiceChange(change("kaspa-node", &unhealthy,
		observation("kaspa-node", types.StateExited, types.HealthUnknown)))

	assert.Len(t, e.Open(), 1)

	raised := 0
	for {
		msg, ok := sub.Next()
		if !ok {
			break
		}
		if msg.Type == events.TypeAlertRaised {
			raised++
		}
	}
	assert.Equal(t, 1, raised)
}

func TestServiceRecoveryClosesFailure(t *testing.T) {
	e, bus := testEngine(t)
	sub := bus.Subscribe(events.SubAlerts)
	defer bus.Unsubscribe(sub)

	healthy := observation("kaspa-node", types.StateRunning, types.HealthHealthy)
	unhealthy := observation("kaspa-node", types.StateRunning, types.HealthUnhealthy)

	e.EvaluateServiceChange(change("kaspa-node", &healthy, unhealthy))
	e.EvaluateServiceChange(change("kaspa-node", &unhealthy, healthy))

	assert.Empty(t, e.Open())

	var last events.Message
	for {
		msg, ok := sub.Next()
		if !ok {
			break
		}
		last = msg
	}
	require.Equal(t, events.TypeAlertRecovered, last.Type)
	recovery := last.Data.(types.Alert)
	assert.Equal(t, types.AlertServiceRecovery, recovery.Kind)
	assert.Equal(t, types.SeverityInfo, recovery.Severity)
}

func TestFirstObservationOfStoppedServiceIsQuiet(t *testing.T) {
	e, _ := testEngine(t)
	e.EvaluateServiceChange(change("kaspa-node", nil,
		observation("kaspa-node", types.StateStopped, types.HealthUnknown)))
	assert.Empty(t, e.Open())
}

func TestResourceThresholdCrossing(t *testing.T) {
	e, _ := testEngine(t)

	// Below everything: quiet.
	e.EvaluateResourceSample(types.ResourceSample{CPUPct: 50, MemPct: 50, DiskPct: 50})
	assert.Empty(t, e.Open())

	// CPU crosses warn.
	e.EvaluateResourceSample(types.ResourceSample{CPUPct: 82, MemPct: 50, DiskPct: 50})
	open := e.Open()
	require.Len(t, open, 1)
	assert.Equal(t, types.AlertResourceThreshold, open[0].Kind)
	assert.Equal(t, "cpu", open[0].SubjectKey)
	assert.Equal(t, types.SeverityWarning, open[0].Severity)

	// Staying high does not re-raise.
	e.EvaluateResourceSample(types.ResourceSample{CPUPct: 84, MemPct: 50, DiskPct: 50})
	assert.Len(t, e.Open(), 1)

	// Escalation to critical updates severity in place.
	e.EvaluateResourceSample(types.ResourceSample{CPUPct: 95, MemPct: 50, DiskPct: 50})
	open = e.Open()
	require.Len(t, open, 1)
	assert.Equal(t, types.SeverityCritical, open[0].Severity)

	// Dropping back down recovers.
	e.EvaluateResourceSample(types.ResourceSample{CPUPct: 40, MemPct: 50, DiskPct: 50})
	assert.Empty(t, e.Open())
}

func TestLoadAverageCritical(t *testing.T) {
	e, _ := testEngine(t)
	e.EvaluateResourceSample(types.ResourceSample{LoadAvg: [3]float64{12, 5, 2}})

	open := e.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "load", open[0].SubjectKey)
	assert.Equal(t, types.SeverityCritical, open[0].Severity)
}

func TestSyncLostAndRecovered(t *testing.T) {
	e, _ := testEngine(t)

	// First sight synced; no alert.
	e.EvaluateSyncStatus(types.SyncStatus{NodeKey: "kaspa-node", IsSynced: true})
	assert.Empty(t, e.Open())

	e.EvaluateSyncStatus(types.SyncStatus{NodeKey: "kaspa-node", IsSynced: false})
	open := e.Open()
	require.Len(t, open, 1)
	assert.Equal(t, types.AlertSyncLost, open[0].Kind)
	assert.Equal(t, types.SeverityCritical, open[0].Severity)

	e.EvaluateSyncStatus(types.SyncStatus{NodeKey: "kaspa-node", IsSynced: true})
	assert.Empty(t, e.Open())
}

func TestAcknowledge(t *testing.T) {
	e, _ := testEngine(t)
	e.EvaluateResourceSample(types.ResourceSample{CPUPct: 95})

	open := e.Open()
	require.Len(t, open, 1)

	require.NoError(t, e.Acknowledge(open[0].ID))
	assert.Empty(t, e.Open())

	assert.Error(t, e.Acknowledge("missing"))
}
