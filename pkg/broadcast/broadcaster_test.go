package broadcast

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/tasks"
	"github.com/kaspa-aio/controller/pkg/types"
)

type fakeServices struct {
	observations []types.ServiceObservation
}

func (f *fakeServices) Observations() []types.ServiceObservation { return f.observations }

type fakeSampler struct {
	sample types.ResourceSample
	ok     bool
}

func (f *fakeSampler) Latest() (types.ResourceSample, bool) { return f.sample, f.ok }

func testBroadcaster() (*Broadcaster, *fakeServices, *fakeSampler) {
	services := &fakeServices{}
	sampler := &fakeSampler{}
	bus := events.NewBus()
	b := New(services, sampler, tasks.NewSupervisor(bus, nil), bus, DefaultOptions())
	return b, services, sampler
}

// attachProbe registers a client without a real socket so queued messages
// can be inspected.
func attachProbe(b *Broadcaster, channels ...string) *Client {
	c := newClient("probe", nil)
	for _, ch := range channels {
		c.subscribe(ch)
	}
	b.attach(c)
	return c
}

func drain(c *Client) []events.Message {
	var out []events.Message
	for {
		select {
		case msg := <-c.outgoing:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastServicesOnChangeOnly(t *testing.T) {
	b, services, _ := testBroadcaster()
	c := attachProbe(b, events.SubServices)
	defer b.detach(c)

	services.observations = []types.ServiceObservation{
		{ServiceID: "kaspa-node", State: types.StateRunning, Health: types.HealthHealthy},
	}

	b.BroadcastServices()
	require.Len(t, drain(c), 1)

	// Same fingerprint within the cadence: suppressed.
	b.BroadcastServices()
	assert.Empty(t, drain(c))

	// Health movement: broadcast.
	services.observations[0].Health = types.HealthUnhealthy
	b.BroadcastServices()
	require.Len(t, drain(c), 1)
}

func TestBroadcastResourcesFivePointRule(t *testing.T) {
	b, _, sampler := testBroadcaster()
	c := attachProbe(b, events.SubResources)
	defer b.detach(c)

	sampler.ok = true
	sampler.sample = types.ResourceSample{CPUPct: 40, MemPct: 50, DiskPct: 60}
	b.BroadcastResources()
	require.Len(t, drain(c), 1)

	// A 3 point move is below the rule.
	sampler.sample = types.ResourceSample{CPUPct: 43, MemPct: 50, DiskPct: 60}
	b.BroadcastResources()
	assert.Empty(t, drain(c))

	// A 5 point move broadcasts.
	sampler.sample = types.ResourceSample{CPUPct: 48, MemPct: 50, DiskPct: 60}
	b.BroadcastResources()
	require.Len(t, drain(c), 1)
}

func TestBroadcastResourcesWithoutSampleIsQuiet(t *testing.T) {
	b, _, sampler := testBroadcaster()
	c := attachProbe(b, events.SubResources)
	defer b.detach(c)

	sampler.ok = false
	b.BroadcastResources()
	assert.Empty(t, drain(c))
}

func TestFanOutHonorsSubscriptions(t *testing.T) {
	b, _, _ := testBroadcaster()
	servicesClient := attachProbe(b, events.SubServices)
	wildcardClient := attachProbe(b, "sync:*")
	defer b.detach(servicesClient)
	defer b.detach(wildcardClient)

	b.fanOut(events.Message{Type: events.TypeSyncProgress, Subscription: events.SubSync})

	assert.Empty(t, drain(servicesClient))
	require.Len(t, drain(wildcardClient), 1)
}

func TestInitialDataOnSubscribe(t *testing.T) {
	b, services, sampler := testBroadcaster()
	services.observations = []types.ServiceObservation{{ServiceID: "kaspa-node"}}
	sampler.ok = true
	sampler.sample = types.ResourceSample{CPUPct: 10}

	c := attachProbe(b)
	defer b.detach(c)

	b.handleCommand(c, command{Type: "subscribe", Channel: events.SubServices})

	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeInitialData, msgs[0].Type)
	data := msgs[0].Data.(map[string]any)
	assert.Contains(t, data, "services")
	assert.NotContains(t, data, "resources")
	assert.True(t, c.wants(events.SubServices))
}

func TestVisibilityStretchesResourceCadence(t *testing.T) {
	b, _, _ := testBroadcaster()
	c := attachProbe(b)
	defer b.detach(c)

	b.mu.Lock()
	assert.False(t, b.allHiddenLocked())
	b.mu.Unlock()

	b.handleCommand(c, command{Type: "visibility", Hidden: true})

	b.mu.Lock()
	assert.True(t, b.allHiddenLocked())
	b.mu.Unlock()

	second := attachProbe(b)
	defer b.detach(second)

	b.mu.Lock()
	assert.False(t, b.allHiddenLocked(), "one visible client keeps the fast cadence")
	b.mu.Unlock()
}

func TestTaskCommands(t *testing.T) {
	b, _, _ := testBroadcaster()
	c := attachProbe(b, events.SubTasks)
	defer b.detach(c)

	id, err := b.tasks.Register(tasks.Spec{
		Checker: func(task types.Task) types.TaskProgress { return types.TaskProgress{} },
	})
	require.NoError(t, err)

	b.handleCommand(c, command{Type: "task:status", TaskID: id})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "task:status", msgs[0].Type)

	b.handleCommand(c, command{Type: "tasks:list"})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	listed := msgs[0].Data.([]types.Task)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)

	b.handleCommand(c, command{Type: "task:status", TaskID: "missing"})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Type)
}

func TestTaskRegisterCommand(t *testing.T) {
	b, _, _ := testBroadcaster()
	c := attachProbe(b, events.SubTasks)
	defer b.detach(c)

	// No registrar wired: the command is unsupported.
	b.handleCommand(c, command{Type: "task:register", Kind: "node-sync"})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Type)

	b.WithTaskRegistrar(func(kind, serviceID string) (string, error) {
		if kind != "node-sync" {
			return "", errors.New("unsupported task kind")
		}
		return b.tasks.Register(tasks.Spec{
			Kind:      types.TaskNodeSync,
			ServiceID: serviceID,
			Checker:   func(task types.Task) types.TaskProgress { return types.TaskProgress{} },
		})
	})

	b.handleCommand(c, command{Type: "task:register", Kind: "node-sync", ServiceID: "kaspad"})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "task:register", msgs[0].Type)
	task := msgs[0].Data.(types.Task)
	assert.Equal(t, "kaspad", task.ServiceID)
	assert.NotEmpty(t, task.ID)

	b.handleCommand(c, command{Type: "task:register", Kind: "bogus"})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Type)
}

func TestClientDropsWhenBehind(t *testing.T) {
	c := newClient("slow", nil)
	for i := 0; i < clientQueueBound+10; i++ {
		c.send(events.Message{Type: "x"})
	}
	assert.Len(t, c.outgoing, clientQueueBound)
}

func TestRelayRefreshesServiceState(t *testing.T) {
	b, services, _ := testBroadcaster()
	c := attachProbe(b, events.SubServices)
	defer b.detach(c)

	services.observations = []types.ServiceObservation{
		{ServiceID: "kaspa-node", State: types.StateRunning, Health: types.HealthHealthy},
	}

	// A bus-driven service change relays the full observation set.
	b.relay(events.Message{Subscription: events.SubServices, Type: events.TypeServiceChanged})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	obs := msgs[0].Data.([]types.ServiceObservation)
	require.Len(t, obs, 1)
	assert.Equal(t, "kaspa-node", obs[0].ServiceID)

	// The immediately following periodic push is suppressed as a duplicate.
	b.BroadcastServices()
	assert.Empty(t, drain(c))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, _, _ := testBroadcaster()
	c := attachProbe(b, "alerts")
	defer b.detach(c)

	b.fanOut(events.Message{Subscription: "alerts", Type: events.TypeAlertRaised})
	require.Len(t, drain(c), 1)

	b.handleCommand(c, command{Type: "unsubscribe", Channel: "alerts"})
	b.fanOut(events.Message{Subscription: "alerts", Type: events.TypeAlertRaised})
	assert.Empty(t, drain(c))
}

func TestPeriodicUsesHiddenIntervalForResources(t *testing.T) {
	b, _, sampler := testBroadcaster()
	b.opts.UpdateInterval = 10 * time.Millisecond
	b.opts.HiddenInterval = time.Hour

	sampler.ok = true
	sampler.sample = types.ResourceSample{CPUPct: 10}

	c := attachProbe(b, events.SubResources)
	defer b.detach(c)
	c.setHidden(true)

	// Last send just happened; with the hidden interval nothing is due.
	b.mu.Lock()
	b.lastResources = &sampler.sample
	b.lastResSent = time.Now()
	b.lastServiceSent = time.Now()
	b.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	b.periodic()
	assert.Empty(t, drain(c))
}
