package update

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/backup"
	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/monitor"
	"github.com/kaspa-aio/controller/pkg/runtime"
	"github.com/kaspa-aio/controller/pkg/types"
)

type fakeAdapter struct {
	mu         sync.Mutex
	containers map[string]types.RuntimeContainer
	stops      []string
	starts     []string
	restarts   []string
	ups        []string
	downs      []string
	failStart  map[string]error
}

var _ runtime.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		containers: make(map[string]types.RuntimeContainer),
		failStart:  make(map[string]error),
	}
}

func (f *fakeAdapter) setRunning(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = types.RuntimeContainer{
		ServiceID: id, ContainerName: id, State: types.StateRunning,
		StartedAt: time.Now(), RuntimeHealth: types.HealthHealthy,
	}
}

func (f *fakeAdapter) ListRunning(ctx context.Context) ([]types.RuntimeContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.RuntimeContainer, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeAdapter) UsageFor(ctx context.Context, serviceID string) (types.Usage, error) {
	return types.Usage{}, nil
}

func (f *fakeAdapter) Up(ctx context.Context, profileIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups = append(f.ups, profileIDs...)
	return nil
}

func (f *fakeAdapter) Down(ctx context.Context, profileIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, profileIDs...)
	return nil
}

func (f *fakeAdapter) StartService(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failStart[serviceID]; err != nil {
		return err
	}
	f.starts = append(f.starts, serviceID)
	c := f.containers[serviceID]
	c.ServiceID = serviceID
	c.State = types.StateRunning
	c.RuntimeHealth = types.HealthHealthy
	f.containers[serviceID] = c
	return nil
}

func (f *fakeAdapter) StopService(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, serviceID)
	c := f.containers[serviceID]
	c.ServiceID = serviceID
	c.State = types.StateStopped
	f.containers[serviceID] = c
	return nil
}

func (f *fakeAdapter) Restart(ctx context.Context, serviceIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, serviceIDs...)
	for _, id := range serviceIDs {
		c := f.containers[id]
		c.ServiceID = id
		c.State = types.StateRunning
		f.containers[id] = c
	}
	return nil
}

func (f *fakeAdapter) Logs(ctx context.Context, serviceID string, tailLines int, follow bool) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeAdapter) Info(ctx context.Context) (types.RuntimeInfo, error) {
	return types.RuntimeInfo{Running: true}, nil
}

const fleetCompose = `services:
  kaspa-node:
    image: kaspanet/kaspad:v1.0.1
  kaspa-indexer:
    image: kaspa/indexer:v2.3.0
`

func testPipeline(t *testing.T) (*Pipeline, *fakeAdapter, *events.Bus, string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("KASPA_NETWORK=mainnet\nINDEXER_DB=kaspa\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"),
		[]byte(fleetCompose), 0644))

	cat, err := catalog.Load(
		[]*types.Profile{
			{ID: "kaspa-node", DisplayName: "Kaspa Node", Category: types.CategoryNode,
				Services: []string{"kaspa-node"}, ConfigKeys: []string{"KASPA_NETWORK"}, StartupOrder: 1},
			{ID: "indexer", DisplayName: "Indexer", Category: types.CategoryIndexer,
				Services:   []string{"kaspa-indexer"},
				ConfigKeys: []string{"INDEXER_DB", "KASPA_NODE_HOST", "KASPA_NODE_PORT"},
				Prerequisites: []string{"kaspa-node"}, StartupOrder: 2},
		},
		[]*types.ServiceDefinition{
			{ID: "kaspa-node", OwningProfileID: "kaspa-node",
				HealthProbe: types.HealthProbe{Kind: types.ProbeNone}, ImageRef: "kaspanet/kaspad:v1.0.1"},
			{ID: "kaspa-indexer", OwningProfileID: "indexer", Dependencies: []string{"kaspa-node"},
				HealthProbe: types.HealthProbe{Kind: types.ProbeNone}, ImageRef: "kaspa/indexer:v2.3.0"},
		},
		nil,
	)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	bus := events.NewBus()
	opts := monitor.DefaultOptions()
	opts.CheckInterval = 10 * time.Millisecond
	opts.StartupDeadline = 100 * time.Millisecond
	mon := monitor.New(cat, adapter, bus, opts)

	cfg := configstore.New(dir)
	backups := backup.NewManager(dir, nil)
	return NewPipeline(cat, adapter, mon, cfg, backups, bus), adapter, bus, dir
}

func composeImage(t *testing.T, dir, service string) string {
	t.Helper()
	cf, err := configstore.ParseCompose(readFile(t, filepath.Join(dir, "docker-compose.yml")))
	require.NoError(t, err)
	image, err := cf.ImageOf(service)
	require.NoError(t, err)
	return image
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRunUpdatesService(t *testing.T) {
	p, adapter, bus, dir := testPipeline(t)
	sub := bus.Subscribe(events.SubUpdates)
	defer bus.Unsubscribe(sub)

	result, err := p.Run(context.Background(), []Item{
		{ServiceID: "kaspa-node", TargetVersion: "v1.0.2"},
	}, Options{CreateBackup: true})
	require.NoError(t, err)

	assert.True(t, result.Succeeded)
	assert.NotEmpty(t, result.SnapshotID)
	require.Len(t, result.Services, 1)
	assert.True(t, result.Services[0].Succeeded)
	assert.Equal(t, "v1.0.1", result.Services[0].FromVersion)

	assert.Equal(t, "kaspanet/kaspad:v1.0.2", composeImage(t, dir, "kaspa-node"))
	assert.Equal(t, []string{"kaspa-node"}, adapter.stops)
	assert.Equal(t, []string{"kaspa-node"}, adapter.starts)

	var kinds []string
	for {
		msg, ok := sub.Next()
		if !ok {
			break
		}
		kinds = append(kinds, msg.Type)
	}
	assert.Equal(t, events.TypeUpdateStarted, kinds[0])
	assert.Equal(t, events.TypeUpdateComplete, kinds[len(kinds)-1])
	assert.Contains(t, kinds, events.TypeUpdateServiceDone)
}

func TestRunRollsBackOnStartFailure(t *testing.T) {
	p, adapter, _, dir := testPipeline(t)
	adapter.failStart["kaspa-node"] = errors.New("image pull failed")

	result, err := p.Run(context.Background(), []Item{
		{ServiceID: "kaspa-node", TargetVersion: "v1.0.2"},
	}, Options{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindUpdateFailed))

	require.Len(t, result.Services, 1)
	assert.False(t, result.Services[0].Succeeded)
	assert.True(t, result.Services[0].RolledBack)

	// The prior tag is back in place.
	assert.Equal(t, "kaspanet/kaspad:v1.0.1", composeImage(t, dir, "kaspa-node"))
	assert.Equal(t, []string{"kaspa-node"}, adapter.restarts)
}

func TestRunAbortsRemainingServicesAfterFailure(t *testing.T) {
	p, adapter, _, dir := testPipeline(t)
	adapter.failStart["kaspa-node"] = errors.New("image pull failed")

	result, err := p.Run(context.Background(), []Item{
		{ServiceID: "kaspa-indexer", TargetVersion: "v2.4.0"},
		{ServiceID: "kaspa-node", TargetVersion: "v1.0.2"},
	}, Options{})
	require.Error(t, err)

	// Dependency order puts the node first; the indexer is never touched.
	require.Len(t, result.Services, 1)
	assert.Equal(t, "kaspa-node", result.Services[0].ServiceID)
	assert.Equal(t, "kaspa/indexer:v2.3.0", composeImage(t, dir, "kaspa-indexer"))
}

// probedPipeline builds a pipeline over a single service whose TCP probe
// dials the given port.
func probedPipeline(t *testing.T, port int) (*Pipeline, *fakeAdapter, string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("KASPA_NETWORK=mainnet\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"),
		[]byte("services:\n  kaspa-node:\n    image: kaspanet/kaspad:v1.0.1\n"), 0644))

	cat, err := catalog.Load(
		[]*types.Profile{
			{ID: "kaspa-node", DisplayName: "Kaspa Node", Category: types.CategoryNode,
				Services: []string{"kaspa-node"}, StartupOrder: 1},
		},
		[]*types.ServiceDefinition{
			{ID: "kaspa-node", OwningProfileID: "kaspa-node",
				HealthProbe: types.HealthProbe{Kind: types.ProbeTCP, Port: port},
				ImageRef:    "kaspanet/kaspad:v1.0.1"},
		},
		nil,
	)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	bus := events.NewBus()
	opts := monitor.DefaultOptions()
	opts.CheckInterval = 10 * time.Millisecond
	opts.ProbeTimeout = 200 * time.Millisecond
	opts.RetryAttempts = 2
	opts.StartupDeadline = 100 * time.Millisecond
	opts.ProbeHost = "127.0.0.1"
	mon := monitor.New(cat, adapter, bus, opts)

	cfg := configstore.New(dir)
	backups := backup.NewManager(dir, nil)
	return NewPipeline(cat, adapter, mon, cfg, backups, bus), adapter, dir
}

func TestRunRollsBackWhenHealthNeverReturns(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	p, adapter, dir := probedPipeline(t, port)

	result, err := p.Run(context.Background(), []Item{
		{ServiceID: "kaspa-node", TargetVersion: "v1.0.2"},
	}, Options{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindUpdateFailed))
	assert.Contains(t, err.Error(), "not healthy")

	// The prior tag is back in place and the service was restarted on it.
	assert.Equal(t, "kaspanet/kaspad:v1.0.1", composeImage(t, dir, "kaspa-node"))
	assert.Equal(t, []string{"kaspa-node"}, adapter.restarts)

	require.Len(t, result.Services, 1)
	assert.False(t, result.Services[0].Succeeded)
}

func TestBreakingUpdateNeedsAcknowledgement(t *testing.T) {
	p, _, _, _ := testPipeline(t)

	_, err := p.Run(context.Background(), []Item{
		{ServiceID: "kaspa-node", TargetVersion: "v2.0.0"},
	}, Options{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
	assert.Equal(t, []string{"kaspa-node"}, errdefs.DetailsOf(err)["services"])

	result, err := p.Run(context.Background(), []Item{
		{ServiceID: "kaspa-node", TargetVersion: "v2.0.0"},
	}, Options{BreakingAcknowledged: true})
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
}

func TestIsBreaking(t *testing.T) {
	assert.False(t, IsBreaking("v1.0.1", "v1.2.0"))
	assert.True(t, IsBreaking("v1.0.1", "v2.0.0"))
	assert.False(t, IsBreaking("latest", "v2.0.0"), "unparseable tags are not breaking")
}

func TestCheckAvailable(t *testing.T) {
	p, _, _, _ := testPipeline(t)

	avail := p.CheckAvailable(map[string]string{
		"kaspa-node":    "v2.0.0",
		"kaspa-indexer": "v2.3.0", // already current
		"unknown":       "v9.9.9",
	})

	require.Len(t, avail, 1)
	assert.Equal(t, "kaspa-node", avail[0].ServiceID)
	assert.Equal(t, "v1.0.1", avail[0].CurrentVersion)
	assert.True(t, avail[0].Breaking)
}

func TestReconfigureRestartsAffectedServicesOnly(t *testing.T) {
	p, adapter, _, dir := testPipeline(t)
	adapter.setRunning("kaspa-node")
	adapter.setRunning("kaspa-indexer")
	p.monitor.Cycle(context.Background())

	result, err := p.Reconfigure(context.Background(), ReconfigureRequest{
		EnvChanges: map[string]string{"KASPA_NETWORK": "testnet"},
	})
	require.NoError(t, err)

	require.Len(t, result.Diff.Changes, 1)
	assert.Equal(t, types.DiffModified, result.Diff.Changes[0].Kind)
	assert.Equal(t, []string{"kaspa-node"}, result.AffectedServices)

	// Only the owning profile's service was restarted.
	assert.Equal(t, []string{"kaspa-node"}, adapter.stops)
	assert.Equal(t, []string{"kaspa-node"}, adapter.starts)

	env := configstore.ParseEnv(readFile(t, filepath.Join(dir, ".env")))
	v, _ := env.Get("KASPA_NETWORK")
	assert.Equal(t, "testnet", v)
}

func TestReconfigureProfileActivation(t *testing.T) {
	p, adapter, _, _ := testPipeline(t)

	_, err := p.Reconfigure(context.Background(), ReconfigureRequest{
		ActivateProfiles: []string{"indexer"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"indexer"}, adapter.ups)

	_, err = p.Reconfigure(context.Background(), ReconfigureRequest{
		RemoveProfiles: []string{"indexer"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"indexer"}, adapter.downs)
}

func TestReconfigureRejectsEmptyRequest(t *testing.T) {
	p, _, _, _ := testPipeline(t)
	_, err := p.Reconfigure(context.Background(), ReconfigureRequest{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}
