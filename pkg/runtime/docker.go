package runtime

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/types"
)

const (
	// composeServiceLabel is set by compose on every container it manages
	composeServiceLabel = "com.docker.compose.service"

	// composeProjectLabel scopes containers to our compose project
	composeProjectLabel = "com.docker.compose.project"
)

// DockerAdapter implements Adapter against the Docker Engine API. Profile
// up/down is delegated to the compose CLI (see compose.go) because profile
// materialization is compose's job; everything else talks to the engine
// directly.
type DockerAdapter struct {
	cli     *client.Client
	compose *composeRunner
	catalog *catalog.Catalog
	project string
	logger  zerolog.Logger

	// one lock per service so fleet mutations are serialized per service
	// while distinct services can be operated on concurrently
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewDockerAdapter connects to the engine using the standard environment
// (DOCKER_HOST etc.) and scopes all operations to the compose project.
func NewDockerAdapter(projectRoot, projectName string, cat *catalog.Catalog) (*DockerAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot create engine client")
	}
	return &DockerAdapter{
		cli:     cli,
		compose: newComposeRunner(projectRoot, projectName),
		catalog: cat,
		project: projectName,
		logger:  log.WithComponent("runtime"),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the engine connection.
func (d *DockerAdapter) Close() error {
	return d.cli.Close()
}

func (d *DockerAdapter) serviceLock(serviceID string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	mu, ok := d.locks[serviceID]
	if !ok {
		mu = &sync.Mutex{}
		d.locks[serviceID] = mu
	}
	return mu
}

// containerFor resolves the container of a service, erroring when absent.
func (d *DockerAdapter) containerFor(ctx context.Context, serviceID string) (container.Summary, error) {
	svc, err := d.catalog.GetService(serviceID)
	if err != nil {
		return container.Summary{}, err
	}

	f := filters.NewArgs()
	f.Add("label", composeProjectLabel+"="+d.project)
	f.Add("name", svc.ContainerName)
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return container.Summary{}, errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot list containers")
	}
	if len(list) == 0 {
		return container.Summary{}, errdefs.New(errdefs.KindNotFound,
			"no container for service %q", serviceID)
	}
	return list[0], nil
}

// ListRunning returns all fleet containers, stopped ones included.
func (d *DockerAdapter) ListRunning(ctx context.Context) ([]types.RuntimeContainer, error) {
	f := filters.NewArgs()
	f.Add("label", composeProjectLabel+"="+d.project)
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot list containers")
	}

	out := make([]types.RuntimeContainer, 0, len(list))
	for _, c := range list {
		rc := types.RuntimeContainer{
			ContainerName: trimSlash(firstName(c.Names)),
			State:         mapState(c.State),
			Image:         c.Image,
			RuntimeHealth: types.HealthUnknown,
		}
		if svcName, ok := c.Labels[composeServiceLabel]; ok {
			rc.ServiceID = svcName
		} else if def, err := d.catalog.FindByContainer(rc.ContainerName); err == nil {
			rc.ServiceID = def.ID
		}

		// StartedAt and engine health need an inspect; only worth it for
		// containers that are actually up.
		if rc.State == types.StateRunning {
			if inspect, err := d.cli.ContainerInspect(ctx, c.ID); err == nil {
				if inspect.State != nil {
					if started, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
						rc.StartedAt = started
					}
					if inspect.State.Health != nil {
						rc.RuntimeHealth = mapEngineHealth(inspect.State.Health.Status)
					}
				}
			}
		}
		out = append(out, rc)
	}
	return out, nil
}

// UsageFor reads one non-streaming stats sample for a service's container.
func (d *DockerAdapter) UsageFor(ctx context.Context, serviceID string) (types.Usage, error) {
	c, err := d.containerFor(ctx, serviceID)
	if err != nil {
		return types.Usage{}, err
	}

	resp, err := d.cli.ContainerStats(ctx, c.ID, false)
	if err != nil {
		return types.Usage{}, errdefs.Wrap(err, errdefs.KindRuntimeUnavailable,
			"cannot read stats for %q", serviceID)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return types.Usage{}, errdefs.Wrap(err, errdefs.KindInternal,
			"cannot decode stats for %q", serviceID)
	}

	return types.Usage{
		CPUPct:        cpuPercent(&stats),
		MemBytes:      stats.MemoryStats.Usage,
		MemLimitBytes: stats.MemoryStats.Limit,
	}, nil
}

// cpuPercent computes the container CPU percentage the way the engine CLI
// does: usage delta over system delta, scaled by online CPUs.
func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / sysDelta * cpus * 100.0
}

// Up materializes and starts the given profiles through compose.
func (d *DockerAdapter) Up(ctx context.Context, profileIDs []string) error {
	d.logger.Info().Strs("profiles", profileIDs).Msg("compose up")
	return d.compose.Up(ctx, profileIDs)
}

// Down stops and removes the given profiles' containers through compose.
func (d *DockerAdapter) Down(ctx context.Context, profileIDs []string) error {
	d.logger.Info().Strs("profiles", profileIDs).Msg("compose down")
	return d.compose.Down(ctx, profileIDs)
}

// StartService starts an existing container.
func (d *DockerAdapter) StartService(ctx context.Context, serviceID string) error {
	mu := d.serviceLock(serviceID)
	mu.Lock()
	defer mu.Unlock()

	c, err := d.containerFor(ctx, serviceID)
	if err != nil {
		return err
	}
	if err := d.cli.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
		return errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot start %q", serviceID)
	}
	d.logger.Info().Str("service_id", serviceID).Msg("container started")
	return nil
}

// StopService stops a container with the default grace period.
func (d *DockerAdapter) StopService(ctx context.Context, serviceID string) error {
	mu := d.serviceLock(serviceID)
	mu.Lock()
	defer mu.Unlock()

	c, err := d.containerFor(ctx, serviceID)
	if err != nil {
		return err
	}
	if err := d.cli.ContainerStop(ctx, c.ID, container.StopOptions{}); err != nil {
		return errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot stop %q", serviceID)
	}
	d.logger.Info().Str("service_id", serviceID).Msg("container stopped")
	return nil
}

// Restart restarts containers in the given order, stopping at the first
// failure.
func (d *DockerAdapter) Restart(ctx context.Context, serviceIDs []string) error {
	for _, sid := range serviceIDs {
		mu := d.serviceLock(sid)
		mu.Lock()
		c, err := d.containerFor(ctx, sid)
		if err == nil {
			err = d.cli.ContainerRestart(ctx, c.ID, container.StopOptions{})
		}
		mu.Unlock()
		if err != nil {
			return errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot restart %q", sid)
		}
		d.logger.Info().Str("service_id", sid).Msg("container restarted")
	}
	return nil
}

// Logs returns a log stream for a service.
func (d *DockerAdapter) Logs(ctx context.Context, serviceID string, tailLines int, follow bool) (io.ReadCloser, error) {
	c, err := d.containerFor(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Timestamps: true,
	}
	if tailLines > 0 {
		opts.Tail = strconv.Itoa(tailLines)
	}

	rc, err := d.cli.ContainerLogs(ctx, c.ID, opts)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "cannot stream logs for %q", serviceID)
	}
	return rc, nil
}

// Info describes the engine and the compose plugin.
func (d *DockerAdapter) Info(ctx context.Context) (types.RuntimeInfo, error) {
	info, err := d.cli.Info(ctx)
	if err != nil {
		return types.RuntimeInfo{Running: false}, errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "engine not reachable")
	}

	out := types.RuntimeInfo{
		EngineVersion:  info.ServerVersion,
		Running:        true,
		ContainerCount: info.Containers,
		ImageCount:     info.Images,
		MemoryLimitGb:  float64(info.MemTotal) / (1 << 30),
	}
	if v, err := d.compose.Version(ctx); err == nil {
		out.ComposeVersion = v
	}
	return out, nil
}

func mapState(state container.ContainerState) types.ServiceState {
	switch state {
	case container.StateRunning, container.StateRestarting:
		return types.StateRunning
	case container.StateExited, container.StateDead:
		return types.StateExited
	default:
		return types.StateStopped
	}
}

func mapEngineHealth(status string) types.HealthState {
	switch status {
	case container.Healthy:
		return types.HealthHealthy
	case container.Unhealthy:
		return types.HealthUnhealthy
	default:
		return types.HealthUnknown
	}
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
