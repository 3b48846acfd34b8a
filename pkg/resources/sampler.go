package resources

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/runtime"
	"github.com/kaspa-aio/controller/pkg/types"
)

const (
	// historyBound caps the ring buffer at one hour of 5s samples
	historyBound = 720

	// defaultInterval is the sampling cadence
	defaultInterval = 5 * time.Second
)

// Sampler periodically measures host and per-service resource usage and
// publishes each sample on the event bus.
type Sampler struct {
	adapter  runtime.Adapter
	bus      *events.Bus
	interval time.Duration
	diskPath string
	logger   zerolog.Logger

	mu      sync.RWMutex
	history []types.ResourceSample

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSampler creates a sampler. diskPath is the mount to measure, normally
// the project root's filesystem.
func NewSampler(adapter runtime.Adapter, bus *events.Bus, diskPath string) *Sampler {
	return &Sampler{
		adapter:  adapter,
		bus:      bus,
		interval: defaultInterval,
		diskPath: diskPath,
		logger:   log.WithComponent("resources"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WithInterval overrides the sampling cadence (used by tests).
func (s *Sampler) WithInterval(d time.Duration) *Sampler {
	s.interval = d
	return s
}

// Start begins the sampling loop.
func (s *Sampler) Start() {
	go s.run()
}

// Stop stops the sampling loop and waits for it to exit.
func (s *Sampler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sampler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First sample immediately so clients get data on connect.
	s.sampleOnce()

	for {
		select {
		case <-ticker.C:
			s.sampleOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sampler) sampleOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	sample := s.measure(ctx)

	s.mu.Lock()
	s.history = append(s.history, sample)
	if len(s.history) > historyBound {
		s.history = s.history[len(s.history)-historyBound:]
	}
	s.mu.Unlock()

	s.bus.Publish(events.SubResources, events.TypeResourceSample, sample)
}

func (s *Sampler) measure(ctx context.Context) types.ResourceSample {
	sample := types.ResourceSample{TakenAt: time.Now()}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		sample.CPUPct = pcts[0]
	} else if err != nil {
		s.logger.Debug().Err(err).Msg("cpu sample failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.MemPct = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		sample.DiskPct = du.UsedPercent
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		sample.LoadAvg = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	sample.PerServiceUsage = s.perServiceUsage(ctx)
	return sample
}

// perServiceUsage asks the runtime for usage of each running container. A
// failure for one service never fails the sample.
func (s *Sampler) perServiceUsage(ctx context.Context) map[string]types.Usage {
	containers, err := s.adapter.ListRunning(ctx)
	if err != nil {
		return nil
	}

	usage := make(map[string]types.Usage)
	for _, c := range containers {
		if c.State != types.StateRunning || c.ServiceID == "" {
			continue
		}
		u, err := s.adapter.UsageFor(ctx, c.ServiceID)
		if err != nil {
			continue
		}
		usage[c.ServiceID] = u
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() (types.ResourceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return types.ResourceSample{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns up to n most recent samples, oldest first.
func (s *Sampler) History(n int) []types.ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]types.ResourceSample, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}
