package syncmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/store"
	"github.com/kaspa-aio/controller/pkg/types"
)

const (
	// rateWindow is the sliding window over which the sync rate is computed.
	rateWindow = 10 * time.Minute

	// defaultPollInterval is the cadence of a hosted wait observation.
	defaultPollInterval = 5 * time.Second
)

// Strategy recommendation boundaries, as a function of ETA.
const (
	waitCeiling       = 5 * time.Minute
	backgroundCeiling = 60 * time.Minute
)

// Manager tracks one node's synchronization. It polls the node over RPC,
// keeps a sliding history of samples for rate estimation, and derives
// progress, ETA and a recommended strategy.
type Manager struct {
	client  NodeClient
	bus     *events.Bus
	store   *store.Store // optional sample persistence
	nodeKey string
	logger  zerolog.Logger

	mu      sync.Mutex
	history []types.SyncSample
	last    *types.SyncStatus
}

// NewManager creates a sync manager for one node. st may be nil, in which
// case samples live only in memory.
func NewManager(client NodeClient, bus *events.Bus, st *store.Store, nodeKey string) *Manager {
	return &Manager{
		client:  client,
		bus:     bus,
		store:   st,
		nodeKey: nodeKey,
		logger:  log.WithComponent("syncmgr").With().Str("node", nodeKey).Logger(),
	}
}

// NodeKey returns the node this manager tracks.
func (m *Manager) NodeKey() string { return m.nodeKey }

// Probe queries the node once and returns the derived status. The sample is
// appended to the sliding history.
func (m *Manager) Probe(ctx context.Context) (types.SyncStatus, error) {
	info, err := m.client.BlockDagInfo(ctx)
	if err != nil {
		return types.SyncStatus{}, err
	}

	now := time.Now()
	sample := types.SyncSample{
		NodeKey:      m.nodeKey,
		CurrentBlock: info.BlockCount,
		TargetBlock:  info.HeaderCount,
		SampledAt:    now,
	}

	m.mu.Lock()
	m.history = append(m.history, sample)
	m.trimLocked(now)
	status := m.deriveLocked(info, now)
	m.last = &status
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.AppendSyncSample(sample); err != nil {
			m.logger.Debug().Err(err).Msg("failed to persist sync sample")
		}
	}

	metrics.SyncProgressPct.WithLabelValues(m.nodeKey).Set(status.ProgressPct)
	metrics.SyncBlocksPerSecond.WithLabelValues(m.nodeKey).Set(status.BlocksPerSec)
	return status, nil
}

// Status returns the last derived status without touching the node.
func (m *Manager) Status() (types.SyncStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return types.SyncStatus{}, false
	}
	return *m.last, true
}

// trimLocked drops samples older than the rate window.
func (m *Manager) trimLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.history) && m.history[i].SampledAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.history = m.history[i:]
	}
}

// deriveLocked turns the raw probe plus history into a SyncStatus.
func (m *Manager) deriveLocked(info DagInfo, now time.Time) types.SyncStatus {
	status := types.SyncStatus{
		NodeKey:       m.nodeKey,
		IsSynced:      info.IsSynced,
		BlockCount:    info.BlockCount,
		HeaderCount:   info.HeaderCount,
		NetworkName:   info.NetworkName,
		LastCheckedAt: now,
	}

	if info.HeaderCount > 0 {
		pct := 100 * float64(info.BlockCount) / float64(info.HeaderCount)
		if pct > 100 {
			pct = 100
		}
		status.ProgressPct = pct
	}

	status.BlocksPerSec = rateOf(m.history)

	if status.BlocksPerSec > 0 && info.BlockCount < info.HeaderCount {
		eta := int64(float64(info.HeaderCount-info.BlockCount) / status.BlocksPerSec)
		status.ETASeconds = &eta
		status.ETAText = FormatETA(eta)
	} else {
		status.ETAText = "Calculating..."
	}

	status.Recommended = Recommend(status.ETASeconds)
	return status
}

// rateOf computes blocks per second over the sample window. Needs at least
// two samples; a shrinking block count clamps to zero.
func rateOf(history []types.SyncSample) float64 {
	if len(history) < 2 {
		return 0
	}
	oldest, newest := history[0], history[len(history)-1]
	seconds := newest.SampledAt.Sub(oldest.SampledAt).Seconds()
	if seconds <= 0 {
		return 0
	}
	if newest.CurrentBlock <= oldest.CurrentBlock {
		return 0
	}
	return float64(newest.CurrentBlock-oldest.CurrentBlock) / seconds
}

// Recommend maps an ETA to the default strategy. An unknown ETA recommends
// Background since the node may take arbitrarily long.
func Recommend(etaSec *int64) types.SyncStrategy {
	if etaSec == nil {
		return types.StrategyBackground
	}
	eta := time.Duration(*etaSec) * time.Second
	switch {
	case eta < waitCeiling:
		return types.StrategyWait
	case eta <= backgroundCeiling:
		return types.StrategyBackground
	default:
		return types.StrategySkip
	}
}

// FormatETA renders seconds using the two largest significant units.
func FormatETA(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	days := sec / 86400
	hours := (sec % 86400) / 3600
	minutes := (sec % 3600) / 60
	seconds := sec % 60

	switch {
	case days > 0:
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		if seconds > 0 {
			return fmt.Sprintf("%dm %ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// ChooseStrategy records the user's decision and announces it.
func (m *Manager) ChooseStrategy(strategy types.SyncStrategy) {
	m.logger.Info().Str("strategy", string(strategy)).Msg("sync strategy chosen")
	m.bus.Publish(events.SubSync, events.TypeSyncStrategyChosen, map[string]any{
		"nodeKey":  m.nodeKey,
		"strategy": strategy,
	})
}

// Await hosts the blocking observation of the Wait strategy: poll until the
// node reports synced, publishing progress along the way. Returns the final
// status, or the context's error on cancellation.
func (m *Manager) Await(ctx context.Context, interval time.Duration) (types.SyncStatus, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := m.Probe(ctx)
		if err != nil {
			m.bus.Publish(events.SubSync, events.TypeSyncError, map[string]any{
				"nodeKey": m.nodeKey,
				"error":   err.Error(),
			})
		} else if status.IsSynced {
			m.bus.Publish(events.SubSync, events.TypeSyncComplete, status)
			m.bus.Publish(events.SubSync, events.TypeNodeReady, map[string]any{"nodeKey": m.nodeKey})
			return status, nil
		} else {
			m.bus.Publish(events.SubSync, events.TypeSyncProgress, status)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return types.SyncStatus{}, ctx.Err()
		}
	}
}
