package tasks

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/syncmgr"
	"github.com/kaspa-aio/controller/pkg/types"
)

// syncedNode reports a fully synced chain.
type syncedNode struct{}

func (syncedNode) BlockDagInfo(ctx context.Context) (syncmgr.DagInfo, error) {
	return syncmgr.DagInfo{BlockCount: 100, HeaderCount: 100, IsSynced: true}, nil
}

// pollNow drives one checker invocation without waiting for the cadence.
func pollNow(t *testing.T, s *Supervisor, taskID string) bool {
	t.Helper()
	s.mu.Lock()
	m, ok := s.tasks[taskID]
	s.mu.Unlock()
	require.True(t, ok)
	return s.pollOnce(m)
}

func TestNodeSyncSwitchesBackOnCompletion(t *testing.T) {
	bus := events.NewBus()
	s := NewSupervisor(bus, nil)
	mgr := syncmgr.NewManager(syncedNode{}, bus, nil, "kaspa-node")

	var switched int64
	id, err := s.StartNodeSync(mgr, "kaspa-node", true, func() error {
		atomic.AddInt64(&switched, 1)
		return nil
	})
	require.NoError(t, err)

	done := pollNow(t, s, id)
	assert.True(t, done)

	task, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskComplete, task.Status)
	assert.Equal(t, float64(100), task.ProgressPct)
	assert.Equal(t, int64(1), atomic.LoadInt64(&switched))
}

func TestNodeSyncWithoutAutoSwitch(t *testing.T) {
	bus := events.NewBus()
	s := NewSupervisor(bus, nil)
	mgr := syncmgr.NewManager(syncedNode{}, bus, nil, "kaspa-node")

	var switched int64
	id, err := s.StartNodeSync(mgr, "kaspa-node", false, func() error {
		atomic.AddInt64(&switched, 1)
		return nil
	})
	require.NoError(t, err)

	done := pollNow(t, s, id)
	assert.True(t, done)

	task, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskComplete, task.Status)
	assert.Equal(t, int64(0), atomic.LoadInt64(&switched), "switch-back requires autoSwitch")
}
