package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAlertHistoryNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveAlert(&types.Alert{
			ID:       fmt.Sprintf("a%d", i),
			Kind:     types.AlertServiceFailure,
			RaisedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	alerts, err := s.ListAlerts(0)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, "a2", alerts[0].ID)
	assert.Equal(t, "a0", alerts[2].ID)

	alerts, err = s.ListAlerts(2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a2", alerts[0].ID)
}

func TestSaveAlertUpserts(t *testing.T) {
	s := testStore(t)
	raised := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	alert := &types.Alert{ID: "a1", Kind: types.AlertServiceFailure, RaisedAt: raised}
	require.NoError(t, s.SaveAlert(alert))

	alert.AcknowledgedAt = raised.Add(time.Minute)
	require.NoError(t, s.SaveAlert(alert))

	alerts, err := s.ListAlerts(0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].AcknowledgedAt.IsZero())
}

func TestTrimAlertsKeepsNewest(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.SaveAlert(&types.Alert{
			ID:       fmt.Sprintf("a%d", i),
			RaisedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.TrimAlerts(4))

	alerts, err := s.ListAlerts(0)
	require.NoError(t, err)
	require.Len(t, alerts, 4)
	assert.Equal(t, "a9", alerts[0].ID)
	assert.Equal(t, "a6", alerts[3].ID)
}

func TestTaskArchiveRoundTrip(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.ArchiveTask(&types.Task{
			ID:         fmt.Sprintf("t%d", i),
			Kind:       types.TaskNodeSync,
			Status:     types.TaskComplete,
			LastUpdate: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	tasks, err := s.ListArchivedTasks(2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.Equal(t, types.TaskComplete, tasks[0].Status)
}

func TestSyncSamplesFilterAndPrune(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendSyncSample(types.SyncSample{
			NodeKey:      "kaspa-node",
			CurrentBlock: uint64(i * 1000),
			TargetBlock:  10000,
			SampledAt:    base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.AppendSyncSample(types.SyncSample{
		NodeKey:   "other-node",
		SampledAt: base,
	}))

	samples, err := s.ListSyncSamples("kaspa-node", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, uint64(2000), samples[0].CurrentBlock)

	require.NoError(t, s.PruneSyncSamples(base.Add(3*time.Hour)))

	samples, err = s.ListSyncSamples("kaspa-node", time.Time{})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, uint64(3000), samples[0].CurrentBlock)

	samples, err = s.ListSyncSamples("other-node", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, samples, "other node pruned too")
}
