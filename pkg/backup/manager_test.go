package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/types"
)

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KASPA_NETWORK=mainnet\nKASPAD_TAG=v1.0.1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte("services:\n  kaspa-node:\n    image: kaspanet/kaspad:v1.0.1\n"), 0644))
	return dir
}

func TestCreateCapturesArtifacts(t *testing.T) {
	dir := projectDir(t)
	m := NewManager(dir, nil)

	meta, err := m.Create("manual", map[string]string{"by": "test"})
	require.NoError(t, err)

	assert.NotEmpty(t, meta.SnapshotID)
	assert.Equal(t, "manual", meta.Reason)
	// Override file is optional and absent.
	require.Len(t, meta.Files, 2)
	assert.Equal(t, "env", meta.Files[0].LogicalName)
	assert.Greater(t, meta.Files[0].SizeBytes, int64(0))

	got, err := m.Get(meta.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, meta.SnapshotID, got.SnapshotID)
}

func TestSnapshotDirectoryLayout(t *testing.T) {
	dir := projectDir(t)
	m := NewManager(dir, nil)

	meta, err := m.Create("manual", nil)
	require.NoError(t, err)

	snapDir := filepath.Join(dir, ".kaspa-backups", meta.SnapshotID)
	info, err := os.Stat(snapDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(snapDir, "backup-metadata.json"))
	assert.NoError(t, err)
}

func TestCreateFailsWithoutRequiredArtifact(t *testing.T) {
	dir := t.TempDir() // no .env, no compose file
	m := NewManager(dir, nil)

	_, err := m.Create("manual", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindSnapshotFailed))

	// The partial directory was rolled back.
	snaps, err := m.List(0)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestListNewestFirst(t *testing.T) {
	m := NewManager(projectDir(t), nil)

	first, err := m.Create("first", nil)
	require.NoError(t, err)
	second, err := m.Create("second", nil)
	require.NoError(t, err)

	snaps, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, second.SnapshotID, snaps[0].SnapshotID)
	assert.Equal(t, first.SnapshotID, snaps[1].SnapshotID)

	limited, err := m.List(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.SnapshotID, limited[0].SnapshotID)
}

func TestSnapshotIDsIncreaseWithinOneSecond(t *testing.T) {
	m := NewManager(projectDir(t), nil)
	now := time.Now()

	a := m.newID(now)
	b := m.newID(now)
	c := m.newID(now)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestRestoreSwapsArtifactsBack(t *testing.T) {
	dir := projectDir(t)
	m := NewManager(dir, nil)

	meta, err := m.Create("before-change", nil)
	require.NoError(t, err)

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("KASPA_NETWORK=testnet\n"), 0644))

	require.NoError(t, m.Restore(meta.SnapshotID, RestoreOptions{CreateBackupBeforeRestore: true}))

	data, err := os.ReadFile(envPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "KASPA_NETWORK=mainnet")

	// The pre-restore snapshot preserved the replaced state.
	snaps, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "pre-restore", snaps[0].Reason)
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	m := NewManager(projectDir(t), nil)
	err := m.Restore("20200101-000000", RestoreOptions{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestRetentionKeepsNewest(t *testing.T) {
	m := NewManager(projectDir(t), nil).WithRetention(3)

	var last *types.SnapshotMetadata
	for i := 0; i < 5; i++ {
		meta, err := m.Create("auto", nil)
		require.NoError(t, err)
		last = meta
	}

	snaps, err := m.List(0)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, last.SnapshotID, snaps[0].SnapshotID)
}

func TestDiffBetweenSnapshots(t *testing.T) {
	dir := projectDir(t)
	m := NewManager(dir, nil)

	a, err := m.Create("a", nil)
	require.NoError(t, err)

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("KASPA_NETWORK=testnet\nKASPAD_TAG=v1.0.1\nNEW_KEY=1\n"), 0644))

	b, err := m.Create("b", nil)
	require.NoError(t, err)

	diff, err := m.Diff(a.SnapshotID, b.SnapshotID)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 2)
	assert.Equal(t, types.DiffModified, diff.Changes[0].Kind)
	assert.Equal(t, "KASPA_NETWORK", diff.Changes[0].Key)
	assert.Equal(t, types.DiffAdded, diff.Changes[1].Kind)
	assert.Equal(t, "NEW_KEY", diff.Changes[1].Key)
}
