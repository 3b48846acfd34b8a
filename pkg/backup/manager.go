package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/types"
)

const (
	// defaultRetention keeps this many snapshots before pruning.
	defaultRetention = 20

	metadataFileName = "backup-metadata.json"
	snapshotsDirName = ".kaspa-backups"
)

// Artifact declares one file captured by every snapshot.
type Artifact struct {
	LogicalName string
	Path        string // relative to the project root
	Description string
	Optional    bool // absence does not fail the snapshot
}

// DefaultArtifacts covers the declarative state of a standard installation.
func DefaultArtifacts() []Artifact {
	return []Artifact{
		{LogicalName: "env", Path: configstore.EnvFileName, Description: "environment configuration"},
		{LogicalName: "compose", Path: configstore.ComposeFileName, Description: "service declarations"},
		{LogicalName: "compose-override", Path: "docker-compose.override.yml", Description: "local overrides", Optional: true},
	}
}

// Manager creates, lists, restores and prunes configuration snapshots. Each
// snapshot is a directory named by a monotonically increasing timestamp
// under <projectRoot>/.kaspa-backups.
type Manager struct {
	root      string
	artifacts []Artifact
	retention int
	logger    zerolog.Logger

	mu     sync.Mutex
	lastID string
}

// NewManager creates a backup manager over the project root.
func NewManager(projectRoot string, artifacts []Artifact) *Manager {
	if artifacts == nil {
		artifacts = DefaultArtifacts()
	}
	return &Manager{
		root:      projectRoot,
		artifacts: artifacts,
		retention: defaultRetention,
		logger:    log.WithComponent("backup"),
	}
}

// WithRetention overrides how many snapshots are kept.
func (m *Manager) WithRetention(n int) *Manager {
	m.retention = n
	return m
}

func (m *Manager) snapshotsDir() string {
	return filepath.Join(m.root, snapshotsDirName)
}

func (m *Manager) snapshotDir(id string) string {
	return filepath.Join(m.snapshotsDir(), id)
}

// newID builds a timestamp-ordered snapshot ID, strictly greater than the
// previous one even within the same second.
func (m *Manager) newID(now time.Time) string {
	id := now.UTC().Format("20060102-150405")
	if id <= m.lastID {
		// Same-second collision; extend with a counter suffix.
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s-%02d", id, i)
			if candidate > m.lastID {
				id = candidate
				break
			}
		}
	}
	m.lastID = id
	return id
}

// Create captures all configured artifacts into a new snapshot and applies
// retention. A missing optional artifact is skipped; a missing required one
// aborts and removes the partial directory.
func (m *Manager) Create(reason string, metadata map[string]string) (*types.SnapshotMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	id := m.newID(now)
	dir := m.snapshotDir(id)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSnapshotFailed, "cannot create snapshot directory")
	}

	meta := &types.SnapshotMetadata{
		SnapshotID: id,
		Reason:     reason,
		Metadata:   metadata,
		CreatedAt:  now,
	}

	for _, artifact := range m.artifacts {
		src := filepath.Join(m.root, artifact.Path)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) && artifact.Optional {
				continue
			}
			os.RemoveAll(dir)
			return nil, errdefs.Wrap(err, errdefs.KindSnapshotFailed,
				"cannot capture %s", artifact.LogicalName)
		}

		fileName := filepath.Base(artifact.Path)
		if err := os.WriteFile(filepath.Join(dir, fileName), data, 0644); err != nil {
			os.RemoveAll(dir)
			return nil, errdefs.Wrap(err, errdefs.KindSnapshotFailed,
				"cannot write %s", artifact.LogicalName)
		}

		meta.Files = append(meta.Files, types.SnapshotFile{
			LogicalName: artifact.LogicalName,
			FileName:    fileName,
			SizeBytes:   int64(len(data)),
			Description: artifact.Description,
		})
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := configstore.AtomicWrite(filepath.Join(dir, metadataFileName), append(data, '\n')); err != nil {
		os.RemoveAll(dir)
		return nil, errdefs.Wrap(err, errdefs.KindSnapshotFailed, "cannot write snapshot metadata")
	}

	m.logger.Info().Str("snapshot_id", id).Str("reason", reason).Msg("snapshot created")

	if err := m.pruneLocked(); err != nil {
		m.logger.Warn().Err(err).Msg("snapshot retention failed")
	}
	return meta, nil
}

// List returns up to limit snapshots, newest first. limit <= 0 means all.
func (m *Manager) List(limit int) ([]*types.SnapshotMetadata, error) {
	ids, err := m.ids()
	if err != nil {
		return nil, err
	}

	// ids are sorted ascending; walk from the newest.
	var out []*types.SnapshotMetadata
	for i := len(ids) - 1; i >= 0; i-- {
		meta, err := m.Get(ids[i])
		if err != nil {
			m.logger.Debug().Err(err).Str("snapshot_id", ids[i]).Msg("skipping unreadable snapshot")
			continue
		}
		out = append(out, meta)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get returns one snapshot's metadata.
func (m *Manager) Get(snapshotID string) (*types.SnapshotMetadata, error) {
	data, err := os.ReadFile(filepath.Join(m.snapshotDir(snapshotID), metadataFileName))
	if os.IsNotExist(err) {
		return nil, errdefs.New(errdefs.KindNotFound, "snapshot %s not found", snapshotID)
	}
	if err != nil {
		return nil, err
	}
	var meta types.SnapshotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindValidation, "snapshot %s metadata malformed", snapshotID)
	}
	return &meta, nil
}

// RestoreOptions controls a restore.
type RestoreOptions struct {
	CreateBackupBeforeRestore bool
}

// Restore swaps the snapshot's artifacts into place. Each file lands through
// a two-phase write; if requested, a pre-restore snapshot is created first
// so a failed restore can be undone.
func (m *Manager) Restore(snapshotID string, opts RestoreOptions) error {
	meta, err := m.Get(snapshotID)
	if err != nil {
		return err
	}

	if opts.CreateBackupBeforeRestore {
		if _, err := m.Create("pre-restore", map[string]string{"restoring": snapshotID}); err != nil {
			return errdefs.Wrap(err, errdefs.KindRestoreFailed, "pre-restore snapshot failed")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byName := make(map[string]Artifact, len(m.artifacts))
	for _, a := range m.artifacts {
		byName[a.LogicalName] = a
	}

	for _, file := range meta.Files {
		artifact, ok := byName[file.LogicalName]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.snapshotDir(snapshotID), file.FileName))
		if err != nil {
			return errdefs.Wrap(err, errdefs.KindRestoreFailed,
				"cannot read %s from snapshot %s", file.LogicalName, snapshotID)
		}
		dst := filepath.Join(m.root, artifact.Path)
		if err := configstore.AtomicWrite(dst, data); err != nil {
			return errdefs.Wrap(err, errdefs.KindRestoreFailed,
				"cannot restore %s", file.LogicalName)
		}
	}

	m.logger.Info().Str("snapshot_id", snapshotID).Msg("snapshot restored")
	return nil
}

// Diff compares the environment-file artifact of two snapshots.
func (m *Manager) Diff(aID, bID string) (types.ConfigDiff, error) {
	a, err := m.envOf(aID)
	if err != nil {
		return types.ConfigDiff{}, err
	}
	b, err := m.envOf(bID)
	if err != nil {
		return types.ConfigDiff{}, err
	}
	return configstore.DiffEnv(a, b), nil
}

func (m *Manager) envOf(snapshotID string) (*configstore.EnvFile, error) {
	meta, err := m.Get(snapshotID)
	if err != nil {
		return nil, err
	}
	for _, file := range meta.Files {
		if file.LogicalName == "env" {
			data, err := os.ReadFile(filepath.Join(m.snapshotDir(snapshotID), file.FileName))
			if err != nil {
				return nil, err
			}
			return configstore.ParseEnv(data), nil
		}
	}
	return configstore.NewEnvFile(), nil
}

// Delete removes one snapshot.
func (m *Manager) Delete(snapshotID string) error {
	dir := m.snapshotDir(snapshotID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errdefs.New(errdefs.KindNotFound, "snapshot %s not found", snapshotID)
	}
	return os.RemoveAll(dir)
}

// ids lists snapshot directory names sorted ascending (oldest first).
func (m *Manager) ids() ([]string, error) {
	entries, err := os.ReadDir(m.snapshotsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Manager) pruneLocked() error {
	ids, err := m.ids()
	if err != nil {
		return err
	}
	if len(ids) <= m.retention {
		return nil
	}
	for _, id := range ids[:len(ids)-m.retention] {
		if err := os.RemoveAll(m.snapshotDir(id)); err != nil {
			return err
		}
		m.logger.Debug().Str("snapshot_id", id).Msg("snapshot pruned")
	}
	return nil
}
