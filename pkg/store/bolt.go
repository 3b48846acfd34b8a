package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kaspa-aio/controller/pkg/types"
)

var (
	// Bucket names
	bucketAlerts      = []byte("alerts")
	bucketTaskArchive = []byte("task_archive")
	bucketSyncSamples = []byte("sync_samples")
)

// Store is the bbolt-backed side-state of the controller: alert history,
// the archive of terminal background tasks, and recent sync samples. Live
// declarative artifacts never go through here; those belong to the
// configstore.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the controller database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "controller.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAlerts, bucketTaskArchive, bucketSyncSamples} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeKey builds a lexically sortable key from a timestamp and an ID.
func timeKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + "/" + id)
}

// SaveAlert upserts an alert into the history.
func (s *Store) SaveAlert(alert *types.Alert) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		data, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		return b.Put(timeKey(alert.RaisedAt, alert.ID), data)
	})
}

// ListAlerts returns up to limit alerts, newest first.
func (s *Store) ListAlerts(limit int) ([]*types.Alert, error) {
	var alerts []*types.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAlerts).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			alerts = append(alerts, &alert)
			if limit > 0 && len(alerts) >= limit {
				return nil
			}
		}
		return nil
	})
	return alerts, err
}

// TrimAlerts keeps the newest keep alerts and deletes the rest.
func (s *Store) TrimAlerts(keep int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		total := b.Stats().KeyN
		if total <= keep {
			return nil
		}
		c := b.Cursor()
		toDelete := total - keep
		for k, _ := c.First(); k != nil && toDelete > 0; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
			toDelete--
		}
		return nil
	})
}

// ArchiveTask stores a terminal task as a read-only record.
func (s *Store) ArchiveTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskArchive)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put(timeKey(task.LastUpdate, task.ID), data)
	})
}

// ListArchivedTasks returns up to limit archived tasks, newest first.
func (s *Store) ListArchivedTasks(limit int) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTaskArchive).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			if limit > 0 && len(tasks) >= limit {
				return nil
			}
		}
		return nil
	})
	return tasks, err
}

// AppendSyncSample records one sync observation.
func (s *Store) AppendSyncSample(sample types.SyncSample) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncSamples)
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		return b.Put(timeKey(sample.SampledAt, sample.NodeKey), data)
	})
}

// ListSyncSamples returns samples for a node taken at or after since, oldest
// first.
func (s *Store) ListSyncSamples(nodeKey string, since time.Time) ([]types.SyncSample, error) {
	var samples []types.SyncSample
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncSamples).ForEach(func(k, v []byte) error {
			var sample types.SyncSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			if sample.NodeKey == nodeKey && !sample.SampledAt.Before(since) {
				samples = append(samples, sample)
			}
			return nil
		})
	})
	return samples, err
}

// PruneSyncSamples drops samples older than the cutoff.
func (s *Store) PruneSyncSamples(olderThan time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncSamples)
		c := b.Cursor()
		cutoff := []byte(olderThan.UTC().Format(time.RFC3339Nano))
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) < string(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
