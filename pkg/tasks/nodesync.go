package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/kaspa-aio/controller/pkg/syncmgr"
	"github.com/kaspa-aio/controller/pkg/types"
)

// nodeSyncPollMs is the cadence of node-sync progress polls.
const nodeSyncPollMs = 5000

// StartNodeSync registers and starts a node-sync task whose checker
// delegates to the sync manager. When autoSwitch is true, switchBack runs on
// completion to flip the service configuration from the public fallback to
// the local node.
func (s *Supervisor) StartNodeSync(mgr *syncmgr.Manager, serviceID string, autoSwitch bool, switchBack func() error) (string, error) {
	checker := func(task types.Task) types.TaskProgress {
		ctx, cancel := context.WithTimeout(context.Background(), nodeSyncPollMs*time.Millisecond)
		defer cancel()

		status, err := mgr.Probe(ctx)
		if err != nil {
			// Transient RPC failures keep the task alive; the next poll
			// retries.
			return types.TaskProgress{Progress: task.ProgressPct}
		}

		progress := types.TaskProgress{
			Completed: status.IsSynced,
			Progress:  status.ProgressPct,
			Metadata: map[string]string{
				"blockCount":  fmt.Sprintf("%d", status.BlockCount),
				"headerCount": fmt.Sprintf("%d", status.HeaderCount),
				"etaText":     status.ETAText,
			},
		}
		return progress
	}

	var onComplete func()
	if autoSwitch && switchBack != nil {
		onComplete = func() {
			if err := switchBack(); err != nil {
				s.logger.Error().Err(err).Str("service_id", serviceID).
					Msg("failed to switch configuration back to local node")
			}
		}
	}

	id, err := s.Register(Spec{
		Kind:           types.TaskNodeSync,
		ServiceID:      serviceID,
		PollIntervalMs: nodeSyncPollMs,
		Metadata:       map[string]string{"nodeKey": mgr.NodeKey()},
		Checker:        checker,
		OnComplete:     onComplete,
	})
	if err != nil {
		return "", err
	}
	return id, s.Start(id)
}

// Adopt re-inserts a persisted task record. Terminal records survive as
// read-only history; non-terminal records are re-registered by their owners
// with a fresh checker instead.
func (s *Supervisor) Adopt(task types.Task) {
	if !task.Status.Terminal() {
		return
	}
	s.mu.Lock()
	s.tasks[task.ID] = &managed{task: task, stopCh: make(chan struct{})}
	s.mu.Unlock()
	s.updateGauges()
}
