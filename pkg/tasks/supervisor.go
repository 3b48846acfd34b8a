package tasks

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/store"
	"github.com/kaspa-aio/controller/pkg/types"
)

// defaultPollIntervalMs is used when a spec declares no cadence.
const defaultPollIntervalMs = 2000

// Checker reports the progress of one poll. It must not block beyond the
// poll interval.
type Checker func(task types.Task) types.TaskProgress

// Spec declares a background task to register.
type Spec struct {
	Kind           types.TaskKind
	ServiceID      string
	PollIntervalMs int
	Metadata       map[string]string
	Checker        Checker
	OnComplete     func() // runs once after the task completes
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Kind      types.TaskKind
	ServiceID string
	Status    types.TaskStatus
}

type managed struct {
	task       types.Task
	checker    Checker
	onComplete func()
	stopCh     chan struct{}
}

// Supervisor owns all background tasks. Each running task polls on its own
// goroutine; state mutation is serialized per task through the supervisor
// lock so pollers never block each other.
type Supervisor struct {
	bus    *events.Bus
	store  *store.Store // optional terminal-task archive
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*managed
}

// NewSupervisor creates a supervisor. st may be nil to disable archival.
func NewSupervisor(bus *events.Bus, st *store.Store) *Supervisor {
	return &Supervisor{
		bus:    bus,
		store:  st,
		logger: log.WithComponent("tasks"),
		tasks:  make(map[string]*managed),
	}
}

// Register records a new task in Pending state and returns its ID.
func (s *Supervisor) Register(spec Spec) (string, error) {
	if spec.Checker == nil {
		return "", errdefs.New(errdefs.KindValidation, "task spec has no checker")
	}
	if spec.Kind == "" {
		spec.Kind = types.TaskGeneric
	}
	if spec.PollIntervalMs <= 0 {
		spec.PollIntervalMs = defaultPollIntervalMs
	}

	task := types.Task{
		ID:             uuid.NewString(),
		Kind:           spec.Kind,
		ServiceID:      spec.ServiceID,
		Status:         types.TaskPending,
		Metadata:       spec.Metadata,
		PollIntervalMs: spec.PollIntervalMs,
	}

	s.mu.Lock()
	s.tasks[task.ID] = &managed{
		task:       task,
		checker:    spec.Checker,
		onComplete: spec.OnComplete,
		stopCh:     make(chan struct{}),
	}
	s.mu.Unlock()

	s.updateGauges()
	return task.ID, nil
}

// Start launches a pending task's poller.
func (s *Supervisor) Start(taskID string) error {
	s.mu.Lock()
	m, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return errdefs.New(errdefs.KindNotFound, "task %s not found", taskID)
	}
	if m.task.Status != types.TaskPending {
		status := m.task.Status
		s.mu.Unlock()
		return errdefs.New(errdefs.KindValidation, "task %s is %s, cannot start", taskID, status)
	}
	now := time.Now()
	m.task.Status = types.TaskRunning
	m.task.StartedAt = now
	m.task.LastUpdate = now
	task := m.task
	s.mu.Unlock()

	s.logger.Info().Str("task_id", taskID).Str("kind", string(task.Kind)).Msg("task started")
	s.publish(events.TypeTaskStarted, task)
	s.updateGauges()

	go s.poll(m)
	return nil
}

// Pause suspends a running task's polling without stopping its goroutine.
func (s *Supervisor) Pause(taskID string) error {
	task, err := s.transition(taskID, types.TaskRunning, types.TaskPaused)
	if err != nil {
		return err
	}
	s.publish(events.TypeTaskPaused, task)
	s.updateGauges()
	return nil
}

// Resume continues a paused task.
func (s *Supervisor) Resume(taskID string) error {
	task, err := s.transition(taskID, types.TaskPaused, types.TaskRunning)
	if err != nil {
		return err
	}
	s.publish(events.TypeTaskResumed, task)
	s.updateGauges()
	return nil
}

// Cancel terminates a non-terminal task.
func (s *Supervisor) Cancel(taskID string) error {
	s.mu.Lock()
	m, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return errdefs.New(errdefs.KindNotFound, "task %s not found", taskID)
	}
	if m.task.Status.Terminal() {
		status := m.task.Status
		s.mu.Unlock()
		return errdefs.New(errdefs.KindValidation, "task %s is already %s", taskID, status)
	}
	wasPending := m.task.Status == types.TaskPending
	m.task.Status = types.TaskCancelled
	m.task.LastUpdate = time.Now()
	task := m.task
	if !wasPending {
		close(m.stopCh)
	}
	s.mu.Unlock()

	s.logger.Info().Str("task_id", taskID).Msg("task cancelled")
	s.publish(events.TypeTaskCancelled, task)
	s.archive(task)
	s.updateGauges()
	return nil
}

// Get returns a task by ID.
func (s *Supervisor) Get(taskID string) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tasks[taskID]
	if !ok {
		return types.Task{}, errdefs.New(errdefs.KindNotFound, "task %s not found", taskID)
	}
	return m.task, nil
}

// List returns tasks matching the filter, oldest registration first.
func (s *Supervisor) List(filter Filter) []types.Task {
	s.mu.Lock()
	out := make([]types.Task, 0, len(s.tasks))
	for _, m := range s.tasks {
		t := m.task
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		if filter.ServiceID != "" && t.ServiceID != filter.ServiceID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Cleanup drops terminal tasks whose last update is older than the
// threshold. Archived records in the store survive.
func (s *Supervisor) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, m := range s.tasks {
		if m.task.Status.Terminal() && m.task.LastUpdate.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// transition moves a task from one status to another under the lock.
func (s *Supervisor) transition(taskID string, from, to types.TaskStatus) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.tasks[taskID]
	if !ok {
		return types.Task{}, errdefs.New(errdefs.KindNotFound, "task %s not found", taskID)
	}
	if m.task.Status != from {
		return types.Task{}, errdefs.New(errdefs.KindValidation,
			"task %s is %s, want %s", taskID, m.task.Status, from)
	}
	m.task.Status = to
	m.task.LastUpdate = time.Now()
	return m.task, nil
}

// poll is the per-task goroutine. Paused tasks keep ticking but skip the
// checker.
func (s *Supervisor) poll(m *managed) {
	ticker := time.NewTicker(time.Duration(m.task.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if done := s.pollOnce(m); done {
				return
			}
		case <-m.stopCh:
			return
		}
	}
}

// pollOnce runs one checker invocation and applies its outcome. Returns true
// when the task reached a terminal state.
func (s *Supervisor) pollOnce(m *managed) bool {
	s.mu.Lock()
	if m.task.Status != types.TaskRunning {
		terminal := m.task.Status.Terminal()
		s.mu.Unlock()
		return terminal
	}
	snapshot := m.task
	s.mu.Unlock()

	progress := m.checker(snapshot)

	s.mu.Lock()
	if m.task.Status != types.TaskRunning {
		// Cancelled while the checker ran; its result is void.
		terminal := m.task.Status.Terminal()
		s.mu.Unlock()
		return terminal
	}
	m.task.ProgressPct = progress.Progress
	m.task.LastUpdate = time.Now()
	for k, v := range progress.Metadata {
		if m.task.Metadata == nil {
			m.task.Metadata = make(map[string]string)
		}
		m.task.Metadata[k] = v
	}

	switch {
	case progress.Error != "":
		m.task.Status = types.TaskError
		m.task.Error = progress.Error
	case progress.Completed:
		m.task.Status = types.TaskComplete
		m.task.ProgressPct = 100
	}
	task := m.task
	onComplete := m.onComplete
	s.mu.Unlock()

	switch task.Status {
	case types.TaskError:
		s.logger.Warn().Str("task_id", task.ID).Str("error", task.Error).Msg("task failed")
		s.publish(events.TypeTaskError, task)
		s.archive(task)
		s.updateGauges()
		return true
	case types.TaskComplete:
		s.logger.Info().Str("task_id", task.ID).Msg("task complete")
		s.publish(events.TypeTaskComplete, task)
		if onComplete != nil {
			onComplete()
		}
		s.archive(task)
		s.updateGauges()
		return true
	default:
		s.publish(events.TypeTaskProgress, task)
		return false
	}
}

func (s *Supervisor) publish(msgType string, task types.Task) {
	s.bus.Publish(events.SubTasks, msgType, task)
}

func (s *Supervisor) archive(task types.Task) {
	if s.store == nil {
		return
	}
	if err := s.store.ArchiveTask(&task); err != nil {
		s.logger.Debug().Err(err).Str("task_id", task.ID).Msg("failed to archive task")
	}
}

func (s *Supervisor) updateGauges() {
	s.mu.Lock()
	counts := make(map[types.TaskStatus]int)
	for _, m := range s.tasks {
		counts[m.task.Status]++
	}
	s.mu.Unlock()

	metrics.TasksTotal.Reset()
	for status, n := range counts {
		metrics.TasksTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
