package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription keys published by the controller's subsystems.
const (
	SubServices  = "updates:services"
	SubResources = "updates:resources"
	SubSync      = "sync"
	SubTasks     = "tasks"
	SubAlerts    = "alerts"
	SubUpdates   = "updates:pipeline"
)

// Well-known message types.
const (
	TypeServiceChanged = "service:changed"
	TypeResourceSample = "resource:sample"

	TypeSyncRequired       = "sync:required"
	TypeSyncStrategyChosen = "sync:strategy-chosen"
	TypeSyncProgress       = "sync:progress"
	TypeSyncPause          = "sync:pause"
	TypeSyncResume         = "sync:resume"
	TypeSyncComplete       = "sync:complete"
	TypeSyncError          = "sync:error"
	TypeNodeReady          = "node:ready"

	TypeTaskStarted   = "task:started"
	TypeTaskProgress  = "task:progress"
	TypeTaskPaused    = "task:paused"
	TypeTaskResumed   = "task:resumed"
	TypeTaskComplete  = "task:complete"
	TypeTaskError     = "task:error"
	TypeTaskCancelled = "task:cancelled"

	TypeUpdateStarted     = "update:started"
	TypeUpdateProgress    = "update:progress"
	TypeUpdateServiceDone = "update:service-done"
	TypeUpdateComplete    = "update:complete"
	TypeUpdateFailed      = "update:failed"

	TypeAlertRaised    = "alert:raised"
	TypeAlertRecovered = "alert:recovered"
)

// Message is one published event.
type Message struct {
	Type         string    `json:"type"`
	Subscription string    `json:"subscription"`
	Data         any       `json:"data"`
	TS           time.Time `json:"ts"`
}

// defaultQueueBound is how many undelivered messages a subscriber may
// accumulate before the oldest is dropped.
const defaultQueueBound = 256

// Subscriber receives messages matching its patterns. Within one
// subscription key, messages arrive in publish order; when the subscriber
// falls behind the bound, the oldest pending message is dropped and the
// client resynchronizes on the next periodic broadcast.
type Subscriber struct {
	ID       string
	patterns []string

	mu      sync.Mutex
	queue   []Message
	notify  chan struct{}
	closed  bool
	dropped uint64
}

// C returns a channel that signals when messages are pending. Drain with
// Next.
func (s *Subscriber) C() <-chan struct{} { return s.notify }

// Next pops the oldest pending message.
func (s *Subscriber) Next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Message{}, false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true
}

// Dropped returns how many messages were discarded due to backpressure.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// matches reports whether the subscriber wants the given subscription key.
func (s *Subscriber) matches(subscription string) bool {
	for _, p := range s.patterns {
		if PatternMatches(p, subscription) {
			return true
		}
	}
	return false
}

// PatternMatches reports whether a subscription pattern matches a key. A
// pattern "sync:*" matches every key beginning with "sync"; "*" matches
// everything.
func PatternMatches(pattern, subscription string) bool {
	if pattern == "*" || pattern == subscription {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok && strings.HasPrefix(subscription, prefix) {
		return true
	}
	return false
}

func (s *Subscriber) push(msg Message, bound int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= bound {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus is the single-process publisher/subscriber fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bound       int
}

// NewBus creates a bus with the default per-subscriber queue bound.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		bound:       defaultQueueBound,
	}
}

// Subscribe registers a subscriber for the given subscription patterns.
func (b *Bus) Subscribe(patterns ...string) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		patterns: patterns,
		notify:   make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.ID)
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.queue = nil
	sub.mu.Unlock()
}

// Publish delivers a message to every matching subscriber.
func (b *Bus) Publish(subscription, msgType string, data any) {
	msg := Message{
		Type:         msgType,
		Subscription: subscription,
		Data:         data,
		TS:           time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.matches(subscription) {
			sub.push(msg, b.bound)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
