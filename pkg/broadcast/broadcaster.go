package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kaspa-aio/controller/pkg/events"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/metrics"
	"github.com/kaspa-aio/controller/pkg/tasks"
	"github.com/kaspa-aio/controller/pkg/types"
)

// TypeInitialData is the synthetic snapshot a new subscriber receives.
const TypeInitialData = "initial_data"

// ServicesSource supplies current service observations.
type ServicesSource interface {
	Observations() []types.ServiceObservation
}

// ResourceSource supplies the latest resource sample.
type ResourceSource interface {
	Latest() (types.ResourceSample, bool)
}

// TaskRegistrar starts a background task of the given kind for a service and
// returns the task ID. Wired by the daemon; kinds it does not recognize fail
// with an error.
type TaskRegistrar func(kind, serviceID string) (string, error)

// Options tunes the broadcast cadences.
type Options struct {
	UpdateInterval time.Duration // periodic cadence for visible clients
	HiddenInterval time.Duration // resources cadence when every client is backgrounded
}

// DefaultOptions returns the standard cadences.
func DefaultOptions() Options {
	return Options{
		UpdateInterval: 5 * time.Second,
		HiddenInterval: 20 * time.Second,
	}
}

// Broadcaster owns the WebSocket clients. It relays bus events to matching
// subscribers and pushes periodic service and resource updates with change
// detection and per-subscription deduplication.
type Broadcaster struct {
	services  ServicesSource
	sampler   ResourceSource
	tasks     *tasks.Supervisor
	registrar TaskRegistrar
	bus       *events.Bus
	opts      Options
	logger    zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]bool

	// change detection and dedup state
	lastServices    map[string][2]string // serviceId -> {state, health}
	lastResources   *types.ResourceSample
	lastServiceSent time.Time
	lastResSent     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a broadcaster.
func New(services ServicesSource, sampler ResourceSource, supervisor *tasks.Supervisor, bus *events.Bus, opts Options) *Broadcaster {
	if opts.UpdateInterval == 0 {
		opts = DefaultOptions()
	}
	return &Broadcaster{
		services: services,
		sampler:  sampler,
		tasks:    supervisor,
		bus:      bus,
		opts:     opts,
		logger:   log.WithComponent("broadcast"),
		clients:  make(map[*Client]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WithTaskRegistrar enables the task:register command.
func (b *Broadcaster) WithTaskRegistrar(fn TaskRegistrar) *Broadcaster {
	b.registrar = fn
	return b
}

// Start begins relaying bus events and the periodic broadcast loop.
func (b *Broadcaster) Start() {
	sub := b.bus.Subscribe("*")
	go b.run(sub)
}

// Stop disconnects from the bus and waits for the loop to exit. Connected
// clients are closed by their handlers.
func (b *Broadcaster) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *Broadcaster) run(sub *events.Subscriber) {
	defer close(b.doneCh)
	defer b.bus.Unsubscribe(sub)

	// A fine-grained tick lets the resources cadence stretch when every
	// client reports a hidden tab.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sub.C():
			for {
				msg, ok := sub.Next()
				if !ok {
					break
				}
				b.relay(msg)
			}
		case <-ticker.C:
			b.periodic()
		case <-b.stopCh:
			return
		}
	}
}

// relay forwards one bus event to every subscribed client. A services change
// also refreshes the change-detection state so the periodic push stays
// quiet.
func (b *Broadcaster) relay(msg events.Message) {
	if msg.Subscription == events.SubServices {
		b.BroadcastServices()
		return
	}
	b.fanOut(msg)
}

// periodic pushes services and resources on their cadences.
func (b *Broadcaster) periodic() {
	now := time.Now()

	b.mu.Lock()
	serviceDue := now.Sub(b.lastServiceSent) >= b.opts.UpdateInterval
	resInterval := b.opts.UpdateInterval
	if b.allHiddenLocked() {
		resInterval = b.opts.HiddenInterval
	}
	resourceDue := now.Sub(b.lastResSent) >= resInterval
	b.mu.Unlock()

	if serviceDue {
		b.BroadcastServices()
	}
	if resourceDue {
		b.BroadcastResources()
	}
}

// BroadcastServices pushes the current observations if they moved since the
// last broadcast, and refreshes the dedup state either way.
func (b *Broadcaster) BroadcastServices() {
	observations := b.services.Observations()

	fingerprint := make(map[string][2]string, len(observations))
	for _, obs := range observations {
		fingerprint[obs.ServiceID] = [2]string{string(obs.State), string(obs.Health)}
	}

	b.mu.Lock()
	changed := b.lastServices == nil || !sameFingerprint(b.lastServices, fingerprint)
	stale := time.Since(b.lastServiceSent) >= b.opts.UpdateInterval
	if !changed && !stale {
		b.mu.Unlock()
		return
	}
	b.lastServices = fingerprint
	b.lastServiceSent = time.Now()
	b.mu.Unlock()

	b.fanOut(events.Message{
		Type:         events.TypeServiceChanged,
		Subscription: events.SubServices,
		Data:         observations,
		TS:           time.Now(),
	})
}

// BroadcastResources pushes the latest sample if it moved materially: any of
// the percentages differ from the last broadcast by 5 points or more. The
// periodic cadence calls this unconditionally so staleness is bounded.
func (b *Broadcaster) BroadcastResources() {
	sample, ok := b.sampler.Latest()
	if !ok {
		return
	}

	b.mu.Lock()
	if b.lastResources != nil && !materialResourceChange(*b.lastResources, sample) &&
		time.Since(b.lastResSent) < b.opts.UpdateInterval {
		b.mu.Unlock()
		return
	}
	b.lastResources = &sample
	b.lastResSent = time.Now()
	b.mu.Unlock()

	b.fanOut(events.Message{
		Type:         events.TypeResourceSample,
		Subscription: events.SubResources,
		Data:         sample,
		TS:           time.Now(),
	})
}

// materialResourceChange reports whether a sample differs from the previous
// broadcast by at least 5 absolute percentage points on any axis.
func materialResourceChange(prev, cur types.ResourceSample) bool {
	const step = 5.0
	return abs(cur.CPUPct-prev.CPUPct) >= step ||
		abs(cur.MemPct-prev.MemPct) >= step ||
		abs(cur.DiskPct-prev.DiskPct) >= step
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sameFingerprint(a, b map[string][2]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// fanOut queues a message on every client subscribed to its key.
func (b *Broadcaster) fanOut(msg events.Message) {
	b.mu.Lock()
	targets := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		if c.wants(msg.Subscription) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.send(msg)
	}
	if len(targets) > 0 {
		metrics.BroadcastsTotal.WithLabelValues(msg.Subscription).Add(float64(len(targets)))
	}
}

// allHiddenLocked reports whether every connected client signalled a hidden
// tab. No clients counts as not hidden.
func (b *Broadcaster) allHiddenLocked() bool {
	if len(b.clients) == 0 {
		return false
	}
	for c := range b.clients {
		if !c.isHidden() {
			return false
		}
	}
	return true
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Handler upgrades the request to a WebSocket and serves the client until
// disconnect.
func (b *Broadcaster) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host dashboard; origin enforcement is the proxy's job
	})
	if err != nil {
		b.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}

	client := newClient(uuid.NewString(), conn)
	b.attach(client)
	defer b.detach(client)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	go client.writeLoop(ctx)

	b.logger.Debug().Str("client_id", client.id).Msg("websocket client connected")
	b.readLoop(ctx, client)
	b.logger.Debug().Str("client_id", client.id).Msg("websocket client disconnected")
}

func (b *Broadcaster) attach(c *Client) {
	b.mu.Lock()
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()
	metrics.WebsocketClients.Set(float64(n))
}

func (b *Broadcaster) detach(c *Client) {
	c.close()
	b.mu.Lock()
	delete(b.clients, c)
	n := len(b.clients)
	b.mu.Unlock()
	metrics.WebsocketClients.Set(float64(n))
}

// command is one incoming client frame.
type command struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Kind      string `json:"kind,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
}

func (b *Broadcaster) readLoop(ctx context.Context, c *Client) {
	for {
		var cmd command
		if err := wsjson.Read(ctx, c.conn, &cmd); err != nil {
			c.close()
			return
		}
		b.handleCommand(c, cmd)
	}
}

func (b *Broadcaster) handleCommand(c *Client, cmd command) {
	switch cmd.Type {
	case "subscribe":
		c.subscribe(cmd.Channel)
		b.sendInitialData(c, cmd.Channel)
	case "unsubscribe":
		c.unsubscribe(cmd.Channel)
	case "visibility":
		c.setHidden(cmd.Hidden)
	case "task:register":
		if b.registrar == nil {
			b.sendError(c, "task:register", nil)
			return
		}
		id, err := b.registrar(cmd.Kind, cmd.ServiceID)
		if err != nil {
			b.sendError(c, "task:register", err)
			return
		}
		if task, err := b.tasks.Get(id); err == nil {
			c.send(events.Message{Type: "task:register", Subscription: events.SubTasks, Data: task, TS: time.Now()})
		}
	case "task:status":
		if task, err := b.tasks.Get(cmd.TaskID); err == nil {
			c.send(events.Message{Type: "task:status", Subscription: events.SubTasks, Data: task, TS: time.Now()})
		} else {
			b.sendError(c, "task:status", err)
		}
	case "task:cancel":
		if err := b.tasks.Cancel(cmd.TaskID); err != nil {
			b.sendError(c, "task:cancel", err)
		}
	case "tasks:list":
		c.send(events.Message{Type: "tasks:list", Subscription: events.SubTasks, Data: b.tasks.List(tasks.Filter{}), TS: time.Now()})
	case "sync:pause":
		if err := b.tasks.Pause(cmd.TaskID); err != nil {
			b.sendError(c, "sync:pause", err)
		} else {
			b.bus.Publish(events.SubSync, events.TypeSyncPause, map[string]any{"taskId": cmd.TaskID})
		}
	case "sync:resume":
		if err := b.tasks.Resume(cmd.TaskID); err != nil {
			b.sendError(c, "sync:resume", err)
		} else {
			b.bus.Publish(events.SubSync, events.TypeSyncResume, map[string]any{"taskId": cmd.TaskID})
		}
	default:
		b.sendError(c, cmd.Type, nil)
	}
}

// sendInitialData delivers the synthetic snapshot a fresh subscription gets.
func (b *Broadcaster) sendInitialData(c *Client, channel string) {
	data := map[string]any{}
	if events.PatternMatches(channel, events.SubServices) {
		data["services"] = b.services.Observations()
	}
	if events.PatternMatches(channel, events.SubResources) {
		if sample, ok := b.sampler.Latest(); ok {
			data["resources"] = sample
		}
	}
	if events.PatternMatches(channel, events.SubTasks) {
		data["tasks"] = b.tasks.List(tasks.Filter{})
	}
	c.send(events.Message{
		Type:         TypeInitialData,
		Subscription: channel,
		Data:         data,
		TS:           time.Now(),
	})
}

func (b *Broadcaster) sendError(c *Client, op string, err error) {
	data := map[string]any{"op": op}
	if err != nil {
		data["error"] = err.Error()
	} else {
		data["error"] = "unsupported command"
	}
	c.send(events.Message{Type: "error", Data: data, TS: time.Now()})
}
