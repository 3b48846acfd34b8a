package broadcast

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kaspa-aio/controller/pkg/events"
)

// clientQueueBound is the outgoing buffer per client; beyond it messages are
// dropped and the client catches up on the next periodic broadcast.
const clientQueueBound = 64

// writeTimeout bounds one frame write.
const writeTimeout = 5 * time.Second

// Client is one connected WebSocket peer.
type Client struct {
	id   string
	conn *websocket.Conn

	mu            sync.Mutex
	subscriptions map[string]bool
	hidden        bool // peer reports a backgrounded UI

	outgoing chan events.Message
	closed   chan struct{}
	once     sync.Once
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		conn:          conn,
		subscriptions: make(map[string]bool),
		outgoing:      make(chan events.Message, clientQueueBound),
		closed:        make(chan struct{}),
	}
}

// subscribe adds a channel pattern.
func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	c.subscriptions[channel] = true
	c.mu.Unlock()
}

// unsubscribe removes a channel pattern.
func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// wants reports whether the client subscribed to a subscription key, with
// the same wildcard semantics the bus uses.
func (c *Client) wants(subscription string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pattern := range c.subscriptions {
		if events.PatternMatches(pattern, subscription) {
			return true
		}
	}
	return false
}

func (c *Client) setHidden(hidden bool) {
	c.mu.Lock()
	c.hidden = hidden
	c.mu.Unlock()
}

func (c *Client) isHidden() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hidden
}

// send queues a message, dropping it if the client is too far behind.
func (c *Client) send(msg events.Message) {
	select {
	case c.outgoing <- msg:
	case <-c.closed:
	default:
	}
}

// close makes writeLoop exit; safe to call more than once.
func (c *Client) close() {
	c.once.Do(func() { close(c.closed) })
}

// writeLoop drains the outgoing queue onto the socket.
func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.outgoing:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
