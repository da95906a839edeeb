package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-vista/internal/log"
)

// Options configures a Hub.
type Options struct {
	// Greeting produces the messages queued to a client right after it
	// joins, ahead of any broadcast (current status, live history).
	Greeting func() []Message

	// OnMessage is called on the client's read goroutine for every text
	// frame it sends.
	OnMessage func(c *Client, data []byte)

	// Buffer is the per-client queue length. Defaults to 64.
	Buffer int
}

// Hub owns a set of clients. A single goroutine (Run) mutates the set and
// is the only writer to client queues, so a queue is never written after
// it was closed.
type Hub struct {
	name   string
	opts   Options
	logger *slog.Logger

	join    chan *Client
	leave   chan *Client
	fanout  chan Message
	replies chan reply
	stopped chan struct{}

	mu      sync.RWMutex
	members map[*Client]struct{}
}

type reply struct {
	to  *Client
	msg Message
}

// New creates a hub. The name only appears in logs.
func New(name string, opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Hub{
		name:    name,
		opts:    opts,
		logger:  log.Component("hub").With("hub", name),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		fanout:  make(chan Message, 128),
		replies: make(chan reply, 32),
		stopped: make(chan struct{}),
		members: make(map[*Client]struct{}),
	}
}

// Run serves joins, leaves and broadcasts until ctx is done, then closes
// every client queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	defer func() {
		h.mu.Lock()
		for c := range h.members {
			h.drop(c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.join:
			h.mu.Lock()
			h.members[c] = struct{}{}
			n := len(h.members)
			h.mu.Unlock()
			if h.opts.Greeting != nil {
				for _, m := range h.opts.Greeting() {
					c.offer(m)
				}
			}
			h.logger.Debug("client joined", "client", c.ID, "clients", n)

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.members[c]; ok {
				h.drop(c)
			}
			n := len(h.members)
			h.mu.Unlock()
			h.logger.Debug("client left", "client", c.ID, "clients", n)

		case r := <-h.replies:
			h.mu.RLock()
			if _, ok := h.members[r.to]; ok {
				r.to.offer(r.msg)
			}
			h.mu.RUnlock()

		case m := <-h.fanout:
			h.mu.Lock()
			for c := range h.members {
				if c.offer(m) {
					continue
				}
				// A skipped overlay frame is replaced by the next one; a
				// client that cannot keep up with text is disconnected.
				if m.Kind == Text {
					h.drop(c)
					h.logger.Warn("dropped slow client", "client", c.ID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c and closes its queue. Caller holds h.mu.
func (h *Hub) drop(c *Client) {
	delete(h.members, c)
	close(c.queue)
}

// Broadcast queues m for every client. It never blocks; when the hub is
// backed up the message is discarded.
func (h *Hub) Broadcast(m Message) {
	select {
	case h.fanout <- m:
	default:
		h.logger.Warn("broadcast queue full, message discarded", "kind", m.Kind)
	}
}

// BroadcastBinary broadcasts raw bytes, e.g. a composited overlay frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(BinaryMessage(data))
}

// SendTo queues m for c alone. It is discarded if c has already left.
func (h *Hub) SendTo(c *Client, m Message) {
	select {
	case h.replies <- reply{to: c, msg: m}:
	default:
		h.logger.Warn("reply queue full, message discarded", "client", c.ID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}
