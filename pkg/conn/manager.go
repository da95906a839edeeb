// Package conn owns the persistent connection between the vista client and
// the detection backend.
//
// A Manager keeps one websocket open to a fixed endpoint, reconnecting with
// exponential backoff whenever it drops, until Close is called. Outbound
// frames go through a single pending slot: a newer frame replaces an unsent
// older one, so the backend always works on the freshest image. Inbound
// payloads are fanned out to subscribers tagged with the connection epoch.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-vista/internal/log"
)

// Default connection parameters.
const (
	DefaultBaseDelay        = 1 * time.Second
	DefaultMaxDelay         = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultReadLimit        = 1 << 20
)

// Config configures a Manager.
type Config struct {
	URL    string
	Header http.Header

	BaseDelay time.Duration
	MaxDelay  time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PongWait bounds how long the connection may stay silent. Pings are
	// sent every 9/10 of it.
	PongWait  time.Duration
	ReadLimit int64

	Logger *slog.Logger
}

// DefaultConfig returns a Config for url with default timings.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		PongWait:         DefaultPongWait,
		ReadLimit:        DefaultReadLimit,
	}
}

// Manager is a reconnecting websocket client.
type Manager struct {
	cfg     Config
	backoff Backoff
	dialer  websocket.Dialer
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	epoch    uint64
	conn     *websocket.Conn
	connDone chan struct{} // closed when the current connection is dropped
	pending  []byte
	handlers []handlerEntry
	nextID   int
	watchers []func(Transition)
	queue    []Transition

	wake   chan struct{}
	notify chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	dispatchOnce sync.Once
	dispatchQuit chan struct{}
	dispatchDone chan struct{}

	sent       atomic.Uint64
	dropped    atomic.Uint64
	received   atomic.Uint64
	ignored    atomic.Uint64
	reconnects atomic.Uint64
	failures   atomic.Uint64
}

type handlerEntry struct {
	id int
	fn Handler
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	def := DefaultConfig(cfg.URL)
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}

	return &Manager{
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:       logger.With("component", "conn", "url", cfg.URL),
		state:        Disconnected,
		wake:         make(chan struct{}, 1),
		notify:       make(chan struct{}, 1),
		dispatchQuit: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}, nil
}

// Open starts the connection. The first handshake is attempted before Open
// returns; if it fails the Manager moves to Reconnecting and keeps retrying
// in the background, so dial failures are reported through OnStateChange
// rather than as an error. Cancelling ctx has the same effect as Close.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return ErrClosed
	case Disconnected:
	default:
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.setStateLocked(Connecting, nil)
	m.wg.Add(1)
	m.mu.Unlock()

	m.startDispatch()

	// Close on parent cancellation.
	go func() {
		defer m.wg.Done()
		<-m.ctx.Done()
		go m.Close()
	}()

	c, err := m.dial()
	if err != nil {
		m.logger.Warn("initial connect failed", "error", err)
		m.mu.Lock()
		if m.state == Connecting {
			m.failures.Add(1)
			m.setStateLocked(Reconnecting, err)
			m.wg.Add(1)
			go m.reconnectLoop()
		}
		m.mu.Unlock()
		return nil
	}
	m.install(c, false)
	return nil
}

// Send queues a frame for transmission without blocking. It returns false
// when the frame was dropped because the connection is not up. A frame
// still waiting in the pending slot is replaced and counted as dropped.
func (m *Manager) Send(frame []byte) bool {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		m.dropped.Add(1)
		return false
	}
	if m.pending != nil {
		m.dropped.Add(1)
	}
	m.pending = frame
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Subscribe registers h for inbound payloads. Handlers run on the read
// goroutine in subscription order and must not block. The returned function
// removes the subscription.
func (m *Manager) Subscribe(h Handler) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, handlerEntry{id: id, fn: h})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.handlers {
			if e.id == id {
				m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn to observe every state transition. Transitions
// are delivered in order on a dedicated goroutine; fn must not call Close.
func (m *Manager) OnStateChange(fn func(Transition)) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the epoch of the current (or last) connection.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Sent:       m.sent.Load(),
		Dropped:    m.dropped.Load(),
		Received:   m.received.Load(),
		Ignored:    m.ignored.Load(),
		Reconnects: m.reconnects.Load(),
		Failures:   m.failures.Load(),
	}
}

// Close tears down the connection and stops reconnecting. It is idempotent
// and waits for all background goroutines, so once it returns no further
// dial attempts happen and every transition has been delivered.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		c := m.conn
		m.conn = nil
		m.pending = nil
		if m.connDone != nil {
			close(m.connDone)
			m.connDone = nil
		}
		m.setStateLocked(Closed, nil)
		m.mu.Unlock()

		if c != nil {
			c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.Close()
		}

		m.wg.Wait()
		m.startDispatch()
		close(m.dispatchQuit)
		<-m.dispatchDone
		m.logger.Info("connection closed")
	})
	return nil
}

func (m *Manager) dial() (*websocket.Conn, error) {
	c, resp, err := m.dialer.DialContext(m.ctx, m.cfg.URL, m.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return c, nil
}

// install makes c the live connection and starts its pumps. If the Manager
// was closed while dialing, c is discarded.
func (m *Manager) install(c *websocket.Conn, reconnect bool) {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		c.Close()
		return
	}
	m.epoch++
	epoch := m.epoch
	done := make(chan struct{})
	m.conn = c
	m.connDone = done
	m.pending = nil
	if reconnect {
		m.reconnects.Add(1)
	}
	m.setStateLocked(Connected, nil)
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Info("connected", "epoch", epoch, "reconnect", reconnect)

	go m.readPump(c, epoch)
	go m.writePump(c, epoch, done)
}

// drop handles an unexpected failure of the connection with the given epoch.
// Only the first failure for an epoch has an effect.
func (m *Manager) drop(epoch uint64, cause error) {
	m.mu.Lock()
	if m.state != Connected || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	c := m.conn
	m.conn = nil
	m.pending = nil
	close(m.connDone)
	m.connDone = nil
	m.failures.Add(1)
	m.setStateLocked(Reconnecting, cause)
	m.wg.Add(1)
	go m.reconnectLoop()
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	m.logger.Warn("connection lost", "epoch", epoch, "error", cause)
}

// reconnectLoop dials with exponential backoff until it succeeds or the
// Manager is closed.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		delay := m.backoff.Delay(attempt)
		m.logger.Info("attempting to reconnect", "delay", delay, "attempt", attempt+1)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c, err := m.dial()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.failures.Add(1)
			m.logger.Warn("reconnect failed", "error", err)
			continue
		}
		m.install(c, true)
		return
	}
}

// readPump reads inbound payloads until the connection fails.
func (m *Manager) readPump(c *websocket.Conn, epoch uint64) {
	defer m.wg.Done()

	c.SetReadLimit(m.cfg.ReadLimit)
	c.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		return nil
	})

	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			m.drop(epoch, err)
			return
		}
		c.SetReadDeadline(time.Now().Add(m.cfg.PongWait))

		m.mu.Lock()
		live := m.state == Connected && m.epoch == epoch
		handlers := make([]handlerEntry, len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()

		if !live {
			m.ignored.Add(1)
			continue
		}
		m.received.Add(1)
		for _, h := range handlers {
			h.fn(epoch, payload)
		}
	}
}

// writePump is the only writer on c. It drains the pending slot and sends
// keepalive pings.
func (m *Manager) writePump(c *websocket.Conn, epoch uint64, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-m.wake:
			m.mu.Lock()
			if m.epoch != epoch || m.state != Connected {
				m.mu.Unlock()
				return
			}
			frame := m.pending
			m.pending = nil
			m.mu.Unlock()
			if frame == nil {
				continue
			}

			c.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				m.drop(epoch, fmt.Errorf("write frame: %w", err))
				return
			}
			m.sent.Add(1)

		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.drop(epoch, fmt.Errorf("keepalive ping: %w", err))
				return
			}
		}
	}
}

// setStateLocked records a transition for delivery. m.mu must be held.
func (m *Manager) setStateLocked(to State, cause error) {
	if m.state == to {
		return
	}
	m.queue = append(m.queue, Transition{From: m.state, To: to, Err: cause})
	m.state = to
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) startDispatch() {
	m.dispatchOnce.Do(func() {
		go m.dispatch()
	})
}

// dispatch delivers queued transitions to watchers in order.
func (m *Manager) dispatch() {
	defer close(m.dispatchDone)
	for {
		select {
		case <-m.notify:
			m.deliver()
		case <-m.dispatchQuit:
			m.deliver()
			return
		}
	}
}

func (m *Manager) deliver() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		t := m.queue[0]
		m.queue = m.queue[1:]
		watchers := make([]func(Transition), len(m.watchers))
		copy(watchers, m.watchers)
		m.mu.Unlock()

		m.logger.Debug("state change", "from", t.From, "to", t.To)
		for _, fn := range watchers {
			fn(t)
		}
	}
}
