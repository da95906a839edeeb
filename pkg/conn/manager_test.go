package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// echoServer replies to every binary frame with a text message carrying the
// frame bytes. dropFirst closes the first accepted connection immediately.
type echoServer struct {
	*httptest.Server
	accepted  atomic.Int32
	dropFirst bool
}

func newEchoServer(t *testing.T, dropFirst bool) *echoServer {
	t.Helper()
	s := &echoServer{dropFirst: dropFirst}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := s.accepted.Add(1)
		if s.dropFirst && n == 1 {
			return
		}
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.MaxDelay = 40 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	return cfg
}

// recorder collects transitions.
type recorder struct {
	mu sync.Mutex
	ts []Transition
}

func (r *recorder) add(t Transition) {
	r.mu.Lock()
	r.ts = append(r.ts, t)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.ts))
	for i, t := range r.ts {
		out[i] = t.To
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewManagerRequiresURL(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrNoURL) {
		t.Errorf("NewManager() error = %v, want ErrNoURL", err)
	}
}

func TestOpenSendReceive(t *testing.T) {
	srv := newEchoServer(t, false)
	m, err := NewManager(testConfig(srv.wsURL()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	got := make(chan string, 1)
	var gotEpoch atomic.Uint64
	m.Subscribe(func(epoch uint64, payload []byte) {
		gotEpoch.Store(epoch)
		got <- string(payload)
	})

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s := m.State(); s != Connected {
		t.Fatalf("State() = %v, want Connected", s)
	}
	if !m.Send([]byte("frame-1")) {
		t.Fatal("Send() = false on a live connection")
	}

	select {
	case p := <-got:
		if p != "frame-1" {
			t.Errorf("payload = %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
	if e := gotEpoch.Load(); e != 1 {
		t.Errorf("epoch = %d, want 1", e)
	}
	if st := m.Stats(); st.Sent != 1 || st.Received != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSubscribersCalledInOrder(t *testing.T) {
	srv := newEchoServer(t, false)
	m, _ := NewManager(testConfig(srv.wsURL()))
	defer m.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	m.Subscribe(func(uint64, []byte) { mu.Lock(); order = append(order, 1); mu.Unlock() })
	unsub := m.Subscribe(func(uint64, []byte) { mu.Lock(); order = append(order, 2); mu.Unlock() })
	m.Subscribe(func(uint64, []byte) { mu.Lock(); order = append(order, 3); mu.Unlock(); close(done) })
	unsub()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Send([]byte("x"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("order = %v, want [1 3]", order)
	}
}

func TestStateTransitionsAndClose(t *testing.T) {
	srv := newEchoServer(t, false)
	m, _ := NewManager(testConfig(srv.wsURL()))
	rec := &recorder{}
	m.OnStateChange(rec.add)

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Close()
	m.Close() // idempotent

	want := []State{Connecting, Connected, Closed}
	got := rec.states()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}

	if err := m.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close = %v, want ErrClosed", err)
	}
	if m.Send([]byte("late")) {
		t.Error("Send() after Close = true")
	}
}

func TestOpenTwice(t *testing.T) {
	srv := newEchoServer(t, false)
	m, _ := NewManager(testConfig(srv.wsURL()))
	defer m.Close()
	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open() = %v, want ErrAlreadyOpen", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := newEchoServer(t, true)
	m, _ := NewManager(testConfig(srv.wsURL()))
	defer m.Close()
	rec := &recorder{}
	m.OnStateChange(rec.add)

	echoed := make(chan uint64, 4)
	m.Subscribe(func(epoch uint64, _ []byte) { echoed <- epoch })

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "second connection", func() bool {
		return m.State() == Connected && m.Epoch() == 2
	})

	if !m.Send([]byte("after")) {
		t.Fatal("Send() after reconnect = false")
	}
	select {
	case e := <-echoed:
		if e != 2 {
			t.Errorf("echo epoch = %d, want 2", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo after reconnect")
	}

	if st := m.Stats(); st.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", st.Reconnects)
	}
	waitFor(t, "transitions delivered", func() bool { return len(rec.states()) >= 4 })
	want := []State{Connecting, Connected, Reconnecting, Connected}
	for i, s := range rec.states()[:4] {
		if s != want[i] {
			t.Errorf("transition %d = %v, want %v", i, s, want[i])
		}
	}
}

func TestFramesDuringGapAreDropped(t *testing.T) {
	m, _ := NewManager(testConfig("ws://127.0.0.1:1/unused"))
	// Simulate a severed connection without any network.
	m.state = Reconnecting
	m.pending = nil

	if m.Send([]byte("gap")) {
		t.Error("Send() while Reconnecting = true")
	}
	if m.pending != nil {
		t.Error("frame buffered during gap")
	}
	if d := m.Stats().Dropped; d != 1 {
		t.Errorf("Dropped = %d, want 1", d)
	}
}

func TestSendOverwritesPending(t *testing.T) {
	m, _ := NewManager(testConfig("ws://127.0.0.1:1/unused"))
	m.state = Connected // no write pump running, so frames stay pending

	m.Send([]byte("a"))
	m.Send([]byte("b"))
	m.Send([]byte("c"))

	if string(m.pending) != "c" {
		t.Errorf("pending = %q, want c", m.pending)
	}
	if d := m.Stats().Dropped; d != 2 {
		t.Errorf("Dropped = %d, want 2", d)
	}
}

func TestInitialDialFailureKeepsRetrying(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, _ := NewManager(testConfig("ws" + strings.TrimPrefix(srv.URL, "http")))
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	waitFor(t, "retries", func() bool { return attempts.Load() >= 3 })
	if s := m.State(); s != Reconnecting {
		t.Errorf("State() = %v, want Reconnecting", s)
	}

	m.Close()
	n := attempts.Load()
	time.Sleep(100 * time.Millisecond)
	if attempts.Load() != n {
		t.Error("dial attempts continued after Close")
	}
}

func TestContextCancelCloses(t *testing.T) {
	srv := newEchoServer(t, false)
	m, _ := NewManager(testConfig(srv.wsURL()))
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Open(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, "Closed", func() bool { return m.State() == Closed })
	m.Close()
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Disconnected: "Disconnected",
		Connecting:   "Connecting",
		Connected:    "Connected",
		Reconnecting: "Reconnecting",
		Closed:       "Closed",
		State(42):    "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
