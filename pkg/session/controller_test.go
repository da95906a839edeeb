package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/capture"
	"github.com/teslashibe/go-vista/pkg/conn"
	"github.com/teslashibe/go-vista/pkg/detection"
	"github.com/teslashibe/go-vista/pkg/navigation"
	"github.com/teslashibe/go-vista/pkg/protocol"
	"github.com/teslashibe/go-vista/pkg/speech"
)

// orderLog records teardown steps.
type orderLog struct {
	mu    sync.Mutex
	steps []string
}

func (o *orderLog) add(s string) {
	o.mu.Lock()
	o.steps = append(o.steps, s)
	o.mu.Unlock()
}

func (o *orderLog) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.steps...)
}

type fakeDevice struct {
	order  *orderLog
	seq    atomic.Uint64
	closed atomic.Bool
}

func (d *fakeDevice) Latest() (capture.Frame, bool) {
	if d.closed.Load() {
		return capture.Frame{}, false
	}
	return capture.Frame{Data: []byte{1, 2, 3}, Width: 640, Height: 480, Seq: d.seq.Add(1)}, true
}

func (d *fakeDevice) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.order.add("device")
	}
	return nil
}

func (d *fakeDevice) Apply(camera.Config) error { return nil }

type fakeEncoder struct{ applied atomic.Int32 }

func (e *fakeEncoder) Encode(capture.Frame) ([]byte, error) { return []byte("jpeg"), nil }
func (e *fakeEncoder) Apply(camera.Config)                  { e.applied.Add(1) }

type fakeChannel struct {
	order *orderLog

	mu       sync.Mutex
	state    conn.State
	handlers []conn.Handler
	watchers []func(conn.Transition)
	sent     int
	unsubs   atomic.Int32
}

// Open connects at once and, like conn.Manager, closes the channel when ctx
// is cancelled.
func (f *fakeChannel) Open(ctx context.Context) error {
	f.setState(conn.Connecting)
	f.setState(conn.Connected)
	go func() {
		<-ctx.Done()
		f.Close()
	}()
	return nil
}

func (f *fakeChannel) Send([]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != conn.Connected {
		return false
	}
	f.sent++
	return true
}

func (f *fakeChannel) Subscribe(h conn.Handler) func() {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
	return func() { f.unsubs.Add(1) }
}

func (f *fakeChannel) OnStateChange(fn func(conn.Transition)) {
	f.mu.Lock()
	f.watchers = append(f.watchers, fn)
	f.mu.Unlock()
}

func (f *fakeChannel) State() conn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Stats() conn.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return conn.Stats{Sent: uint64(f.sent)}
}

func (f *fakeChannel) Close() error {
	if f.State() == conn.Closed {
		return nil
	}
	f.order.add("channel")
	f.setState(conn.Closed)
	return nil
}

func (f *fakeChannel) setState(to conn.State) {
	f.mu.Lock()
	if f.state == to || f.state == conn.Closed {
		f.mu.Unlock()
		return
	}
	t := conn.Transition{From: f.state, To: to}
	f.state = to
	ws := append([]func(conn.Transition){}, f.watchers...)
	f.mu.Unlock()
	for _, w := range ws {
		w(t)
	}
}

func (f *fakeChannel) deliver(payload []byte) {
	f.mu.Lock()
	hs := append([]conn.Handler{}, f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(1, payload)
	}
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type countingCanvas struct{ paints atomic.Int32 }

func (c *countingCanvas) Begin(capture.Frame)                           {}
func (c *countingCanvas) StrokeRect(image.Rectangle, color.RGBA, int)   {}
func (c *countingCanvas) FillRect(image.Rectangle, color.RGBA)          {}
func (c *countingCanvas) Text(string, image.Point, color.RGBA, float64) {}
func (c *countingCanvas) TextWidth(s string, _ float64) int             { return len(s) * 8 }
func (c *countingCanvas) End()                                          { c.paints.Add(1) }

type fakeRouter struct{}

func (fakeRouter) Route(context.Context, navigation.Coord, navigation.Coord) ([]string, error) {
	return []string{"Head north"}, nil
}

type harness struct {
	ctrl    *Controller
	order   *orderLog
	device  *fakeDevice
	channel *fakeChannel
	encoder *fakeEncoder
	speech  *speech.Mock
	canvas  *countingCanvas
	opened  atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{order: &orderLog{}, encoder: &fakeEncoder{}, canvas: &countingCanvas{}}
	h.device = &fakeDevice{order: h.order}
	h.channel = &fakeChannel{order: h.order}

	order := h.order
	h.speech = speech.NewMock()
	h.speech.SpeakFunc = func(ctx context.Context, text string) error {
		<-ctx.Done()
		order.add("speech")
		return ctx.Err()
	}

	cfg := DefaultConfig()
	cfg.CaptureInterval = 5 * time.Millisecond
	cfg.RenderInterval = 5 * time.Millisecond
	cfg.Debounce = 10 * time.Millisecond
	cfg.NavigationInterval = time.Hour

	h.ctrl = New(cfg, Deps{
		OpenDevice: func(string, camera.Config) (Device, error) {
			h.opened.Add(1)
			return h.device, nil
		},
		NewEncoder:    func(camera.Config) Encoder { return h.encoder },
		NewTransport:  func() (conn.Transport, error) { return h.channel, nil },
		TransportName: "websocket",
		Speech:        h.speech,
		Canvas:        h.canvas,
		Router:        fakeRouter{},
		Locations: navigation.NewStaticLocations(
			navigation.Location{Name: "Home", Latitude: 37.7749, Longitude: -122.4194},
			navigation.Location{Name: "Shop", Latitude: 37.7849, Longitude: -122.4094},
		),
	}, nil)
	t.Cleanup(func() { h.ctrl.Stop() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func payload(t *testing.T, seq uint64, recs ...detection.Record) []byte {
	t.Helper()
	b, err := protocol.NewDetectionMessage(seq, 640, 480, recs).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func person(id string, x1, x2, height float64) detection.Record {
	return detection.Record{TrackID: id, Label: "person", Confidence: 0.9,
		BBox: detection.BBox{X1: x1, Y1: 10, X2: x2, Y2: 10 + height}}
}

func liveTexts(l *announce.LiveRegion) []string {
	var out []string
	for _, e := range l.History() {
		out = append(out, e.Text)
	}
	return out
}

func TestPermissionErrorNeverStarts(t *testing.T) {
	h := newHarness(t)
	var transports atomic.Int32
	h.ctrl.deps.OpenDevice = func(string, camera.Config) (Device, error) {
		return nil, &camera.OpenError{Device: 0, Err: camera.ErrPermissionDenied}
	}
	h.ctrl.deps.NewTransport = func() (conn.Transport, error) {
		transports.Add(1)
		return h.channel, nil
	}

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, camera.ErrPermissionDenied) {
		t.Fatalf("Start() = %v, want permission denied", err)
	}
	if transports.Load() != 0 {
		t.Error("channel created without a camera")
	}
	st := h.ctrl.Status()
	if st.Running() || st.LastError == "" {
		t.Errorf("Status() = %+v", st)
	}
	if cur, _ := h.ctrl.Live().Current(); !strings.Contains(cur.Text, "Camera unavailable") {
		t.Errorf("live region = %q", cur.Text)
	}
}

func TestStartStreamsAndStopsInOrder(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() = %v", err)
	}

	waitFor(t, "frames sent", func() bool { return h.channel.sentCount() >= 2 })
	waitFor(t, "overlay paints", func() bool { return h.canvas.paints.Load() >= 2 })

	// A new track produces a detection remark that is still being spoken
	// when the session stops.
	h.channel.deliver(payload(t, 1, person("7", 20, 120, 100)))
	waitFor(t, "speech in flight", func() bool { return h.speech.CallCount("Speak") == 1 })
	if got := h.speech.Spoken()[0]; got != "person on your left, far" {
		t.Errorf("spoken = %q", got)
	}

	st := h.ctrl.Status()
	if !st.Running() || st.Connection != conn.Connected || st.Decoder.Accepted != 1 || st.SessionID == "" {
		t.Errorf("Status() = %+v", st)
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}
	want := []string{"device", "channel", "speech"}
	got := h.order.get()
	if len(got) != len(want) {
		t.Fatalf("teardown = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("teardown = %v, want %v", got, want)
			break
		}
	}
	if h.ctrl.Status().Running() {
		t.Error("still running after Stop")
	}
	if err := h.ctrl.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("teardown = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("teardown = %v, want %v", got, want)
		}
	}
}

func TestContextCancelStops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.channel.deliver(payload(t, 1, person("7", 20, 120, 100)))
	waitFor(t, "speech in flight", func() bool { return h.speech.CallCount("Speak") == 1 })

	cancel()
	waitFor(t, "idle", func() bool { return !h.ctrl.Status().Running() })
	assertOrder(t, h.order.get(), []string{"device", "channel", "speech"})
	if h.channel.State() != conn.Closed {
		t.Errorf("channel state = %v", h.channel.State())
	}
	if h.channel.unsubs.Load() != 1 {
		t.Errorf("unsubscribed %d times", h.channel.unsubs.Load())
	}
}

func TestStopWhileStarting(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.ctrl.deps.OpenDevice = func(string, camera.Config) (Device, error) {
		close(entered)
		<-release
		return h.device, nil
	}

	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Start(context.Background()) }()
	<-entered

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop() during start = %v", err)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("concurrent Start() = %v", err)
	}
	close(release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Start() = %v, want ErrStopped", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
	assertOrder(t, h.order.get(), []string{"device", "channel"})
	if h.ctrl.Status().Running() {
		t.Error("running after Stop during start")
	}
	h.ctrl.mu.Lock()
	cur := h.ctrl.cur
	h.ctrl.mu.Unlock()
	if cur != nil {
		t.Error("run slot still reserved")
	}
}

func TestAbandonReleasesPartialRun(t *testing.T) {
	h := newHarness(t)
	r := &run{id: "partial", stopped: make(chan struct{})}
	if err := h.ctrl.bringUp(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	r.abandon()
	assertOrder(t, h.order.get(), []string{"device", "channel"})
	if h.channel.unsubs.Load() != 1 {
		t.Errorf("unsubscribed %d times", h.channel.unsubs.Load())
	}
	select {
	case <-r.loop.Done():
	default:
		t.Error("capture loop still running")
	}
}

func TestChannelClosedStopsRun(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.channel.setState(conn.Closed)
	waitFor(t, "idle", func() bool { return !h.ctrl.Status().Running() })
	if !h.device.closed.Load() {
		t.Error("device not released")
	}
}

func TestConnectivityMirroredToLiveRegion(t *testing.T) {
	h := newHarness(t)
	var statuses atomic.Int32
	h.ctrl.OnStatus(func(Status) { statuses.Add(1) })

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.channel.setState(conn.Reconnecting)
	h.channel.setState(conn.Connected)

	texts := strings.Join(liveTexts(h.ctrl.Live()), "|")
	for _, want := range []string{"Connection lost. Reconnecting.", "Detection service reconnected."} {
		if !strings.Contains(texts, want) {
			t.Errorf("live region %q missing %q", texts, want)
		}
	}
	if statuses.Load() < 3 {
		t.Errorf("status listeners notified %d times", statuses.Load())
	}
}

func TestNavigationWarnsAboutObstacles(t *testing.T) {
	h := newHarness(t)
	h.speech.SpeakFunc = nil

	if err := h.ctrl.StartNavigation(context.Background(), "Home", "Shop"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("StartNavigation() before Start = %v", err)
	}
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.StartNavigation(context.Background(), "Home", "Nowhere"); !errors.Is(err, navigation.ErrUnknownLocation) {
		t.Errorf("unknown destination = %v", err)
	}
	if err := h.ctrl.StartNavigation(context.Background(), "Home", "Shop"); err != nil {
		t.Fatal(err)
	}
	if nav := h.ctrl.Status().Navigation; !nav.Active || nav.Destination != "Shop" {
		t.Errorf("navigation = %+v", nav)
	}

	// 400px tall box centered in a 640px frame: 2.5m straight ahead.
	h.channel.deliver(payload(t, 1, person("1", 270, 370, 400)))
	waitFor(t, "obstacle warning", func() bool {
		for _, s := range h.speech.Spoken() {
			if s == navigation.MoveRight {
				return true
			}
		}
		return false
	})

	if err := h.ctrl.StopNavigation(); err != nil {
		t.Fatal(err)
	}
	if h.ctrl.Status().Navigation.Active {
		t.Error("navigation still active")
	}
}

func TestBatchListeners(t *testing.T) {
	h := newHarness(t)
	got := make(chan detection.Batch, 1)
	h.ctrl.OnBatch(func(b detection.Batch) { got <- b })

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.channel.deliver(payload(t, 3, person("2", 500, 600, 50)))
	select {
	case b := <-got:
		if b.Sequence != 3 || len(b.Records) != 1 || b.Records[0].Position != detection.PositionRight {
			t.Errorf("batch = %+v", b)
		}
	case <-time.After(time.Second):
		t.Fatal("no batch published")
	}
}

func TestCameraUpdatesApplyToRun(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	q := 50
	if _, err := h.ctrl.Camera().Apply(camera.Update{Quality: &q}); err != nil {
		t.Fatal(err)
	}
	if h.encoder.applied.Load() != 1 {
		t.Errorf("encoder applied %d times", h.encoder.applied.Load())
	}
}
