package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/capture"
	"github.com/teslashibe/go-vista/pkg/conn"
	"github.com/teslashibe/go-vista/pkg/detection"
	"github.com/teslashibe/go-vista/pkg/navigation"
	"github.com/teslashibe/go-vista/pkg/overlay"
	"github.com/teslashibe/go-vista/pkg/stream"
)

// run holds the components of one started pipeline.
type run struct {
	id      string
	started time.Time
	// ready and stopRequested are guarded by Controller.mu. ready is set
	// once every component exists; stopRequested records a Stop that
	// arrived before that.
	ready         bool
	stopRequested bool

	cancel   context.CancelFunc
	device   Device
	encoder  Encoder
	loop     *capture.Loop
	channel  conn.Transport
	unsub    func()
	decoder  *stream.Decoder
	renderer *overlay.Renderer
	arbiter  *announce.Arbiter
	adapter  *navigation.Adapter
	guide    *navigation.Guide

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// Controller starts and stops runs. It is safe for concurrent use.
type Controller struct {
	cfg    Config
	deps   Deps
	camera *camera.Manager
	logger *slog.Logger

	mu        sync.Mutex
	cur       *run
	lastErr   string
	listeners map[int]func(Status)
	batchFns  map[int]func(detection.Batch)
	nextID    int
}

// New creates an idle controller. cam holds the camera settings used for
// every run; updates are applied to a running camera immediately.
func New(cfg Config, deps Deps, cam *camera.Manager) *Controller {
	if deps.Live == nil {
		deps.Live = announce.NewLiveRegion(announce.DefaultHistory)
	}
	if deps.Locations == nil {
		deps.Locations = navigation.NewStaticLocations()
	}
	if cam == nil {
		cam = camera.NewManager(camera.DefaultConfig())
	}
	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		camera:    cam,
		logger:    log.Component("session"),
		listeners: make(map[int]func(Status)),
		batchFns:  make(map[int]func(detection.Batch)),
	}
	cam.OnChange(c.applyCamera)
	return c
}

// Camera returns the camera settings manager.
func (c *Controller) Camera() *camera.Manager {
	return c.camera
}

// Live returns the shared live region.
func (c *Controller) Live() *announce.LiveRegion {
	return c.deps.Live
}

// Locations returns the location resolver.
func (c *Controller) Locations() navigation.LocationResolver {
	return c.deps.Locations
}

// Start acquires the camera and brings up the pipeline. If the camera cannot
// be acquired nothing else is started. The run stops by itself when ctx is
// cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		return ErrRunning
	}
	// Reserve the slot so concurrent Starts fail fast.
	r := &run{id: uuid.NewString(), started: time.Now(), stopped: make(chan struct{})}
	c.cur = r
	c.mu.Unlock()

	if err := c.bringUp(ctx, r); err != nil {
		c.mu.Lock()
		c.cur = nil
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.logger.Warn("session failed to start", "session", r.id, "error", err)
		if camera.IsPermissionError(err) {
			c.system("Camera unavailable. Check camera permission.")
		}
		c.notify()
		return err
	}

	c.mu.Lock()
	r.ready = true
	stopRequested := r.stopRequested
	if !stopRequested {
		c.lastErr = ""
	}
	c.mu.Unlock()
	if stopRequested {
		c.stopRun(r, "stopped while starting")
		return ErrStopped
	}
	c.logger.Info("session started", "session", r.id, "transport", c.deps.TransportName)
	c.system("Vision assistant started.")
	c.notify()

	// The pipeline runs on its own context so that stopRun is the only
	// teardown path and the stop order holds on cancellation too.
	go func() {
		select {
		case <-ctx.Done():
			c.stopRun(r, "context done")
		case <-r.stopped:
		}
	}()
	return nil
}

func (c *Controller) bringUp(ctx context.Context, r *run) error {
	camCfg := c.camera.Config()

	dev, err := c.deps.OpenDevice(r.id, camCfg)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}
	r.device = dev

	ch, err := c.deps.NewTransport()
	if err != nil {
		dev.Close()
		return fmt.Errorf("create channel: %w", err)
	}
	r.channel = ch
	r.encoder = c.deps.NewEncoder(camCfg)

	r.arbiter = announce.NewArbiter(c.deps.Speech, c.deps.Live, c.cfg.Debounce)
	r.adapter = navigation.NewAdapter(r.arbiter, c.cfg.DangerThreshold)
	r.guide = navigation.NewGuide(c.deps.Router, r.arbiter, c.cfg.NavigationInterval)

	r.decoder = stream.NewDecoder(c.frameSize(dev))
	r.decoder.Subscribe(r.adapter.HandleBatch)
	if c.cfg.AnnounceObjects {
		announcer := navigation.NewAnnouncer(r.arbiter, 0)
		r.decoder.Subscribe(announcer.HandleBatch)
	}
	r.decoder.Subscribe(c.publishBatch)

	r.unsub = ch.Subscribe(r.decoder.HandleMessage)
	ch.OnStateChange(func(t conn.Transition) { c.onTransition(r, t) })

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	if err := ch.Open(runCtx); err != nil {
		r.abandon()
		return fmt.Errorf("open channel: %w", err)
	}

	r.loop = capture.NewLoop(dev, r.encoder, ch, c.cfg.CaptureInterval)
	if err := r.loop.Start(runCtx); err != nil {
		r.abandon()
		return fmt.Errorf("start capture: %w", err)
	}

	if c.deps.Canvas != nil {
		r.renderer = overlay.NewRenderer(dev, r.decoder, c.deps.Canvas, c.cfg.RenderInterval)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.renderer.Run(runCtx)
		}()
	}
	return nil
}

// abandon releases what bringUp acquired after the channel was created,
// in the same order as stopRun.
func (r *run) abandon() {
	if r.loop != nil {
		r.loop.Stop()
	} else {
		r.device.Close()
	}
	r.unsub()
	r.channel.Close()
	r.arbiter.Stop()
	r.cancel()
	r.wg.Wait()
}

// frameSize reports the size of the frames the detector sees.
func (c *Controller) frameSize(dev Device) stream.FrameSize {
	return func() (int, int) {
		cfg := c.camera.Config()
		if cfg.EncodeWidth > 0 && cfg.EncodeHeight > 0 {
			return cfg.EncodeWidth, cfg.EncodeHeight
		}
		f, ok := dev.Latest()
		if !ok {
			return 0, 0
		}
		return f.Width, f.Height
	}
}

// active returns the current run once it is fully started.
func (c *Controller) active() *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || !c.cur.ready {
		return nil
	}
	return c.cur
}

// Stop tears the current run down. Idempotent; returns nil when idle. A run
// that is still starting is torn down as soon as its pipeline is up, and
// its Start returns ErrStopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.cur
	if r != nil && !r.ready {
		r.stopRequested = true
		r = nil
	}
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return c.stopRun(r, "requested")
}

func (c *Controller) stopRun(r *run, reason string) error {
	var firstErr error
	r.stopOnce.Do(func() {
		c.logger.Info("session stopping", "session", r.id, "reason", reason)

		r.guide.Stop()
		r.adapter.SetActive(false)

		// capture ticker, then camera
		if err := r.loop.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		// detection channel
		r.unsub()
		if err := r.channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		// speech
		r.arbiter.Stop()

		r.cancel()
		r.wg.Wait()
		close(r.stopped)

		c.mu.Lock()
		if c.cur == r {
			c.cur = nil
		}
		c.mu.Unlock()

		c.system("Vision assistant stopped.")
		c.notify()
		c.logger.Info("session stopped", "session", r.id)
	})
	return firstErr
}

// onTransition mirrors channel state into the live region and status, and
// stops the run if the channel closes underneath it.
func (c *Controller) onTransition(r *run, t conn.Transition) {
	c.mu.Lock()
	current, ready := c.cur == r, r.ready
	c.mu.Unlock()
	if !current {
		return
	}

	switch t.To {
	case conn.Connected:
		if t.From == conn.Reconnecting {
			c.system("Detection service reconnected.")
		} else {
			c.system("Connected to detection service.")
		}
	case conn.Reconnecting:
		if t.From == conn.Connected {
			c.system("Connection lost. Reconnecting.")
		}
	case conn.Closed:
		if ready {
			go c.stopRun(r, "channel closed")
		}
	}
	c.notify()
}

// StartNavigation resolves both endpoints and starts route guidance with
// obstacle warnings.
func (c *Controller) StartNavigation(ctx context.Context, start, destination string) error {
	r := c.active()
	if r == nil {
		return ErrNotRunning
	}
	if c.deps.Router == nil {
		return fmt.Errorf("navigation: no router configured")
	}

	from, err := c.deps.Locations.Resolve(start)
	if err != nil {
		return err
	}
	to, err := c.deps.Locations.Resolve(destination)
	if err != nil {
		return err
	}

	if err := r.guide.Start(ctx, from.Coord(), to.Coord(), to.Name); err != nil {
		return err
	}
	r.adapter.SetActive(true)

	done := r.guide.Done()
	go func() {
		<-done
		if !r.guide.Progress().Active {
			r.adapter.SetActive(false)
		}
		c.notify()
	}()
	c.notify()
	return nil
}

// StopNavigation ends route guidance and obstacle warnings.
func (c *Controller) StopNavigation() error {
	r := c.active()
	if r == nil {
		return ErrNotRunning
	}
	if !r.guide.Progress().Active {
		return nil
	}
	r.guide.Stop()
	r.adapter.SetActive(false)
	r.arbiter.Submit(announce.Navigation("Navigation stopped."))
	c.notify()
	return nil
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	r := c.cur
	ready := r != nil && r.ready
	s := Status{
		State:     StateIdle,
		Transport: c.deps.TransportName,
		LastError: c.lastErr,
	}
	c.mu.Unlock()

	if !ready {
		s.Connection = conn.Disconnected
		s.SpeechDegraded = c.deps.Speech == nil
		return s
	}
	s.SessionID = r.id
	s.State = StateRunning
	s.StartedAt = r.started
	s.Connection = r.channel.State()
	s.SpeechDegraded = r.arbiter.Degraded()
	s.Navigation = r.guide.Progress()
	s.Capture = r.loop.Stats()
	s.Channel = r.channel.Stats()
	s.Decoder = r.decoder.Stats()
	s.Announce = r.arbiter.Stats()
	if r.renderer != nil {
		s.Overlay = r.renderer.Stats()
	}
	return s
}

// OnStatus registers fn for status changes and returns a function removing
// it. fn must not block.
func (c *Controller) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// OnBatch registers fn for every accepted detection batch.
func (c *Controller) OnBatch(fn func(detection.Batch)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.batchFns[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.batchFns, id)
		c.mu.Unlock()
	}
}

func (c *Controller) publishBatch(b detection.Batch) {
	c.mu.Lock()
	fns := make([]func(detection.Batch), 0, len(c.batchFns))
	for _, fn := range c.batchFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(b)
	}
}

func (c *Controller) notify() {
	s := c.Status()
	c.mu.Lock()
	fns := make([]func(Status), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Controller) system(text string) {
	c.deps.Live.Write(announce.Entry{
		ID:     announce.New(announce.SourceSystem, text).ID,
		Source: announce.SourceSystem,
		Text:   text,
		At:     time.Now(),
	})
}

// applyCamera pushes new settings to the running camera and encoder.
func (c *Controller) applyCamera(cfg camera.Config) error {
	r := c.active()
	if r == nil {
		return nil
	}
	r.encoder.Apply(cfg)
	return r.device.Apply(cfg)
}
