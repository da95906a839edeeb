package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-vista/internal/httpc"
	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/protocol"
)

// ErrDetectFailed is returned when the backend answers with success=false.
var ErrDetectFailed = errors.New("conn: detection request failed")

// HTTPDetector submits single frames to the request/response endpoint.
type HTTPDetector struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPDetector creates a detector posting to url (".../detect"). At most
// perSecond requests are issued; 0 disables throttling.
func NewHTTPDetector(url string, perSecond float64) *HTTPDetector {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &HTTPDetector{
		url:     url,
		client:  httpc.NewClient(10 * time.Second),
		limiter: lim,
	}
}

// Detect posts one JPEG and returns the decoded response.
func (d *HTTPDetector) Detect(ctx context.Context, jpeg []byte) (*protocol.DetectResponse, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var resp protocol.DetectResponse
	if err := httpc.PostJSON(ctx, d.client, d.url, protocol.NewDetectRequest(jpeg), &resp); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrDetectFailed, resp.Error)
	}
	return &resp, nil
}

// FallbackSender is a transport for environments without a persistent
// channel. Each frame becomes one detection request; while a request is in
// flight further frames are dropped. Responses are re-encoded as streamed
// batches with a local sequence so subscribers see the same payload shape
// as on the websocket path.
type FallbackSender struct {
	detector *HTTPDetector
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	closing  bool
	handlers []handlerEntry
	nextID   int
	watchers []func(Transition)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   atomic.Bool
	seq    atomic.Uint64

	sent     atomic.Uint64
	dropped  atomic.Uint64
	received atomic.Uint64
	failures atomic.Uint64
}

// NewFallbackSender wraps d as a transport.
func NewFallbackSender(d *HTTPDetector) *FallbackSender {
	return &FallbackSender{
		detector: d,
		logger:   log.Component("conn.fallback"),
		state:    Disconnected,
	}
}

// Open marks the transport usable. There is no handshake; the first failed
// request is the first sign of trouble.
func (f *FallbackSender) Open(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case Closed:
		f.mu.Unlock()
		return ErrClosed
	case Disconnected:
	default:
		f.mu.Unlock()
		return ErrAlreadyOpen
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	f.setState(Connecting, nil)
	f.setState(Connected, nil)
	return nil
}

// Send submits frame unless a request is already in flight.
func (f *FallbackSender) Send(frame []byte) bool {
	f.mu.Lock()
	open := (f.state == Connected || f.state == Reconnecting) && !f.closing
	if !open || !f.busy.CompareAndSwap(false, true) {
		f.mu.Unlock()
		f.dropped.Add(1)
		return false
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer f.busy.Store(false)
		f.roundTrip(frame)
	}()
	return true
}

func (f *FallbackSender) roundTrip(frame []byte) {
	resp, err := f.detector.Detect(f.ctx, frame)
	if err != nil {
		if f.ctx.Err() != nil {
			return
		}
		f.failures.Add(1)
		f.logger.Warn("detection request failed", "error", err)
		f.setState(Reconnecting, err)
		return
	}
	f.sent.Add(1)
	f.setState(Connected, nil)

	// The request/response endpoint does not track objects; give untracked
	// objects an id that is stable while the scene is.
	perLabel := make(map[string]int)
	for i := range resp.Objects {
		o := &resp.Objects[i]
		if o.ID != "" {
			continue
		}
		l := o.ClassLabel()
		perLabel[l]++
		o.ID = protocol.TrackID(fmt.Sprintf("%s-%d", l, perLabel[l]))
	}

	seq := f.seq.Add(1)
	msg := protocol.DetectionMessage{
		Sequence: &seq,
		Width:    resp.Width,
		Height:   resp.Height,
		Objects:  resp.Objects,
		Summary:  resp.Summary,
	}
	payload, err := msg.Bytes()
	if err != nil {
		f.logger.Error("re-encode response", "error", err)
		return
	}

	f.mu.Lock()
	if f.state == Closed {
		f.mu.Unlock()
		return
	}
	handlers := make([]handlerEntry, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	f.received.Add(1)
	for _, h := range handlers {
		h.fn(1, payload)
	}
}

// Subscribe registers h for detection payloads. All payloads carry epoch 1.
func (f *FallbackSender) Subscribe(h Handler) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.handlers = append(f.handlers, handlerEntry{id: id, fn: h})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, e := range f.handlers {
			if e.id == id {
				f.handlers = append(f.handlers[:i:i], f.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn to observe transitions. Unlike Manager,
// transitions are delivered synchronously on the goroutine causing them.
func (f *FallbackSender) OnStateChange(fn func(Transition)) {
	f.mu.Lock()
	f.watchers = append(f.watchers, fn)
	f.mu.Unlock()
}

// State returns the current state. Reconnecting means the last request failed.
func (f *FallbackSender) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Stats returns a snapshot of the counters.
func (f *FallbackSender) Stats() Stats {
	return Stats{
		Sent:     f.sent.Load(),
		Dropped:  f.dropped.Load(),
		Received: f.received.Load(),
		Failures: f.failures.Load(),
	}
}

// Close cancels any in-flight request and waits for it. Idempotent.
func (f *FallbackSender) Close() error {
	f.mu.Lock()
	if f.state == Closed {
		f.mu.Unlock()
		return nil
	}
	f.closing = true
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()

	f.wg.Wait()
	f.setState(Closed, nil)
	return nil
}

func (f *FallbackSender) setState(to State, cause error) {
	f.mu.Lock()
	if f.state == to || f.state == Closed {
		f.mu.Unlock()
		return
	}
	t := Transition{From: f.state, To: to, Err: cause}
	f.state = to
	watchers := make([]func(Transition), len(f.watchers))
	copy(watchers, f.watchers)
	f.mu.Unlock()

	for _, fn := range watchers {
		fn(t)
	}
}
