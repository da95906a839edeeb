// Package capture runs the fixed-cadence frame capture loop: on every tick it
// takes the most recent frame from a capture device, encodes it and hands the
// bytes to the transport.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-vista/internal/log"
)

// DefaultInterval is 8 frames per second.
const DefaultInterval = 125 * time.Millisecond

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("capture: loop already started")

// Frame is a single BGR24 snapshot. It must not be modified once published.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Captured time.Time // monotonic reading
	Seq      uint64
}

// Empty reports whether the frame has no usable pixels yet.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Source provides the latest frame produced by a capture device.
type Source interface {
	Latest() (Frame, bool)
}

// Device is a Source holding hardware that must be released.
type Device interface {
	Source
	Close() error
}

// Encoder turns a frame into the bytes sent to the backend.
type Encoder interface {
	Encode(f Frame) ([]byte, error)
}

// Sender accepts encoded frames without blocking.
type Sender interface {
	Send(frame []byte) bool
}

// Stats are cumulative loop counters.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Skipped      uint64 `json:"skipped"`
	Sent         uint64 `json:"sent"`
	Dropped      uint64 `json:"dropped"`
	EncodeErrors uint64 `json:"encode_errors"`
}

// Loop pulls frames from a Device at a fixed rate.
type Loop struct {
	dev      Device
	enc      Encoder
	out      Sender
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	releaseOnce sync.Once
	releaseErr  error

	lastSeq uint64

	ticks        atomic.Uint64
	skipped      atomic.Uint64
	sent         atomic.Uint64
	dropped      atomic.Uint64
	encodeErrors atomic.Uint64
}

// NewLoop creates a loop. interval <= 0 selects DefaultInterval.
func NewLoop(dev Device, enc Encoder, out Sender, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		dev:      dev,
		enc:      enc,
		out:      out,
		interval: interval,
		logger:   log.Component("capture"),
		done:     make(chan struct{}),
	}
}

// Start begins ticking. The loop stops, and the device is released, when ctx
// is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
	l.logger.Info("capture loop started", "interval", l.interval)
	return nil
}

// Stop cancels the ticker, waits for the loop to exit and releases the
// device. Safe to call more than once, and before Start.
func (l *Loop) Stop() error {
	l.mu.Lock()
	started := l.started
	cancel := l.cancel
	l.mu.Unlock()

	if started {
		cancel()
		<-l.done
	}
	return l.release()
}

// Done is closed when a started loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:        l.ticks.Load(),
		Skipped:      l.skipped.Load(),
		Sent:         l.sent.Load(),
		Dropped:      l.dropped.Load(),
		EncodeErrors: l.encodeErrors.Load(),
	}
}

func (l *Loop) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer func() {
		ticker.Stop()
		l.release()
		close(l.done)
		l.logger.Info("capture loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	l.ticks.Add(1)

	f, ok := l.dev.Latest()
	if !ok || f.Empty() || f.Seq == l.lastSeq {
		l.skipped.Add(1)
		return
	}
	l.lastSeq = f.Seq

	data, err := l.enc.Encode(f)
	if err != nil {
		l.encodeErrors.Add(1)
		l.logger.Warn("encode failed", "seq", f.Seq, "error", err)
		return
	}
	if l.out.Send(data) {
		l.sent.Add(1)
	} else {
		l.dropped.Add(1)
	}
}

func (l *Loop) release() error {
	l.releaseOnce.Do(func() {
		l.releaseErr = l.dev.Close()
		if l.releaseErr != nil {
			l.logger.Warn("release device", "error", l.releaseErr)
		}
	})
	return l.releaseErr
}
