// Package stream turns inbound detection payloads into validated batches and
// keeps the latest accepted one.
//
// Acceptance is monotonic per connection: a batch replaces the current one
// only if its (epoch, sequence) key is not older. Sequence numbers restart
// on every new connection, which is why the key includes the epoch.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/detection"
	"github.com/teslashibe/go-vista/pkg/protocol"
)

var (
	// ErrInvalidPayload wraps every reason a payload is rejected.
	ErrInvalidPayload = errors.New("stream: invalid payload")

	// ErrStale is returned for batches older than the latest accepted one.
	ErrStale = errors.New("stream: stale batch")
)

// FrameSize reports the dimensions of the frames being sent, used to bound
// boxes and derive position and distance when the backend does not report
// its own frame size.
type FrameSize func() (width, height int)

// Subscriber receives accepted batches.
type Subscriber func(detection.Batch)

// Stats are cumulative decoder counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Invalid  uint64 `json:"invalid"`
	Stale    uint64 `json:"stale"`
}

// Decoder validates payloads and publishes accepted batches.
type Decoder struct {
	frameSize FrameSize
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest detection.Batch
	have   bool
	subs   []Subscriber

	// serializes HandleMessage so acceptance and publication happen in
	// arrival order
	handleMu sync.Mutex

	accepted atomic.Uint64
	invalid  atomic.Uint64
	stale    atomic.Uint64
}

// NewDecoder creates a decoder. frameSize may be nil.
func NewDecoder(frameSize FrameSize) *Decoder {
	return &Decoder{
		frameSize: frameSize,
		logger:    log.Component("stream"),
		now:       time.Now,
	}
}

// Subscribe adds s. Subscribers are called synchronously, in subscription
// order, on the goroutine that delivered the payload.
func (d *Decoder) Subscribe(s Subscriber) {
	d.mu.Lock()
	d.subs = append(d.subs, s)
	d.mu.Unlock()
}

// HandleMessage decodes, validates and, if newer, publishes a payload. It
// matches conn.Handler so it can be subscribed to a transport directly.
// Rejected payloads are logged and counted; errors never escalate.
func (d *Decoder) HandleMessage(epoch uint64, payload []byte) {
	if _, err := d.Handle(epoch, payload); err != nil {
		switch {
		case errors.Is(err, ErrStale):
			d.logger.Debug("stale batch dropped", "error", err)
		default:
			d.logger.Warn("payload dropped", "error", err)
		}
	}
}

// Handle is HandleMessage with the outcome returned.
func (d *Decoder) Handle(epoch uint64, payload []byte) (detection.Batch, error) {
	d.handleMu.Lock()
	defer d.handleMu.Unlock()

	batch, err := d.decode(epoch, payload)
	if err != nil {
		d.invalid.Add(1)
		return detection.Batch{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	d.mu.Lock()
	if d.have && d.latest.NewerThan(batch) {
		cur := d.latest
		d.mu.Unlock()
		d.stale.Add(1)
		return detection.Batch{}, fmt.Errorf("%w: got %d/%d, have %d/%d",
			ErrStale, batch.Epoch, batch.Sequence, cur.Epoch, cur.Sequence)
	}
	d.latest = batch
	d.have = true
	subs := make([]Subscriber, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	d.accepted.Add(1)
	for _, s := range subs {
		s(batch)
	}
	return batch, nil
}

func (d *Decoder) decode(epoch uint64, payload []byte) (detection.Batch, error) {
	msg, err := protocol.ParseDetectionMessage(payload)
	if err != nil {
		return detection.Batch{}, err
	}
	if msg.Error != "" {
		return detection.Batch{}, fmt.Errorf("backend error: %s", msg.Error)
	}

	w, h := msg.Width, msg.Height
	if (w <= 0 || h <= 0) && d.frameSize != nil {
		w, h = d.frameSize()
	}

	records := make([]detection.Record, 0, len(msg.Objects))
	for i, o := range msg.Objects {
		r, err := o.Record()
		if err != nil {
			return detection.Batch{}, fmt.Errorf("object %d: %w", i, err)
		}
		if err := r.Validate(w, h); err != nil {
			return detection.Batch{}, fmt.Errorf("object %d: %w", i, err)
		}
		r.Enrich(w, h)
		records = append(records, r)
	}

	return detection.Batch{
		Epoch:       epoch,
		Sequence:    *msg.Sequence,
		Records:     records,
		Arrived:     d.now(),
		FrameWidth:  w,
		FrameHeight: h,
	}, nil
}

// Latest returns the latest accepted batch.
func (d *Decoder) Latest() (detection.Batch, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.have
}

// Reset forgets the latest batch, e.g. when a session stops.
func (d *Decoder) Reset() {
	d.mu.Lock()
	d.latest = detection.Batch{}
	d.have = false
	d.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Accepted: d.accepted.Load(),
		Invalid:  d.invalid.Load(),
		Stale:    d.stale.Load(),
	}
}
