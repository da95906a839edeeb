package announce

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/detection"
	"github.com/teslashibe/go-vista/pkg/speech"
)

// DefaultDebounce is the detection coalescing window.
const DefaultDebounce = 400 * time.Millisecond

// Stats are cumulative arbitration counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Spoken     uint64 `json:"spoken"`
	Preempted  uint64 `json:"preempted"`
	Dropped    uint64 `json:"dropped"`
	Suppressed uint64 `json:"suppressed"`
	Coalesced  uint64 `json:"coalesced"`
	Failed     uint64 `json:"failed"`
}

type utterance struct {
	a      Announcement
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Arbiter serializes announcements onto one speech engine.
type Arbiter struct {
	engine   speech.Engine
	live     *LiveRegion
	debounce time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	stopped        bool
	current        *utterance
	pending        *Announcement
	obstacleActive bool
	lastObstacle   string
	lastNav        string
	buffer         []Announcement
	timer          *time.Timer
	degraded       bool
	stats          Stats
}

// NewArbiter creates an arbiter speaking through engine and mirroring text
// into live. A nil engine starts in degraded mode; a nil live region gets a
// private one. debounce <= 0 selects DefaultDebounce.
func NewArbiter(engine speech.Engine, live *LiveRegion, debounce time.Duration) *Arbiter {
	if live == nil {
		live = NewLiveRegion(DefaultHistory)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Arbiter{
		engine:   engine,
		live:     live,
		debounce: debounce,
		logger:   log.Component("announce"),
		ctx:      ctx,
		cancel:   cancel,
		degraded: engine == nil,
	}
}

// Live returns the live region the arbiter writes to.
func (a *Arbiter) Live() *LiveRegion {
	return a.live
}

// Submit offers an announcement. See Decision for the outcomes.
func (a *Arbiter) Submit(ann Announcement) Decision {
	if strings.TrimSpace(ann.Text) == "" && ann.Label == "" {
		return Rejected
	}
	if ann.ID == "" || ann.Created.IsZero() {
		fresh := New(ann.Source, ann.Text)
		ann.ID, ann.Created = fresh.ID, fresh.Created
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return Rejected
	}
	a.stats.Submitted++

	switch {
	case ann.Priority() >= PreemptPriority:
		return a.obstacleLocked(ann)
	case ann.Source == SourceNavigation:
		return a.queueLocked(ann)
	case ann.Source == SourceDetection:
		a.buffer = append(a.buffer, ann)
		if a.timer == nil {
			a.timer = time.AfterFunc(a.debounce, a.flush)
		}
		return Buffered
	default:
		return Rejected
	}
}

func (a *Arbiter) obstacleLocked(ann Announcement) Decision {
	if a.obstacleActive && ann.Text == a.lastObstacle {
		a.stats.Suppressed++
		return Suppressed
	}
	a.obstacleActive = true
	a.lastObstacle = ann.Text

	if a.pending != nil {
		a.pending = nil
		a.stats.Dropped++
	}
	a.discardBufferLocked()
	if a.current != nil && a.current.a.Priority() <= ann.Priority() {
		a.current.cancel()
		a.stats.Preempted++
		a.logger.Debug("preempted", "source", a.current.a.Source, "text", a.current.a.Text)
	}
	a.startLocked(ann)
	return Started
}

// queueLocked handles non-obstacle announcements: speak when idle, else
// replace whatever waits in the pending slot.
func (a *Arbiter) queueLocked(ann Announcement) Decision {
	if a.obstacleActive || (a.current != nil && a.current.a.Priority() >= PreemptPriority) {
		a.stats.Dropped++
		return Dropped
	}
	if ann.Source == SourceNavigation {
		if ann.Text == a.lastNav {
			a.stats.Suppressed++
			return Suppressed
		}
		a.lastNav = ann.Text
	}
	if a.current == nil {
		a.startLocked(ann)
		return Started
	}
	if a.pending != nil {
		a.stats.Dropped++
	}
	a.pending = &ann
	return Queued
}

// flush ends a detection debounce window.
func (a *Arbiter) flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	if a.stopped || len(a.buffer) == 0 {
		return
	}
	buf := a.buffer
	a.buffer = nil

	merged := New(SourceDetection, coalesce(buf))
	a.stats.Coalesced += uint64(len(buf) - 1)
	a.queueLocked(merged)
}

// coalesce turns a window of detection remarks into one utterance: a single
// remark is kept as is, several become a count of their classes.
func coalesce(buf []Announcement) string {
	if len(buf) == 1 && strings.TrimSpace(buf[0].Text) != "" {
		return buf[0].Text
	}
	labels := make([]string, 0, len(buf))
	for _, b := range buf {
		if b.Label != "" {
			labels = append(labels, b.Label)
		}
	}
	if len(labels) == 0 {
		return buf[len(buf)-1].Text
	}
	return detection.Summary(labels)
}

func (a *Arbiter) discardBufferLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if n := len(a.buffer); n > 0 {
		a.stats.Dropped += uint64(n)
		a.buffer = nil
	}
}

func (a *Arbiter) startLocked(ann Announcement) {
	ctx, cancel := context.WithCancel(a.ctx)
	u := &utterance{a: ann, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	prev := a.current
	a.current = u
	a.stats.Spoken++

	a.wg.Add(1)
	go a.run(u, prev)
}

func (a *Arbiter) run(u, prev *utterance) {
	defer a.wg.Done()
	defer close(u.done)
	defer u.cancel()

	// The preempted utterance must be silent before the next one starts.
	if prev != nil {
		<-prev.done
	}
	if u.ctx.Err() != nil {
		a.finish(u)
		return
	}

	a.mu.Lock()
	speaking := a.engine != nil && !a.degraded
	a.mu.Unlock()
	a.live.Write(Entry{ID: u.a.ID, Source: u.a.Source, Text: u.a.Text, Spoken: speaking, At: time.Now()})

	if a.engine != nil {
		err := a.engine.Speak(u.ctx, u.a.Text)
		a.mu.Lock()
		switch {
		case err == nil:
			if a.degraded {
				a.logger.Info("speech recovered")
			}
			a.degraded = false
		case u.ctx.Err() != nil:
		case errors.Is(err, speech.ErrEmptyText):
		default:
			a.stats.Failed++
			if !a.degraded {
				a.logger.Warn("speech unavailable, continuing with text only", "error", err)
			}
			a.degraded = true
		}
		a.mu.Unlock()
	}
	a.finish(u)
}

// finish clears the in-flight slot and promotes the pending announcement.
func (a *Arbiter) finish(u *utterance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != u {
		return
	}
	a.current = nil
	if a.stopped || a.pending == nil {
		return
	}
	next := *a.pending
	a.pending = nil
	a.startLocked(next)
}

// ClearObstacle ends the obstacle condition. The next obstacle warning is
// spoken even if its text repeats the last one.
func (a *Arbiter) ClearObstacle() {
	a.mu.Lock()
	a.obstacleActive = false
	a.lastObstacle = ""
	a.mu.Unlock()
}

// ObstacleActive reports whether an obstacle condition is in effect.
func (a *Arbiter) ObstacleActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.obstacleActive
}

// InFlight returns the announcement currently being spoken.
func (a *Arbiter) InFlight() (Announcement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Announcement{}, false
	}
	return a.current.a, true
}

// Pending returns the announcement waiting for the in-flight one.
func (a *Arbiter) Pending() (Announcement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return Announcement{}, false
	}
	return *a.pending, true
}

// Degraded reports whether speech is currently unavailable.
func (a *Arbiter) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Stats returns a snapshot of the counters.
func (a *Arbiter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Stop cancels the in-flight utterance, discards pending and buffered
// announcements, and waits for speech to go quiet. Idempotent.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.cancel()
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.buffer = nil
	a.mu.Unlock()

	a.wg.Wait()
}
