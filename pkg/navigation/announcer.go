package navigation

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/detection"
)

// DefaultForget is how long a track must be absent before it is announced
// again.
const DefaultForget = 30 * time.Second

// Announcer remarks once on every newly tracked object.
type Announcer struct {
	arb    Submitter
	forget time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewAnnouncer creates an announcer. forget <= 0 uses DefaultForget.
func NewAnnouncer(arb Submitter, forget time.Duration) *Announcer {
	if forget <= 0 {
		forget = DefaultForget
	}
	return &Announcer{
		arb:    arb,
		forget: forget,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Describe renders the remark for one record, e.g. "person on your left, near".
func Describe(r detection.Record) string {
	pos := string(r.Position)
	if pos == "" {
		pos = string(detection.PositionCenter)
	}
	dist := r.Distance
	if dist == "" {
		return fmt.Sprintf("%s on your %s", r.Label, pos)
	}
	return fmt.Sprintf("%s on your %s, %s", r.Label, pos, dist)
}

// HandleBatch submits a detection announcement for every track id not seen
// recently. Suitable as a stream.Subscriber.
func (a *Announcer) HandleBatch(b detection.Batch) {
	now := a.now()

	var fresh []detection.Record
	a.mu.Lock()
	for _, r := range b.Records {
		if r.TrackID == "" {
			continue
		}
		if _, ok := a.seen[r.TrackID]; !ok {
			fresh = append(fresh, r)
		}
		a.seen[r.TrackID] = now
	}
	for id, at := range a.seen {
		if now.Sub(at) > a.forget {
			delete(a.seen, id)
		}
	}
	a.mu.Unlock()

	for _, r := range fresh {
		a.arb.Submit(announce.Detection(r.Label, Describe(r)))
	}
}

// Reset forgets every track.
func (a *Announcer) Reset() {
	a.mu.Lock()
	a.seen = make(map[string]time.Time)
	a.mu.Unlock()
}
