package navigation

import (
	"sync"

	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/detection"
)

// fakeArbiter records submissions.
type fakeArbiter struct {
	mu       sync.Mutex
	got      []announce.Announcement
	clears   int
	obstacle bool
	decide   func(announce.Announcement) announce.Decision
}

func (f *fakeArbiter) Submit(a announce.Announcement) announce.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decide != nil {
		if d := f.decide(a); d != announce.Started {
			return d
		}
	}
	f.got = append(f.got, a)
	return announce.Started
}

func (f *fakeArbiter) ClearObstacle() {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

func (f *fakeArbiter) ObstacleActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.obstacle
}

func (f *fakeArbiter) setObstacle(on bool) {
	f.mu.Lock()
	f.obstacle = on
	f.mu.Unlock()
}

func (f *fakeArbiter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, a := range f.got {
		out[i] = a.Text
	}
	return out
}

// box returns a record whose center falls in the given third of a 600px
// wide frame with the given box height in pixels.
func box(id string, pos detection.Position, height float64) detection.Record {
	cx := map[detection.Position]float64{
		detection.PositionLeft:   100,
		detection.PositionCenter: 300,
		detection.PositionRight:  500,
	}[pos]
	return detection.Record{
		TrackID: id,
		Label:   "person",
		BBox:    detection.BBox{X1: cx - 40, Y1: 0, X2: cx + 40, Y2: height},
	}
}

func batch(recs ...detection.Record) detection.Batch {
	return detection.Batch{Epoch: 1, Sequence: 1, Records: recs, FrameWidth: 600, FrameHeight: 480}
}
