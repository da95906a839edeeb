package navigation

import (
	"log/slog"
	"sync"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/detection"
)

// Submitter is the part of announce.Arbiter used here.
type Submitter interface {
	Submit(announce.Announcement) announce.Decision
	ClearObstacle()
	ObstacleActive() bool
}

// Adapter watches accepted batches for obstacles while navigation is active.
type Adapter struct {
	arb        Submitter
	classifier Classifier
	logger     *slog.Logger

	mu       sync.Mutex
	active   bool
	blocked  bool
	last     Assessment
	assessed uint64
}

// NewAdapter creates an inactive adapter. threshold <= 0 uses the default.
func NewAdapter(arb Submitter, threshold float64) *Adapter {
	return &Adapter{
		arb:        arb,
		classifier: Classifier{Threshold: threshold},
		logger:     log.Component("navigation.obstacles"),
	}
}

// SetActive turns obstacle checks on or off. Turning off clears any active
// obstacle condition.
func (a *Adapter) SetActive(on bool) {
	a.mu.Lock()
	was := a.blocked
	a.active = on
	if !on {
		a.blocked = false
		a.last = Assessment{}
	}
	a.mu.Unlock()

	if !on && was {
		a.arb.ClearObstacle()
	}
}

// Active reports whether obstacle checks run.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// HandleBatch classifies b and warns or clears. It does nothing while
// inactive. Suitable as a stream.Subscriber.
func (a *Adapter) HandleBatch(b detection.Batch) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	as := a.classifier.Classify(b, b.FrameWidth)
	was := a.blocked
	a.blocked = as.Obstacle
	a.last = as
	a.assessed++
	a.mu.Unlock()

	if as.Obstacle {
		if !was {
			a.logger.Info("obstacle ahead", "label", as.Nearest.Label, "meters", as.Nearest.Meters, "instruction", as.Instruction)
		}
		a.arb.Submit(announce.Obstacle(as.Instruction))
		return
	}
	if was {
		a.logger.Info("path clear")
	}
	a.arb.ClearObstacle()
}

// Last returns the most recent assessment.
func (a *Adapter) Last() Assessment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
