package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/announce"
)

// DefaultInterval is the pause between spoken instructions.
const DefaultInterval = 5 * time.Second

// Arrived is spoken after the last instruction.
const Arrived = "You have arrived at your destination."

// ErrNavigating is returned by Start while a route is being guided.
var ErrNavigating = errors.New("navigation: already navigating")

// Progress describes the guided route.
type Progress struct {
	Active      bool   `json:"active"`
	Destination string `json:"destination,omitempty"`
	Step        int    `json:"step"`
	Steps       int    `json:"steps"`
	Distance    int    `json:"distance_m"`
}

// Guide speaks route instructions one at a time. Instructions are held back
// while an obstacle is being warned about.
type Guide struct {
	router   Router
	arb      Submitter
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	progress Progress
	steps    []string
}

// NewGuide creates a guide. interval <= 0 uses DefaultInterval.
func NewGuide(router Router, arb Submitter, interval time.Duration) *Guide {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Guide{
		router:   router,
		arb:      arb,
		interval: interval,
		logger:   log.Component("navigation.guide"),
	}
}

// Start fetches a route and begins guiding. It fails without side effects
// when no route is available.
func (g *Guide) Start(ctx context.Context, from, to Coord, destination string) error {
	g.mu.Lock()
	if g.progress.Active {
		g.mu.Unlock()
		return ErrNavigating
	}
	g.mu.Unlock()

	steps, err := g.router.Route(ctx, from, to)
	if err != nil {
		return err
	}
	meters := Haversine(from, to)

	g.mu.Lock()
	if g.progress.Active {
		g.mu.Unlock()
		return ErrNavigating
	}
	if g.cancel != nil {
		g.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	g.steps = steps
	g.progress = Progress{
		Active:      true,
		Destination: destination,
		Steps:       len(steps),
		Distance:    int(meters + 0.5),
	}
	done := g.done
	g.mu.Unlock()

	g.logger.Info("navigation started", "destination", destination, "steps", len(steps), "meters", int(meters))
	g.arb.Submit(announce.Navigation(fmt.Sprintf("Navigation started. Destination is %.0f meters away.", meters)))

	go g.run(runCtx, done)
	return nil
}

func (g *Guide) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if g.arb.ObstacleActive() {
			continue
		}

		g.mu.Lock()
		step := g.progress.Step
		text := Arrived
		if step < len(g.steps) {
			text = g.steps[step]
		}
		g.mu.Unlock()

		if g.arb.Submit(announce.Navigation(text)) == announce.Dropped {
			continue
		}

		g.mu.Lock()
		g.progress.Step++
		finished := step >= len(g.steps)
		if finished {
			g.progress.Active = false
		}
		dest := g.progress.Destination
		g.mu.Unlock()

		if finished {
			g.logger.Info("destination reached", "destination", dest)
			return
		}
	}
}

// Stop ends guidance and waits for the instruction loop to exit.
func (g *Guide) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel = nil
	g.progress.Active = false
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current route ends, by arrival or Stop. It is nil
// before the first Start.
func (g *Guide) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Progress returns the current route state.
func (g *Guide) Progress() Progress {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}
