package navigation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-vista/pkg/announce"
)

type fakeRouter struct {
	steps []string
	err   error
}

func (f fakeRouter) Route(context.Context, Coord, Coord) ([]string, error) {
	return f.steps, f.err
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

var (
	home = Coord{Lat: 37.7749, Lon: -122.4194}
	shop = Coord{Lat: 37.7849, Lon: -122.4094}
)

func TestGuideSpeaksRouteThenArrives(t *testing.T) {
	arb := &fakeArbiter{}
	g := NewGuide(fakeRouter{steps: []string{"Head north", "Turn left"}}, arb, 5*time.Millisecond)

	if err := g.Start(context.Background(), home, shop, "Shop"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "arrival", func() bool { return !g.Progress().Active })

	got := arb.texts()
	if len(got) != 4 {
		t.Fatalf("spoken = %q", got)
	}
	if !strings.HasPrefix(got[0], "Navigation started. Destination is 14") || !strings.HasSuffix(got[0], " meters away.") {
		t.Errorf("intro = %q", got[0])
	}
	if got[1] != "Head north" || got[2] != "Turn left" || got[3] != Arrived {
		t.Errorf("instructions = %q", got[1:])
	}
	for _, a := range arb.got {
		if a.Source != announce.SourceNavigation {
			t.Errorf("source = %v", a.Source)
		}
	}
	g.Stop()
}

func TestGuideWaitsForObstacle(t *testing.T) {
	arb := &fakeArbiter{}
	arb.setObstacle(true)
	g := NewGuide(fakeRouter{steps: []string{"Head north"}}, arb, 5*time.Millisecond)
	if err := g.Start(context.Background(), home, shop, "Shop"); err != nil {
		t.Fatal(err)
	}
	defer g.Stop()

	time.Sleep(40 * time.Millisecond)
	if n := len(arb.texts()); n != 1 {
		t.Fatalf("instructions spoken during obstacle: %q", arb.texts())
	}
	if g.Progress().Step != 0 {
		t.Error("step advanced during obstacle")
	}

	arb.setObstacle(false)
	waitFor(t, "first instruction", func() bool { return len(arb.texts()) >= 2 })
	if arb.texts()[1] != "Head north" {
		t.Errorf("spoken = %q", arb.texts())
	}
}

func TestGuideRetriesDroppedInstruction(t *testing.T) {
	drops := 2
	arb := &fakeArbiter{}
	arb.decide = func(a announce.Announcement) announce.Decision {
		if a.Text == "Head north" && drops > 0 {
			drops--
			return announce.Dropped
		}
		return announce.Started
	}
	g := NewGuide(fakeRouter{steps: []string{"Head north"}}, arb, 5*time.Millisecond)
	if err := g.Start(context.Background(), home, shop, "Shop"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "arrival", func() bool { return !g.Progress().Active })
	if got := arb.texts(); len(got) != 3 || got[1] != "Head north" {
		t.Errorf("spoken = %q", got)
	}
}

func TestGuideStartErrors(t *testing.T) {
	arb := &fakeArbiter{}
	g := NewGuide(fakeRouter{err: ErrNoRoute}, arb, time.Hour)
	if err := g.Start(context.Background(), home, shop, "Shop"); !errors.Is(err, ErrNoRoute) {
		t.Errorf("Start() = %v", err)
	}
	if len(arb.texts()) != 0 || g.Progress().Active {
		t.Error("failed start had side effects")
	}

	g = NewGuide(fakeRouter{steps: []string{"Go"}}, arb, time.Hour)
	if err := g.Start(context.Background(), home, shop, "Shop"); err != nil {
		t.Fatal(err)
	}
	if err := g.Start(context.Background(), home, shop, "Shop"); !errors.Is(err, ErrNavigating) {
		t.Errorf("second Start() = %v", err)
	}
	g.Stop()
	g.Stop()
	if g.Progress().Active {
		t.Error("still active after Stop")
	}
}
