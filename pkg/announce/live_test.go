package announce

import (
	"fmt"
	"testing"
)

func TestLiveRegionKeepsHistory(t *testing.T) {
	l := NewLiveRegion(0)
	var seen int
	remove := l.OnUpdate(func(Entry) { seen++ })

	for i := 0; i < 8; i++ {
		l.Write(Entry{Text: fmt.Sprintf("line %d", i)})
	}
	h := l.History()
	if len(h) != DefaultHistory {
		t.Fatalf("history length = %d", len(h))
	}
	if h[0].Text != "line 3" || h[4].Text != "line 7" {
		t.Errorf("history = %+v", h)
	}
	if cur, _ := l.Current(); cur.Text != "line 7" || cur.At.IsZero() {
		t.Errorf("Current() = %+v", cur)
	}
	if seen != 8 {
		t.Errorf("listener saw %d entries", seen)
	}

	remove()
	l.Write(Entry{Text: "after"})
	if seen != 8 {
		t.Error("removed listener still called")
	}
}

func TestSourceAndDecisionStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{SourceObstacle.String(), "obstacle"},
		{SourceNavigation.String(), "navigation"},
		{SourceDetection.String(), "detection"},
		{SourceSystem.String(), "system"},
		{Source(9).String(), "unknown"},
		{Started.String(), "started"},
		{Suppressed.String(), "suppressed"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewAssignsOrderedIDs(t *testing.T) {
	a, b := Navigation("one"), Navigation("two")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q %q", a.ID, b.ID)
	}
	if a.ID > b.ID {
		t.Errorf("ids not ordered: %q > %q", a.ID, b.ID)
	}
}

func TestSourcePriority(t *testing.T) {
	order := []Source{SourceSystem, SourceDetection, SourceNavigation, SourceObstacle}
	for i := 1; i < len(order); i++ {
		if order[i].Priority() <= order[i-1].Priority() {
			t.Errorf("%v priority %d not above %v %d", order[i], order[i].Priority(), order[i-1], order[i-1].Priority())
		}
	}
	for _, s := range order {
		preempts := s.Priority() >= PreemptPriority
		if preempts != (s == SourceObstacle) {
			t.Errorf("%v preempts = %v", s, preempts)
		}
	}
	if p := Navigation("Turn left").Priority(); p != SourceNavigation.Priority() {
		t.Errorf("Announcement.Priority() = %d", p)
	}
}
