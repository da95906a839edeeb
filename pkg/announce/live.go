package announce

import (
	"sync"
	"time"
)

// DefaultHistory is the number of live region entries kept.
const DefaultHistory = 5

// Entry is one line of the live region.
type Entry struct {
	ID     string
	Source Source
	Text   string
	// Spoken is false when speech was unavailable and the text was only shown.
	Spoken bool
	At     time.Time
}

// LiveRegion is the always-present text channel mirroring every utterance.
// It is what a screen reader or the dashboard displays.
type LiveRegion struct {
	mu        sync.Mutex
	size      int
	entries   []Entry
	listeners map[int]func(Entry)
	nextID    int
}

// NewLiveRegion keeps the last size entries; size <= 0 uses DefaultHistory.
func NewLiveRegion(size int) *LiveRegion {
	if size <= 0 {
		size = DefaultHistory
	}
	return &LiveRegion{
		size:      size,
		listeners: make(map[int]func(Entry)),
	}
}

// Write appends e and notifies listeners.
func (l *LiveRegion) Write(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.size {
		l.entries = append(l.entries[:0:0], l.entries[len(l.entries)-l.size:]...)
	}
	fns := make([]func(Entry), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Current returns the newest entry.
func (l *LiveRegion) Current() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// History returns the kept entries, oldest first.
func (l *LiveRegion) History() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// OnUpdate registers fn for new entries and returns a function removing it.
// fn must not block.
func (l *LiveRegion) OnUpdate(fn func(Entry)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}
