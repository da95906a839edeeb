// Package announce decides what is spoken and when.
//
// Every announcement has a source with a fixed priority: obstacle warnings
// beat navigation instructions, which beat general detection remarks. At most
// one utterance is in flight. Obstacles preempt; everything else waits in a
// single pending slot where the newest announcement replaces the older one.
package announce

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Source identifies who produced an announcement.
type Source int

const (
	SourceDetection Source = iota
	SourceNavigation
	SourceObstacle
	// SourceSystem marks live region entries that are never spoken, such as
	// connectivity changes.
	SourceSystem
)

func (s Source) String() string {
	switch s {
	case SourceDetection:
		return "detection"
	case SourceNavigation:
		return "navigation"
	case SourceObstacle:
		return "obstacle"
	case SourceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Priority orders sources. Higher wins.
type Priority int

// PreemptPriority is the lowest priority that interrupts an utterance in
// flight. Sources below it wait in the pending slot and never preempt each
// other.
const PreemptPriority Priority = 3

// Priority returns the source's rank: obstacle 3, navigation 2, detection 1.
// System entries are never spoken and rank 0.
func (s Source) Priority() Priority {
	switch s {
	case SourceObstacle:
		return 3
	case SourceNavigation:
		return 2
	case SourceDetection:
		return 1
	default:
		return 0
	}
}

// Announcement is one candidate utterance.
type Announcement struct {
	ID     string
	Source Source
	Text   string
	// Label is the object class behind a detection announcement. It is used
	// when several detections are merged into one count summary.
	Label   string
	Created time.Time
}

// Priority is the priority of the announcement's source.
func (a Announcement) Priority() Priority {
	return a.Source.Priority()
}

// New creates an announcement with a time-ordered id.
func New(src Source, text string) Announcement {
	now := time.Now()
	return Announcement{
		ID:      ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Source:  src,
		Text:    text,
		Created: now,
	}
}

// Obstacle creates an obstacle warning.
func Obstacle(text string) Announcement { return New(SourceObstacle, text) }

// Navigation creates a navigation instruction.
func Navigation(text string) Announcement { return New(SourceNavigation, text) }

// Detection creates a detection remark about an object of class label.
func Detection(label, text string) Announcement {
	a := New(SourceDetection, text)
	a.Label = label
	return a
}

// Decision is what Submit did with an announcement.
type Decision int

const (
	// Started means the announcement is now being spoken.
	Started Decision = iota
	// Queued means it took the pending slot.
	Queued
	// Buffered means it joined the detection debounce window.
	Buffered
	// Suppressed means it repeated what is already being warned about.
	Suppressed
	// Dropped means a higher priority condition blocked it.
	Dropped
	// Rejected means the arbiter is stopped or the text is empty.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Started:
		return "started"
	case Queued:
		return "queued"
	case Buffered:
		return "buffered"
	case Suppressed:
		return "suppressed"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}
