// Package navigation turns accepted detection batches and routes into
// announcements: obstacle warnings for the path ahead, one-time remarks about
// newly tracked objects, and timed turn-by-turn instructions.
package navigation

import (
	"github.com/teslashibe/go-vista/pkg/detection"
)

// DefaultDangerThreshold is the distance in meters under which an object
// counts as an obstruction.
const DefaultDangerThreshold = 3.0

// Obstacle instructions.
const (
	MoveRight = "Obstacle ahead. Move right."
	MoveLeft  = "Obstacle ahead. Move left."
	Stop      = "Obstacle ahead. Stop."
)

// Assessment is the classification of one batch.
type Assessment struct {
	Obstacle     bool
	LeftBlocked  bool
	RightBlocked bool
	// Nearest is the closest obstruction in the center third.
	Nearest     detection.Record
	Instruction string
}

// Classifier decides whether a batch shows an obstacle in the walking path.
type Classifier struct {
	// Threshold in meters; <= 0 uses DefaultDangerThreshold.
	Threshold float64
}

// Classify uses the default danger threshold.
func Classify(b detection.Batch, frameWidth int) Assessment {
	return Classifier{}.Classify(b, frameWidth)
}

// Classify buckets every record into a frame third and flags those nearer
// than the threshold. A center obstruction is an obstacle; side obstructions
// decide which way to step. With both sides clear the user is sent right.
// frameWidth <= 0 falls back to the batch's frame width.
func (c Classifier) Classify(b detection.Batch, frameWidth int) Assessment {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultDangerThreshold
	}
	if frameWidth <= 0 {
		frameWidth = b.FrameWidth
	}

	var a Assessment
	nearest := 0.0
	for _, r := range b.Records {
		m := detection.EstimateMeters(r.BBox)
		if m <= 0 || m >= threshold {
			continue
		}
		switch detection.PositionOf(r.BBox, frameWidth) {
		case detection.PositionCenter:
			if !a.Obstacle || m < nearest {
				a.Nearest, nearest = r, m
				a.Nearest.Meters = m
			}
			a.Obstacle = true
		case detection.PositionLeft:
			a.LeftBlocked = true
		case detection.PositionRight:
			a.RightBlocked = true
		}
	}
	if !a.Obstacle {
		return a
	}

	switch {
	case !a.RightBlocked:
		a.Instruction = MoveRight
	case !a.LeftBlocked:
		a.Instruction = MoveLeft
	default:
		a.Instruction = Stop
	}
	return a
}
