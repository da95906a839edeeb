// Package detection defines the detection records exchanged between the
// detector backend and the vista client, plus the geometry helpers used to
// describe them to a listener (position bucket, estimated distance).
package detection

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Errors returned by Validate.
var (
	ErrEmptyBBox      = errors.New("detection: bbox has zero or negative area")
	ErrOutOfFrame     = errors.New("detection: bbox outside source frame")
	ErrBadConfidence  = errors.New("detection: confidence outside 0..1")
	ErrMissingTrackID = errors.New("detection: missing track id")
)

// Position is the horizontal third of the frame a box center falls into.
type Position string

const (
	PositionUnknown Position = ""
	PositionLeft    Position = "left"
	PositionCenter  Position = "center"
	PositionRight   Position = "right"
)

// BBox is an axis-aligned box in source-frame pixels.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// CenterX returns the horizontal center.
func (b BBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// Area returns width*height, or 0 for degenerate boxes.
func (b BBox) Area() float64 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// IoU returns intersection over union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	ix1 := max(b.X1, o.X1)
	iy1 := max(b.Y1, o.Y1)
	ix2 := min(b.X2, o.X2)
	iy2 := min(b.Y2, o.Y2)
	inter := BBox{ix1, iy1, ix2, iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Record is a single detected object.
type Record struct {
	TrackID    string
	Label      string
	Confidence float64
	BBox       BBox

	// Filled by Enrich when the source frame size is known.
	Position Position
	Distance string  // "very near", "near", "far", "very far"
	Meters   float64 // rough estimate, 0 if unknown
}

// Validate checks the record invariants. frameW and frameH may be 0 when the
// source frame size is unknown, in which case the bounds check is skipped.
func (r Record) Validate(frameW, frameH int) error {
	if r.TrackID == "" {
		return ErrMissingTrackID
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %v", ErrBadConfidence, r.Confidence)
	}
	if r.BBox.X1 >= r.BBox.X2 || r.BBox.Y1 >= r.BBox.Y2 {
		return ErrEmptyBBox
	}
	if frameW > 0 && frameH > 0 {
		if r.BBox.X1 < 0 || r.BBox.Y1 < 0 ||
			r.BBox.X2 > float64(frameW) || r.BBox.Y2 > float64(frameH) {
			return ErrOutOfFrame
		}
	}
	return nil
}

// Enrich fills Position, Distance and Meters from the frame size.
func (r *Record) Enrich(frameW, frameH int) {
	if frameW > 0 {
		r.Position = PositionOf(r.BBox, frameW)
	}
	if frameH > 0 {
		r.Distance = DistanceCategory(r.BBox, frameH)
	}
	r.Meters = EstimateMeters(r.BBox)
}

// Batch is the set of detections produced for one frame.
type Batch struct {
	Epoch    uint64 // connection epoch the batch arrived on
	Sequence uint64
	Records  []Record
	Arrived  time.Time

	// Source frame size, when known.
	FrameWidth  int
	FrameHeight int
}

// NewerThan reports whether b should replace other as the latest batch.
// Batches from a later connection epoch always win; within an epoch the
// sequence number decides. Equal keys are not newer.
func (b Batch) NewerThan(other Batch) bool {
	if b.Epoch != other.Epoch {
		return b.Epoch > other.Epoch
	}
	return b.Sequence > other.Sequence
}

// Labels returns the record labels in batch order.
func (b Batch) Labels() []string {
	out := make([]string, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Label
	}
	return out
}

// PositionOf buckets the box center into frame thirds.
func PositionOf(b BBox, frameWidth int) Position {
	if frameWidth <= 0 {
		return PositionUnknown
	}
	third := float64(frameWidth) / 3
	cx := b.CenterX()
	switch {
	case cx < third:
		return PositionLeft
	case cx > 2*third:
		return PositionRight
	default:
		return PositionCenter
	}
}

// DistanceCategory describes how close an object is from the fraction of the
// frame height its box covers.
func DistanceCategory(b BBox, frameHeight int) string {
	if frameHeight <= 0 {
		return "unknown"
	}
	ratio := b.Height() / float64(frameHeight)
	switch {
	case ratio > 0.6:
		return "very near"
	case ratio > 0.4:
		return "near"
	case ratio > 0.2:
		return "far"
	default:
		return "very far"
	}
}

// metersCalibration relates box height in pixels to distance: a 333px tall
// box is roughly 3m away.
const metersCalibration = 1000.0

// EstimateMeters returns a rough distance from box height, or 0 when the box
// is degenerate.
func EstimateMeters(b BBox) float64 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return metersCalibration / h
}

// Summary renders a spoken count of labels, e.g. "I see: 1 person, 2 chairs".
// Labels are listed in first-seen order.
func Summary(labels []string) string {
	if len(labels) == 0 {
		return "No objects detected"
	}
	counts := make(map[string]int)
	var order []string
	for _, l := range labels {
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}
	parts := make([]string, 0, len(order))
	for _, l := range order {
		n := counts[l]
		if n == 1 {
			parts = append(parts, "1 "+l)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, l))
		}
	}
	return "I see: " + strings.Join(parts, ", ")
}

// Counts returns label counts sorted by label, useful for status displays.
func Counts(labels []string) []LabelCount {
	m := make(map[string]int)
	for _, l := range labels {
		m[l]++
	}
	out := make([]LabelCount, 0, len(m))
	for l, n := range m {
		out = append(out, LabelCount{Label: l, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// LabelCount pairs a label with its number of occurrences.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
