package detector

import (
	"sort"
	"strconv"

	"github.com/teslashibe/go-vista/pkg/detection"
)

// Tracker defaults.
const (
	DefaultIoUThreshold = 0.3
	DefaultMaxAge       = 30 // frames
)

// Tracker assigns stable ids to detections across frames by greedy IoU
// matching within the same class. It is not safe for concurrent use; the
// server keeps one per stream.
type Tracker struct {
	IoUThreshold float64
	MaxAge       int

	nextID uint64
	tracks []*track
}

type track struct {
	id     uint64
	label  string
	box    detection.BBox
	missed int
}

// NewTracker creates a tracker with default thresholds.
func NewTracker() *Tracker {
	return &Tracker{IoUThreshold: DefaultIoUThreshold, MaxAge: DefaultMaxAge}
}

// Update matches dets against live tracks and returns one record per
// detection, in input order. Tracks unmatched for more than MaxAge frames
// are forgotten.
func (t *Tracker) Update(dets []Detection) []detection.Record {
	type pair struct {
		ti, di int
		iou    float64
	}
	var pairs []pair
	for ti, tr := range t.tracks {
		for di, d := range dets {
			if d.Label != tr.label {
				continue
			}
			if iou := tr.box.IoU(d.BBox); iou >= t.IoUThreshold {
				pairs = append(pairs, pair{ti, di, iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	trackFor := make([]*track, len(dets))
	used := make([]bool, len(t.tracks))
	for _, p := range pairs {
		if used[p.ti] || trackFor[p.di] != nil {
			continue
		}
		used[p.ti] = true
		tr := t.tracks[p.ti]
		tr.box = dets[p.di].BBox
		tr.missed = 0
		trackFor[p.di] = tr
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !used[i] {
			tr.missed++
			if tr.missed > t.MaxAge {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	out := make([]detection.Record, len(dets))
	for i, d := range dets {
		tr := trackFor[i]
		if tr == nil {
			t.nextID++
			tr = &track{id: t.nextID, label: d.Label, box: d.BBox}
			t.tracks = append(t.tracks, tr)
		}
		out[i] = detection.Record{
			TrackID:    strconv.FormatUint(tr.id, 10),
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		}
	}
	return out
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}
