// Package overlay paints detection boxes and labels over the current video
// frame. The paint loop runs on its own refresh ticker and only reads the
// latest frame and the latest accepted batch; it never waits on the network.
package overlay

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/capture"
	"github.com/teslashibe/go-vista/pkg/detection"
)

// DefaultInterval is a 30 Hz refresh.
const DefaultInterval = time.Second / 30

// Canvas is a drawing surface sized to the current frame.
type Canvas interface {
	// Begin resizes the surface to the frame and clears the previous paint.
	Begin(frame capture.Frame)
	StrokeRect(r image.Rectangle, c color.RGBA, width int)
	// FillRect fills r, blending when c.A < 255.
	FillRect(r image.Rectangle, c color.RGBA)
	Text(s string, at image.Point, c color.RGBA, scale float64)
	// TextWidth returns the rendered width of s in pixels.
	TextWidth(s string, scale float64) int
	// End completes the paint.
	End()
}

// BatchSource provides the latest accepted batch.
type BatchSource interface {
	Latest() (detection.Batch, bool)
}

// Style is the fixed high-contrast look of the overlay.
type Style struct {
	Stroke      color.RGBA
	StrokeWidth int
	LabelFill   color.RGBA
	LabelText   color.RGBA
	FontScale   float64
	LineHeight  int
	Padding     int
}

// DefaultStyle is a 4px pure green stroke with white text on a 60% black
// label block.
func DefaultStyle() Style {
	return Style{
		Stroke:      color.RGBA{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF},
		StrokeWidth: 4,
		LabelFill:   color.RGBA{R: 0, G: 0, B: 0, A: 153},
		LabelText:   color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		FontScale:   0.6,
		LineHeight:  22,
		Padding:     5,
	}
}

// Key identifies a batch for display ordering.
type Key struct {
	Epoch    uint64
	Sequence uint64
}

// Stats are cumulative paint counters.
type Stats struct {
	Paints  uint64 `json:"paints"`
	Skipped uint64 `json:"skipped"`
	Boxes   uint64 `json:"boxes"`
}

// Renderer runs the paint loop.
type Renderer struct {
	frames   capture.Source
	batches  BatchSource
	canvas   Canvas
	style    Style
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	displayed detection.Batch
	have      bool

	paints  atomic.Uint64
	skipped atomic.Uint64
	boxes   atomic.Uint64
}

// NewRenderer creates a renderer. interval <= 0 selects DefaultInterval.
func NewRenderer(frames capture.Source, batches BatchSource, canvas Canvas, interval time.Duration) *Renderer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Renderer{
		frames:   frames,
		batches:  batches,
		canvas:   canvas,
		style:    DefaultStyle(),
		interval: interval,
		logger:   log.Component("overlay"),
	}
}

// SetStyle replaces the style. Call before Run.
func (r *Renderer) SetStyle(s Style) {
	r.style = s
}

// Run paints on every tick until ctx is done.
func (r *Renderer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("overlay renderer started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Paint()
		}
	}
}

// Paint draws one frame. It returns false when no frame with nonzero
// dimensions is available yet.
func (r *Renderer) Paint() bool {
	frame, ok := r.frames.Latest()
	if !ok || frame.Width <= 0 || frame.Height <= 0 {
		r.skipped.Add(1)
		return false
	}

	batch, have := r.current()

	r.canvas.Begin(frame)
	if have {
		sx, sy := scale(batch, frame)
		for _, rec := range batch.Records {
			r.drawRecord(rec, sx, sy, frame.Width, frame.Height)
		}
		r.boxes.Add(uint64(len(batch.Records)))
	}
	r.canvas.End()
	r.paints.Add(1)
	return true
}

// current returns the batch to draw: the source's latest unless that would
// move the display backwards.
func (r *Renderer) current() (detection.Batch, bool) {
	latest, ok := r.batches.Latest()

	r.mu.Lock()
	defer r.mu.Unlock()
	if ok && (!r.have || !r.displayed.NewerThan(latest)) {
		r.displayed = latest
		r.have = true
	}
	return r.displayed, r.have
}

// DisplayedSequence reports the key of the batch last chosen for display.
func (r *Renderer) DisplayedSequence() (Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Key{Epoch: r.displayed.Epoch, Sequence: r.displayed.Sequence}, r.have
}

// Reset forgets the displayed batch.
func (r *Renderer) Reset() {
	r.mu.Lock()
	r.displayed = detection.Batch{}
	r.have = false
	r.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (r *Renderer) Stats() Stats {
	return Stats{
		Paints:  r.paints.Load(),
		Skipped: r.skipped.Load(),
		Boxes:   r.boxes.Load(),
	}
}

// scale maps batch coordinates (in the sent frame's pixels) onto the
// current frame.
func scale(b detection.Batch, f capture.Frame) (float64, float64) {
	if b.FrameWidth <= 0 || b.FrameHeight <= 0 {
		return 1, 1
	}
	return float64(f.Width) / float64(b.FrameWidth), float64(f.Height) / float64(b.FrameHeight)
}

// Labels returns the two label lines drawn for a record.
func Labels(rec detection.Record) (string, string) {
	first := fmt.Sprintf("ID %s | %s", rec.TrackID, rec.Label)
	pos := string(rec.Position)
	if pos == "" {
		pos = "unknown"
	}
	dist := rec.Distance
	if dist == "" {
		dist = "unknown"
	}
	return first, pos + ", " + dist
}

func (r *Renderer) drawRecord(rec detection.Record, sx, sy float64, fw, fh int) {
	s := r.style
	box := image.Rect(
		int(rec.BBox.X1*sx), int(rec.BBox.Y1*sy),
		int(rec.BBox.X2*sx), int(rec.BBox.Y2*sy),
	).Intersect(image.Rect(0, 0, fw, fh))
	if box.Empty() {
		return
	}
	r.canvas.StrokeRect(box, s.Stroke, s.StrokeWidth)

	line1, line2 := Labels(rec)
	w := max(r.canvas.TextWidth(line1, s.FontScale), r.canvas.TextWidth(line2, s.FontScale)) + 2*s.Padding
	h := 2 * s.LineHeight

	// Above the box when there is room, otherwise just inside its top edge.
	top := box.Min.Y - h
	if top < 0 {
		top = box.Min.Y
	}
	block := image.Rect(box.Min.X, top, box.Min.X+w, top+h)
	r.canvas.FillRect(block, s.LabelFill)

	baseline := top + s.LineHeight - s.Padding
	r.canvas.Text(line1, image.Pt(box.Min.X+s.Padding, baseline), s.LabelText, s.FontScale)
	r.canvas.Text(line2, image.Pt(box.Min.X+s.Padding, baseline+s.LineHeight), s.LabelText, s.FontScale)
}
