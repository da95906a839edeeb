// Package matcanvas implements overlay.Canvas on an OpenCV mat and publishes
// every finished paint as a JPEG.
package matcanvas

import (
	"image"
	"image/color"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/capture"
)

const (
	font          = gocv.FontHersheySimplex
	textThickness = 1
)

// Canvas draws onto a copy of the current frame.
type Canvas struct {
	quality int
	logger  *slog.Logger

	// mat is only touched from the paint goroutine.
	mat   gocv.Mat
	ready bool

	mu        sync.Mutex
	latest    []byte
	listeners map[int]func([]byte)
	nextID    int
}

// New creates a canvas encoding finished paints at quality (1-100).
func New(quality int) *Canvas {
	if quality < 1 || quality > 100 {
		quality = camera.DefaultConfig().Quality
	}
	return &Canvas{
		quality:   quality,
		logger:    log.Component("overlay.mat"),
		mat:       gocv.NewMat(),
		listeners: make(map[int]func([]byte)),
	}
}

// Begin copies the frame into the working mat.
func (c *Canvas) Begin(f capture.Frame) {
	c.ready = false
	if len(f.Data) != f.Width*f.Height*3 {
		c.logger.Debug("frame size mismatch", "width", f.Width, "height", f.Height, "bytes", len(f.Data))
		return
	}
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		c.logger.Warn("mat from frame", "error", err)
		return
	}
	defer src.Close()
	src.CopyTo(&c.mat)
	c.ready = true
}

// StrokeRect outlines r.
func (c *Canvas) StrokeRect(r image.Rectangle, col color.RGBA, width int) {
	if !c.ready {
		return
	}
	if err := gocv.Rectangle(&c.mat, r, col, width); err != nil {
		c.logger.Debug("rectangle", "error", err)
	}
}

// FillRect fills r, alpha-blending translucent colors.
func (c *Canvas) FillRect(r image.Rectangle, col color.RGBA) {
	if !c.ready {
		return
	}
	r = r.Intersect(image.Rect(0, 0, c.mat.Cols(), c.mat.Rows()))
	if r.Empty() {
		return
	}
	solid := color.RGBA{R: col.R, G: col.G, B: col.B, A: 0xFF}
	if col.A == 0xFF {
		_ = gocv.Rectangle(&c.mat, r, solid, -1)
		return
	}

	roi := c.mat.Region(r)
	defer roi.Close()
	fill := roi.Clone()
	defer fill.Close()
	_ = gocv.Rectangle(&fill, image.Rect(0, 0, r.Dx(), r.Dy()), solid, -1)

	alpha := float64(col.A) / 255
	gocv.AddWeighted(roi, 1-alpha, fill, alpha, 0, &roi)
}

// Text draws s with its baseline at at.
func (c *Canvas) Text(s string, at image.Point, col color.RGBA, scale float64) {
	if !c.ready {
		return
	}
	if err := gocv.PutText(&c.mat, s, at, font, scale, col, textThickness); err != nil {
		c.logger.Debug("text", "error", err)
	}
}

// TextWidth measures s in the canvas font.
func (c *Canvas) TextWidth(s string, scale float64) int {
	return gocv.GetTextSize(s, font, scale, textThickness).X
}

// End encodes the paint and hands it to every listener.
func (c *Canvas) End() {
	if !c.ready {
		return
	}
	jpeg, err := camera.EncodeMat(c.mat, c.quality)
	if err != nil {
		c.logger.Warn("encode overlay", "error", err)
		return
	}

	c.mu.Lock()
	c.latest = jpeg
	fns := make([]func([]byte), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(jpeg)
	}
}

// Latest returns the most recent encoded paint, or nil.
func (c *Canvas) Latest() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// OnPaint registers fn for finished paints and returns a function removing it.
// fn runs on the paint goroutine and must not block.
func (c *Canvas) OnPaint(fn func([]byte)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close releases the working mat. Call after the renderer has stopped.
func (c *Canvas) Close() error {
	c.ready = false
	return c.mat.Close()
}
