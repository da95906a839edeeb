package camera

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-vista/pkg/capture"
)

// JPEGEncoder downsamples BGR frames and encodes them as JPEG.
type JPEGEncoder struct {
	mu      sync.RWMutex
	width   int
	height  int
	quality int
}

// NewJPEGEncoder creates an encoder from the encode settings of cfg.
func NewJPEGEncoder(cfg Config) *JPEGEncoder {
	e := &JPEGEncoder{}
	e.Apply(cfg)
	return e
}

// Apply updates the target size and quality.
func (e *JPEGEncoder) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width = cfg.EncodeWidth
	e.height = cfg.EncodeHeight
	e.quality = cfg.Quality
	if e.quality < 1 || e.quality > 100 {
		e.quality = DefaultConfig().Quality
	}
}

// Encode implements capture.Encoder.
func (e *JPEGEncoder) Encode(f capture.Frame) ([]byte, error) {
	if f.Empty() || len(f.Data) != f.Width*f.Height*3 {
		return nil, ErrInvalidFrame
	}

	e.mu.RLock()
	w, h, q := e.width, e.height, e.quality
	e.mu.RUnlock()

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return nil, fmt.Errorf("mat from frame: %w", err)
	}
	defer mat.Close()

	src := mat
	if w > 0 && h > 0 && (w != f.Width || h != f.Height) {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		src = resized
	}

	return EncodeMat(src, q)
}

// EncodeMat JPEG-encodes a BGR mat at the given quality.
func EncodeMat(mat gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
