// Package detector is a reference detection backend: YOLOv8 inference, IoU
// tracking for stable ids, and the streaming and request/response endpoints
// the vista client talks to.
package detector

import (
	"errors"

	"github.com/teslashibe/go-vista/pkg/detection"
)

var (
	// ErrEmptyImage is returned when the payload does not decode to pixels.
	ErrEmptyImage = errors.New("detector: empty image")

	// ErrModelNotFound is returned when the model file is missing.
	ErrModelNotFound = errors.New("detector: model file not found")
)

// Detection is one object found in a frame.
type Detection struct {
	ClassID    int
	Label      string
	Confidence float64
	BBox       detection.BBox // source-frame pixels
}

// Result is the output for one frame.
type Result struct {
	Width      int
	Height     int
	Detections []Detection
}

// Detector finds objects in JPEG frames.
type Detector interface {
	Detect(jpeg []byte) (Result, error)
	Close() error
}

// Untracked converts detections to records without track ids.
func Untracked(dets []Detection) []detection.Record {
	out := make([]detection.Record, len(dets))
	for i, d := range dets {
		out[i] = detection.Record{Label: d.Label, Confidence: d.Confidence, BBox: d.BBox}
	}
	return out
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassName returns the COCO name for id, or "object".
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return "object"
	}
	return COCOClasses[id]
}
