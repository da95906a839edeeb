package detector

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/detection"
)

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig returns production defaults for YOLOv8n
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// YOLO runs YOLOv8 through the OpenCV DNN module. Inference is serialized.
type YOLO struct {
	net       gocv.Net
	config    YOLOConfig
	inputSize image.Point
	logger    *slog.Logger
	mu        sync.Mutex
}

var _ Detector = (*YOLO)(nil)

// NewYOLO loads the ONNX model at cfg.ModelPath.
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLO{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    log.Component("detector.yolo"),
	}, nil
}

// Detect finds objects in the JPEG image
func (d *YOLO) Detect(jpeg []byte) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return Result{}, ErrEmptyImage
	}

	w, h := img.Cols(), img.Rows()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// [1, 4+classes, anchors]
	dims := output.Size()
	if len(dims) != 3 {
		return Result{}, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return Result{}, fmt.Errorf("read output: %w", err)
	}

	cands := decodeYOLOv8(data, dims[1], dims[2],
		float32(w)/float32(d.config.InputWidth),
		float32(h)/float32(d.config.InputHeight),
		d.config.ConfidenceThresh, w, h)
	dets := d.suppress(cands)

	d.logger.Debug("inference done", "candidates", len(cands), "objects", len(dets))
	return Result{Width: w, Height: h, Detections: dets}, nil
}

// suppress applies non-maximum suppression.
func (d *YOLO) suppress(cands []candidate) []Detection {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThresh, d.config.NMSThresh)
	out := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		c := cands[idx]
		out = append(out, Detection{
			ClassID:    c.classID,
			Label:      ClassName(c.classID),
			Confidence: float64(c.score),
			BBox: detection.BBox{
				X1: float64(c.box.Min.X), Y1: float64(c.box.Min.Y),
				X2: float64(c.box.Max.X), Y2: float64(c.box.Max.Y),
			},
		})
	}
	return out
}

// Close releases the detector resources
func (d *YOLO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
