package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/teslashibe/go-vista/pkg/detection"
)

// ErrMissingSequence is returned when a streamed batch carries no sequence.
var ErrMissingSequence = errors.New("protocol: missing sequence")

// TrackID accepts both numeric and string ids on the wire and always
// encodes as a string.
type TrackID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *TrackID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return fmt.Errorf("track id: %w", err)
		}
		*id = TrackID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("track id: not a number or string: %s", b)
	}
	*id = TrackID(b)
	return nil
}

// Object is one detection on the wire. The class may arrive under "label",
// "class" or "name"; bbox is [x1, y1, x2, y2] in source-frame pixels.
type Object struct {
	ID         TrackID   `json:"id"`
	Label      string    `json:"label,omitempty"`
	Class      string    `json:"class,omitempty"`
	Name       string    `json:"name,omitempty"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
	Position   string    `json:"position,omitempty"`
	Distance   string    `json:"distance,omitempty"`
	Location   *Location `json:"location,omitempty"`
}

// Location is the legacy box encoding used by the request/response endpoint.
type Location struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// ClassLabel returns the class label, whichever field carried it.
func (o Object) ClassLabel() string {
	switch {
	case o.Label != "":
		return o.Label
	case o.Class != "":
		return o.Class
	default:
		return o.Name
	}
}

// Record converts the wire object into a detection.Record. It returns an
// error when the box is missing or not four numbers.
func (o Object) Record() (detection.Record, error) {
	var box detection.BBox
	switch {
	case len(o.BBox) == 4:
		box = detection.BBox{X1: o.BBox[0], Y1: o.BBox[1], X2: o.BBox[2], Y2: o.BBox[3]}
	case o.BBox == nil && o.Location != nil:
		box = detection.BBox{X1: o.Location.X1, Y1: o.Location.Y1, X2: o.Location.X2, Y2: o.Location.Y2}
	default:
		return detection.Record{}, fmt.Errorf("bbox must have 4 values, got %d", len(o.BBox))
	}
	return detection.Record{
		TrackID:    string(o.ID),
		Label:      o.ClassLabel(),
		Confidence: o.Confidence,
		BBox:       box,
		Position:   detection.Position(o.Position),
		Distance:   o.Distance,
	}, nil
}

// ObjectFromRecord is the inverse of Object.Record.
func ObjectFromRecord(r detection.Record) Object {
	return Object{
		ID:         TrackID(r.TrackID),
		Label:      r.Label,
		Confidence: r.Confidence,
		BBox:       []float64{r.BBox.X1, r.BBox.Y1, r.BBox.X2, r.BBox.Y2},
		Position:   string(r.Position),
		Distance:   r.Distance,
	}
}

// DetectionMessage is the streamed batch sent by the backend for each frame.
type DetectionMessage struct {
	Sequence *uint64  `json:"sequence"`
	Width    int      `json:"width,omitempty"`
	Height   int      `json:"height,omitempty"`
	Objects  []Object `json:"objects"`
	Summary  string   `json:"summary,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ParseDetectionMessage decodes a streamed batch. Structural problems are
// returned as errors; record-level validation is left to the caller.
func ParseDetectionMessage(data []byte) (*DetectionMessage, error) {
	var msg DetectionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse detection message: %w", err)
	}
	if msg.Sequence == nil {
		return nil, ErrMissingSequence
	}
	return &msg, nil
}

// Bytes returns the JSON-encoded message
func (m *DetectionMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// DetectRequest is the body of POST /detect.
type DetectRequest struct {
	Image string `json:"image" validate:"required"`
}

// DetectResponse is the reply of POST /detect.
type DetectResponse struct {
	Success bool     `json:"success"`
	Objects []Object `json:"objects,omitempty"`
	Count   int      `json:"count"`
	Summary string   `json:"summary,omitempty"`
	Width   int      `json:"width,omitempty"`
	Height  int      `json:"height,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// HealthResponse is the reply of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}
