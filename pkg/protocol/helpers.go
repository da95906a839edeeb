package protocol

import (
	"encoding/base64"

	"github.com/teslashibe/go-vista/pkg/detection"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStatusMessage creates a status message
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewAnnouncementMessage creates a live region message
func NewAnnouncementMessage(a AnnouncementData) (*Message, error) {
	return NewMessage(TypeAnnouncement, a)
}

// NewBatchMessage creates a batch message from an accepted batch
func NewBatchMessage(b detection.Batch) (*Message, error) {
	return NewMessage(TypeBatch, BatchData{
		Epoch:    b.Epoch,
		Sequence: b.Sequence,
		Objects:  ObjectsFromRecords(b.Records),
		Summary:  detection.Summary(b.Labels()),
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: ts})
}

// NewPongMessage creates a pong response to a ping
func NewPongMessage(ping PingData, now int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        ping.ID,
		PingTS:    ping.Timestamp,
		PongTS:    now,
		LatencyMs: now - ping.Timestamp,
	})
}

// NewDetectionMessage creates a streamed batch for the given sequence
func NewDetectionMessage(seq uint64, width, height int, records []detection.Record) *DetectionMessage {
	return &DetectionMessage{
		Sequence: &seq,
		Width:    width,
		Height:   height,
		Objects:  ObjectsFromRecords(records),
		Summary:  detection.Summary(labels(records)),
	}
}

// NewDetectRequest encodes a JPEG for POST /detect
func NewDetectRequest(jpeg []byte) DetectRequest {
	return DetectRequest{Image: base64.StdEncoding.EncodeToString(jpeg)}
}

// DecodeImage returns the raw image bytes of a request. A data URL prefix
// ("data:image/jpeg;base64,") is tolerated.
func (r DetectRequest) DecodeImage() ([]byte, error) {
	s := r.Image
	for i := 0; i < len(s) && i < 64; i++ {
		if s[i] == ',' {
			s = s[i+1:]
			break
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

// ObjectsFromRecords converts records to wire objects.
func ObjectsFromRecords(records []detection.Record) []Object {
	out := make([]Object, len(records))
	for i, r := range records {
		out[i] = ObjectFromRecord(r)
	}
	return out
}

func labels(records []detection.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Label
	}
	return out
}
