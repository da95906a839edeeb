// Package protocol defines the wire messages shared by the vista client, the
// dashboard and the detection backend.
package protocol

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType identifies the type of dashboard WebSocket message
type MessageType string

const (
	// Client → Dashboard messages
	TypeStatus       MessageType = "status"       // Session and connection state
	TypeAnnouncement MessageType = "announcement" // Live region update
	TypeBatch        MessageType = "batch"        // Latest accepted detections

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all dashboard WebSocket messages
type Message struct {
	Type      MessageType         `json:"type"`
	Timestamp int64               `json:"ts,omitempty"` // Unix milliseconds
	Data      jsoniter.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData jsoniter.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Dashboard payloads
// =============================================================================

// StatusData mirrors the session state for the dashboard.
type StatusData struct {
	SessionID   string `json:"session_id,omitempty"`
	Running     bool   `json:"running"`
	Connection  string `json:"connection"` // Disconnected, Connecting, Connected, ...
	Transport   string `json:"transport"`  // "websocket" or "http"
	Navigating  bool   `json:"navigating"`
	Destination string `json:"destination,omitempty"`
	SpeechMuted bool   `json:"speech_degraded"`

	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	Batches       uint64 `json:"batches"`
	Reconnects    uint64 `json:"reconnects"`
}

// AnnouncementData is one live region entry.
type AnnouncementData struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"` // obstacle, navigation, detection, system
	Spoken bool   `json:"spoken"`
	At     int64  `json:"at"` // Unix milliseconds
}

// BatchData is the latest accepted detection batch.
type BatchData struct {
	Epoch    uint64   `json:"epoch"`
	Sequence uint64   `json:"sequence"`
	Objects  []Object `json:"objects"`
	Summary  string   `json:"summary,omitempty"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
