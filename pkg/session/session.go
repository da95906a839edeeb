// Package session owns one run of the assistance pipeline: camera, capture
// loop, detection channel, decoder, overlay, announcements and navigation.
//
// A run starts only if the camera can be acquired. Stopping always tears the
// pipeline down in the same order: capture ticker, camera, detection channel,
// speech.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/capture"
	"github.com/teslashibe/go-vista/pkg/conn"
	"github.com/teslashibe/go-vista/pkg/navigation"
	"github.com/teslashibe/go-vista/pkg/overlay"
	"github.com/teslashibe/go-vista/pkg/speech"
	"github.com/teslashibe/go-vista/pkg/stream"
)

var (
	// ErrRunning is returned by Start while a run is active.
	ErrRunning = errors.New("session: already running")

	// ErrNotRunning is returned by operations that need an active run.
	ErrNotRunning = errors.New("session: not running")

	// ErrStopped is returned by Start when Stop was called before the run
	// finished starting.
	ErrStopped = errors.New("session: stopped while starting")
)

// Device is an open camera.
type Device interface {
	capture.Device
	Apply(cfg camera.Config) error
}

// Encoder turns frames into the bytes sent to the detector.
type Encoder interface {
	capture.Encoder
	Apply(cfg camera.Config)
}

// Deps are the pluggable parts of a run.
type Deps struct {
	// OpenDevice acquires the camera for owner.
	OpenDevice func(owner string, cfg camera.Config) (Device, error)
	// NewEncoder creates the frame encoder for a run.
	NewEncoder func(cfg camera.Config) Encoder
	// NewTransport creates the detection channel for a run.
	NewTransport func() (conn.Transport, error)
	// TransportName is reported in status ("websocket" or "http").
	TransportName string

	// Speech may be nil, in which case announcements are text only.
	Speech speech.Engine
	// Canvas may be nil to disable the overlay.
	Canvas overlay.Canvas
	Router navigation.Router
	// Locations resolves navigation endpoints; nil accepts only "lat,lon".
	Locations navigation.LocationResolver
	// Live is shared across runs so the text channel survives restarts.
	Live *announce.LiveRegion
}

// Config tunes a run.
type Config struct {
	CaptureInterval    time.Duration
	RenderInterval     time.Duration
	Debounce           time.Duration
	DangerThreshold    float64
	NavigationInterval time.Duration
	// AnnounceObjects enables one-time remarks for newly tracked objects.
	AnnounceObjects bool
}

// DefaultConfig matches the stock client.
func DefaultConfig() Config {
	return Config{
		CaptureInterval:    capture.DefaultInterval,
		RenderInterval:     overlay.DefaultInterval,
		Debounce:           announce.DefaultDebounce,
		DangerThreshold:    navigation.DefaultDangerThreshold,
		NavigationInterval: navigation.DefaultInterval,
		AnnounceObjects:    true,
	}
}

// State is the lifecycle of the controller.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Status is a snapshot of the controller.
type Status struct {
	SessionID      string              `json:"session_id,omitempty"`
	State          State               `json:"state"`
	Connection     conn.State          `json:"-"`
	Transport      string              `json:"transport"`
	StartedAt      time.Time           `json:"started_at,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
	SpeechDegraded bool                `json:"speech_degraded"`
	Navigation     navigation.Progress `json:"navigation"`

	Capture  capture.Stats  `json:"capture"`
	Channel  conn.Stats     `json:"channel"`
	Decoder  stream.Stats   `json:"decoder"`
	Overlay  overlay.Stats  `json:"overlay"`
	Announce announce.Stats `json:"announce"`
}

// Running reports whether a run is active.
func (s Status) Running() bool {
	return s.State == StateRunning
}
