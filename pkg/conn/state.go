package conn

import (
	"context"
	"fmt"
)

// State is the lifecycle state of a connection to the detection backend.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed // terminal
)

var stateNames = [...]string{"Disconnected", "Connecting", "Connected", "Reconnecting", "Closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Transition is one observed state change.
type Transition struct {
	From State
	To   State
	// Err is the cause of a drop into Reconnecting, if any.
	Err error
}

// Handler receives an inbound payload together with the epoch of the
// connection it arrived on. Epochs start at 1 and increase on every
// successful (re)connect.
type Handler func(epoch uint64, payload []byte)

// Stats are cumulative counters for a transport.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Received   uint64 `json:"received"`
	Ignored    uint64 `json:"ignored"`
	Reconnects uint64 `json:"reconnects"`
	Failures   uint64 `json:"failures"`
}

// Transport is the client side of the detection channel. Manager is the
// primary implementation; FallbackSender is the degraded request/response
// mode.
type Transport interface {
	Open(ctx context.Context) error
	Send(frame []byte) bool
	Subscribe(h Handler) func()
	OnStateChange(fn func(Transition))
	State() State
	Stats() Stats
	Close() error
}

var (
	_ Transport = (*Manager)(nil)
	_ Transport = (*FallbackSender)(nil)
)
