package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice means no capture device could be opened at the index.
	ErrNoDevice = errors.New("camera: no capture device")

	// ErrPermissionDenied means the device exists but access was refused.
	ErrPermissionDenied = errors.New("camera: permission denied")

	// ErrDeviceBusy means another session already holds the device.
	ErrDeviceBusy = errors.New("camera: device in use by another session")

	// ErrInvalidFrame is returned by the encoder for empty frames.
	ErrInvalidFrame = errors.New("camera: invalid frame")
)

// OpenError describes a failure to acquire a capture device.
type OpenError struct {
	Device int
	Err    error
	Cause  error
}

func (e *OpenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("camera %d: %v: %v", e.Device, e.Err, e.Cause)
	}
	return fmt.Sprintf("camera %d: %v", e.Device, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// IsPermissionError reports whether err means the session cannot start
// because the capture device is unavailable.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrNoDevice) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceBusy)
}
