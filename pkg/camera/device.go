package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/capture"
)

// Device is an open capture device. A background goroutine reads frames as
// fast as the device produces them and keeps only the newest one, so
// consumers polling at a lower rate never see a stale buffered frame.
type Device struct {
	id      int
	cap     *gocv.VideoCapture
	logger  *slog.Logger
	release func()

	mu     sync.RWMutex
	latest capture.Frame
	have   bool
	mirror bool
	seq    uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open acquires the device described by cfg. When reg is non-nil the device
// is leased to owner for the lifetime of the returned Device.
func Open(reg *Registry, owner string, cfg Config) (*Device, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}

	release := func() {}
	if reg != nil {
		r, err := reg.Acquire(cfg.Device, owner)
		if err != nil {
			return nil, &OpenError{Device: cfg.Device, Err: ErrDeviceBusy, Cause: err}
		}
		release = r
	}

	if err := checkDeviceNode(cfg.Device); err != nil {
		release()
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		release()
		return nil, &OpenError{Device: cfg.Device, Err: ErrNoDevice, Cause: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		release()
		return nil, &OpenError{Device: cfg.Device, Err: ErrNoDevice}
	}

	// Resolution and rate are hints; the device may pick something else.
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	d := &Device{
		id:      cfg.Device,
		cap:     vc,
		logger:  log.Component("camera").With("device", cfg.Device),
		release: release,
		mirror:  cfg.Mirror,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.grab()

	d.logger.Info("camera opened",
		"requested", fmt.Sprintf("%dx%d@%d", cfg.Width, cfg.Height, cfg.Framerate),
		"actual_width", vc.Get(gocv.VideoCaptureFrameWidth),
		"actual_height", vc.Get(gocv.VideoCaptureFrameHeight))
	return d, nil
}

// checkDeviceNode distinguishes "denied" from "missing" on systems with
// /dev/videoN nodes. Elsewhere it is a no-op.
func checkDeviceNode(id int) error {
	path := fmt.Sprintf("/dev/video%d", id)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &OpenError{Device: id, Err: ErrPermissionDenied, Cause: err}
		}
		return nil
	}
	f.Close()
	return nil
}

// Latest returns the newest frame, or false before the first one arrives.
func (d *Device) Latest() (capture.Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.have
}

// Apply updates capture hints on the open device. The device index cannot
// change without reopening.
func (d *Device) Apply(cfg Config) error {
	if cfg.Device != d.id {
		return fmt.Errorf("camera: device index change requires restart")
	}
	d.mu.Lock()
	d.mirror = cfg.Mirror
	d.mu.Unlock()

	d.cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	d.cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	d.cap.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	return nil
}

// Close stops the grabber, releases the hardware and the lease.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.done
		err = d.cap.Close()
		d.release()

		d.mu.Lock()
		d.latest = capture.Frame{}
		d.have = false
		d.mu.Unlock()
		d.logger.Info("camera released")
	})
	return err
}

func (d *Device) grab() {
	defer close(d.done)

	img := gocv.NewMat()
	defer img.Close()
	flipped := gocv.NewMat()
	defer flipped.Close()

	misses := 0
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		if ok := d.cap.Read(&img); !ok || img.Empty() {
			misses++
			if misses == 30 {
				d.logger.Warn("camera not producing frames")
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0

		d.mu.RLock()
		mirror := d.mirror
		d.mu.RUnlock()

		src := img
		if mirror {
			gocv.Flip(img, &flipped, 1)
			src = flipped
		}

		f := capture.Frame{
			Data:     src.ToBytes(),
			Width:    src.Cols(),
			Height:   src.Rows(),
			Captured: time.Now(),
		}

		d.mu.Lock()
		d.seq++
		f.Seq = d.seq
		d.latest = f
		d.have = true
		d.mu.Unlock()
	}
}
