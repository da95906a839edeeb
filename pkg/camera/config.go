// Package camera provides the capture device for vista: runtime-configurable
// resolution hints, a gocv-backed device that keeps only the newest frame,
// JPEG encoding, and exclusive device leases.
package camera

// Config holds the capture configuration.
// These can be modified via the camera API at runtime.
type Config struct {
	// === Capture ===
	Device    int `json:"device"`    // Video device index (/dev/videoN)
	Width     int `json:"width"`     // Requested frame width in pixels (a hint)
	Height    int `json:"height"`    // Requested frame height in pixels (a hint)
	Framerate int `json:"framerate"` // Requested device FPS

	// === Encoding ===
	// Frames are downsampled to EncodeWidth x EncodeHeight before being
	// sent to the backend. Zero keeps the native size.
	EncodeWidth  int `json:"encode_width"`
	EncodeHeight int `json:"encode_height"`
	Quality      int `json:"quality"` // JPEG quality 1-100

	// Mirror flips frames horizontally (front-facing cameras).
	Mirror bool `json:"mirror"`
}

// Limits accepted by Validate.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns the recommended configuration: a 720p capture hint
// downsampled to 640x480 at quality 70 for transmission.
func DefaultConfig() Config {
	return Config{
		Device:       0,
		Width:        1280,
		Height:       720,
		Framerate:    30,
		EncodeWidth:  640,
		EncodeHeight: 480,
		Quality:      70,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must not be negative")
	}
	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	// Encode size is all-or-nothing
	if (c.EncodeWidth == 0) != (c.EncodeHeight == 0) {
		errors = append(errors, "encode_width and encode_height must both be set or both be 0")
	}
	if c.EncodeWidth < 0 || c.EncodeHeight < 0 {
		errors = append(errors, "encode size must not be negative")
	}

	return errors
}

// QualityFraction returns Quality as 0..1.
func (c Config) QualityFraction() float64 {
	return float64(c.Quality) / 100
}

// QualityFromFraction converts a 0..1 quality into the 1..100 scale.
func QualityFromFraction(q float64) int {
	v := int(q*100 + 0.5)
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
