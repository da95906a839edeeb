package speech

import (
	"log/slog"
	"time"
)

// Config holds engine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Command is the synthesizer binary for the local engine.
	Command string
	Voice   string

	// Rate is in words per minute.
	Rate int
	// Volume is 0.0-1.0.
	Volume float64

	// Remote synthesis
	APIKey  string
	BaseURL string
	Model   string
	// Player receives synthesized audio on stdin.
	Player []string

	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring engines.
type Option func(*Config)

// WithCommand sets the local synthesizer binary.
func WithCommand(cmd string) Option {
	return func(c *Config) {
		c.Command = cmd
	}
}

// WithVoice sets the voice name.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithRate sets the speaking rate in words per minute.
func WithRate(wpm int) Option {
	return func(c *Config) {
		c.Rate = wpm
	}
}

// WithVolume sets the volume (0.0-1.0).
func WithVolume(v float64) Option {
	return func(c *Config) {
		c.Volume = v
	}
}

// WithAPIKey sets the API key for remote synthesis.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the remote synthesis endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel sets the remote synthesis model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithPlayer sets the audio player command line.
func WithPlayer(argv ...string) Option {
	return func(c *Config) {
		c.Player = argv
	}
}

// WithTimeout bounds remote synthesis requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Command: "espeak-ng",
		Voice:   "en",
		Rate:    160,
		Volume:  1.0,
		Model:   ModelTTS1,
		Player:  []string{"mpg123", "-q", "-"},
		Timeout: 15 * time.Second,
		Logger:  slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) clamp() {
	if c.Rate <= 0 {
		c.Rate = 160
	}
	if c.Volume < 0 {
		c.Volume = 0
	}
	if c.Volume > 1 {
		c.Volume = 1
	}
}
