// Package config provides configuration loading for go-vista commands.
//
// Values come from the environment, optionally seeded from a .env file.
// Every field has a working default so a bare `go run ./cmd/vista` starts
// against a local detector.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Default endpoints.
const (
	DefaultDetectorURL = "ws://localhost:8000/ws/detect"
	DefaultFallbackURL = "http://localhost:8000/detect"
	DefaultRouterURL   = "http://localhost:5000"
	DefaultWebPort     = "8080"
)

// Config holds the runtime configuration of the vista client.
type Config struct {
	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string

	// Transport selects the primary path: "websocket" or the degraded "http".
	Transport   string `validate:"oneof=websocket http"`
	DetectorURL string `validate:"required,url"`
	FallbackURL string `validate:"required,url"`

	ReconnectBase time.Duration `validate:"gt=0"`
	ReconnectMax  time.Duration `validate:"gtefield=ReconnectBase"`

	// Capture
	CameraDevice  int           `validate:"gte=0"`
	CameraPreset  string        `validate:"required"`
	CaptureFPS    float64       `validate:"gt=0,lte=30"`
	JPEGQuality   float64       `validate:"gt=0,lte=1"`
	EncodeWidth   int           `validate:"gte=0"`
	EncodeHeight  int           `validate:"gte=0"`
	RenderHz      float64       `validate:"gt=0,lte=120"`
	DebounceDelay time.Duration `validate:"gt=0"`

	// Speech
	SpeechCommand string
	SpeechRate    int     `validate:"gt=0"`
	SpeechVolume  float64 `validate:"gte=0,lte=1"`
	OpenAIKey     string

	// Navigation
	RouterURL          string        `validate:"required,url"`
	DangerThreshold    float64       `validate:"gt=0"`
	NavigationInterval time.Duration `validate:"gt=0"`
	LocationsFile      string

	// Dashboard
	WebPort   string `validate:"required,numeric"`
	AutoStart bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel:           "info",
		Transport:          "websocket",
		DetectorURL:        DefaultDetectorURL,
		FallbackURL:        DefaultFallbackURL,
		ReconnectBase:      1 * time.Second,
		ReconnectMax:       10 * time.Second,
		CameraDevice:       0,
		CameraPreset:       "720p",
		CaptureFPS:         8,
		JPEGQuality:        0.7,
		EncodeWidth:        640,
		EncodeHeight:       480,
		RenderHz:           30,
		DebounceDelay:      400 * time.Millisecond,
		SpeechCommand:      "espeak-ng",
		SpeechRate:         160,
		SpeechVolume:       1.0,
		RouterURL:          DefaultRouterURL,
		DangerThreshold:    3.0,
		NavigationInterval: 5 * time.Second,
		WebPort:            DefaultWebPort,
	}
}

// Load reads an optional .env file and then the environment.
// A missing .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := Default()
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Transport = strings.ToLower(getEnv("VISTA_TRANSPORT", cfg.Transport))
	cfg.DetectorURL = getEnv("DETECTOR_URL", cfg.DetectorURL)
	cfg.FallbackURL = getEnv("DETECTOR_FALLBACK_URL", cfg.FallbackURL)
	cfg.ReconnectBase = getEnvDuration("RECONNECT_BASE", cfg.ReconnectBase)
	cfg.ReconnectMax = getEnvDuration("RECONNECT_MAX", cfg.ReconnectMax)
	cfg.CameraDevice = getEnvInt("CAMERA_DEVICE", cfg.CameraDevice)
	cfg.CameraPreset = getEnv("CAMERA_PRESET", cfg.CameraPreset)
	cfg.CaptureFPS = getEnvFloat("CAPTURE_FPS", cfg.CaptureFPS)
	cfg.JPEGQuality = getEnvFloat("JPEG_QUALITY", cfg.JPEGQuality)
	cfg.EncodeWidth = getEnvInt("ENCODE_WIDTH", cfg.EncodeWidth)
	cfg.EncodeHeight = getEnvInt("ENCODE_HEIGHT", cfg.EncodeHeight)
	cfg.RenderHz = getEnvFloat("RENDER_HZ", cfg.RenderHz)
	cfg.DebounceDelay = getEnvDuration("ANNOUNCE_DEBOUNCE", cfg.DebounceDelay)
	cfg.SpeechCommand = getEnv("SPEECH_COMMAND", cfg.SpeechCommand)
	cfg.SpeechRate = getEnvInt("SPEECH_RATE", cfg.SpeechRate)
	cfg.SpeechVolume = getEnvFloat("SPEECH_VOLUME", cfg.SpeechVolume)
	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIKey)
	cfg.RouterURL = getEnv("ROUTER_URL", cfg.RouterURL)
	cfg.DangerThreshold = getEnvFloat("DANGER_THRESHOLD", cfg.DangerThreshold)
	cfg.NavigationInterval = getEnvDuration("NAVIGATION_INTERVAL", cfg.NavigationInterval)
	cfg.LocationsFile = getEnv("LOCATIONS_FILE", cfg.LocationsFile)
	cfg.WebPort = getEnv("WEB_PORT", cfg.WebPort)
	cfg.AutoStart = getEnvBool("VISTA_AUTOSTART", cfg.AutoStart)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and cross-field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CaptureInterval converts the capture rate into a ticker period.
func (c Config) CaptureInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.CaptureFPS)
}

// RenderInterval converts the render rate into a ticker period.
func (c Config) RenderInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.RenderHz)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
