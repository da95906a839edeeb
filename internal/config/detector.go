package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DetectorConfig holds the runtime configuration of the detection backend.
type DetectorConfig struct {
	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string

	Port      string  `validate:"required,numeric"`
	ModelPath string  `validate:"required"`
	Threshold float64 `validate:"gt=0,lt=1"`
	NMS       float64 `validate:"gt=0,lt=1"`
	InputSize int     `validate:"gte=32"`

	// Per-address limit on POST /detect.
	RatePerSecond float64 `validate:"gt=0"`
	Burst         int     `validate:"gte=1"`
}

// DefaultDetector returns the backend configuration used when nothing is set.
func DefaultDetector() DetectorConfig {
	return DetectorConfig{
		LogLevel:      "info",
		Port:          "8000",
		ModelPath:     "models/yolov8n.onnx",
		Threshold:     0.5,
		NMS:           0.45,
		InputSize:     640,
		RatePerSecond: 10,
		Burst:         5,
	}
}

// LoadDetector reads an optional .env file and then the environment.
func LoadDetector(envFiles ...string) (DetectorConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return DetectorConfig{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := DefaultDetector()
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Port = getEnv("DETECTOR_PORT", cfg.Port)
	cfg.ModelPath = getEnv("MODEL_PATH", cfg.ModelPath)
	cfg.Threshold = getEnvFloat("DETECT_THRESHOLD", cfg.Threshold)
	cfg.NMS = getEnvFloat("DETECT_NMS", cfg.NMS)
	cfg.InputSize = getEnvInt("DETECT_INPUT_SIZE", cfg.InputSize)
	cfg.RatePerSecond = getEnvFloat("DETECT_RATE", cfg.RatePerSecond)
	cfg.Burst = getEnvInt("DETECT_BURST", cfg.Burst)

	if err := validate.Struct(cfg); err != nil {
		return DetectorConfig{}, fmt.Errorf("invalid detector config: %w", err)
	}
	return cfg, nil
}
