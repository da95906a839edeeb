// detectd: reference detection backend for vista. Runs YOLOv8 on incoming
// JPEG frames and answers over a persistent websocket stream (/ws/detect)
// or one request at a time (POST /detect).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-vista/internal/config"
	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/detector"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file to load before reading variables")
	allowNoModel := flag.Bool("allow-no-model", false, "Serve even if the model cannot be loaded")
	flag.Parse()

	cfg, err := config.LoadDetector(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	log.InitWithOptions(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	logger := log.Component("detectd")

	var det detector.Detector
	yolo, err := detector.NewYOLO(detector.YOLOConfig{
		ModelPath:        cfg.ModelPath,
		ConfidenceThresh: float32(cfg.Threshold),
		NMSThresh:        float32(cfg.NMS),
		InputWidth:       cfg.InputSize,
		InputHeight:      cfg.InputSize,
	})
	switch {
	case err == nil:
		det = yolo
		defer yolo.Close()
		logger.Info("model loaded", "path", cfg.ModelPath)
	case *allowNoModel:
		logger.Warn("serving without a model", "error", err)
	default:
		logger.Error("model load failed", "error", err)
		os.Exit(1)
	}

	srv, err := detector.NewServer(det, detector.Config{
		Port:          cfg.Port,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		BodyLimit:     detector.DefaultConfig().BodyLimit,
	})
	if err != nil {
		logger.Error("server config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
