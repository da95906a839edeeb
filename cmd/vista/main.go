// vista: real-time detection streaming and spoken guidance for visually
// impaired users. Streams camera frames to a detection backend, draws the
// results over the live view and announces obstacles, objects and route
// instructions without ever talking over itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-vista/internal/config"
	"github.com/teslashibe/go-vista/internal/log"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file to load before reading variables")
	staticDir := flag.String("static", "", "Directory served at / by the dashboard")
	start := flag.Bool("start", false, "Start a session immediately (overrides VISTA_AUTOSTART)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if *start {
		cfg.AutoStart = true
	}
	log.InitWithOptions(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	a, err := newApp(cfg, *staticDir)
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}
