package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-vista/internal/config"
	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/conn"
	"github.com/teslashibe/go-vista/pkg/navigation"
	"github.com/teslashibe/go-vista/pkg/overlay/matcanvas"
	"github.com/teslashibe/go-vista/pkg/session"
	"github.com/teslashibe/go-vista/pkg/speech"
	"github.com/teslashibe/go-vista/pkg/web"
)

// app wires the pipeline, the session controller and the dashboard.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	ctrl   *session.Controller
	web    *web.Server
	canvas *matcanvas.Canvas
	speech speech.Engine
}

func newApp(cfg config.Config, staticDir string) (*app, error) {
	a := &app{cfg: cfg, logger: log.Component("vista")}

	camCfg, err := cameraConfig(cfg)
	if err != nil {
		return nil, err
	}
	locs, err := navigation.LoadLocations(cfg.LocationsFile)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}

	a.speech = a.newSpeech()
	a.canvas = matcanvas.New(camCfg.Quality)
	registry := camera.NewRegistry()

	deps := session.Deps{
		OpenDevice: func(owner string, c camera.Config) (session.Device, error) {
			dev, err := camera.Open(registry, owner, c)
			if err != nil {
				return nil, err
			}
			return dev, nil
		},
		NewEncoder: func(c camera.Config) session.Encoder {
			return camera.NewJPEGEncoder(c)
		},
		NewTransport:  a.newTransport,
		TransportName: cfg.Transport,
		Speech:        a.speech,
		Canvas:        a.canvas,
		Router:        navigation.NewOSRM(cfg.RouterURL),
		Locations:     locs,
		Live:          announce.NewLiveRegion(announce.DefaultHistory),
	}

	a.ctrl = session.New(session.Config{
		CaptureInterval:    cfg.CaptureInterval(),
		RenderInterval:     cfg.RenderInterval(),
		Debounce:           cfg.DebounceDelay,
		DangerThreshold:    cfg.DangerThreshold,
		NavigationInterval: cfg.NavigationInterval,
		AnnounceObjects:    true,
	}, deps, camera.NewManager(camCfg))

	a.web = web.NewServer(a.ctrl, web.Options{
		Port:          cfg.WebPort,
		StaticDir:     staticDir,
		LocationsFile: cfg.LocationsFile,
		Overlay:       a.canvas,
	})

	a.logger.Info("vista initialized",
		"transport", cfg.Transport,
		"detector", a.detectorURL(),
		"camera", camCfg.Device,
		"speech", a.speech != nil,
		"locations", len(locs.List()))
	return a, nil
}

// Run serves the dashboard until ctx is done, then tears everything down.
func (a *app) Run(ctx context.Context) error {
	if a.cfg.AutoStart {
		if err := a.ctrl.Start(ctx); err != nil {
			a.logger.Warn("autostart failed", "error", err)
		}
	}

	err := a.web.Start(ctx)

	if stopErr := a.ctrl.Stop(); stopErr != nil {
		a.logger.Warn("session stop", "error", stopErr)
	}
	a.canvas.Close()
	if a.speech != nil {
		a.speech.Close()
	}

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *app) newTransport() (conn.Transport, error) {
	if a.cfg.Transport == "http" {
		det := conn.NewHTTPDetector(a.cfg.FallbackURL, a.cfg.CaptureFPS)
		return conn.NewFallbackSender(det), nil
	}

	mc := conn.DefaultConfig(a.cfg.DetectorURL)
	mc.BaseDelay = a.cfg.ReconnectBase
	mc.MaxDelay = a.cfg.ReconnectMax
	m, err := conn.NewManager(mc)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (a *app) detectorURL() string {
	if a.cfg.Transport == "http" {
		return a.cfg.FallbackURL
	}
	return a.cfg.DetectorURL
}

// newSpeech builds the engine chain: OpenAI voices when a key is set, then
// the local synthesizer. It returns nil when nothing is usable, which leaves
// the live region as the only output.
func (a *app) newSpeech() speech.Engine {
	var engines []speech.Engine

	if a.cfg.OpenAIKey != "" {
		e, err := speech.NewOpenAI(
			speech.WithAPIKey(a.cfg.OpenAIKey),
			speech.WithVolume(a.cfg.SpeechVolume),
		)
		if err != nil {
			a.logger.Warn("openai speech unavailable", "error", err)
		} else {
			engines = append(engines, e)
		}
	}

	cmd, err := speech.NewCommand(
		speech.WithCommand(a.cfg.SpeechCommand),
		speech.WithRate(a.cfg.SpeechRate),
		speech.WithVolume(a.cfg.SpeechVolume),
	)
	if err != nil {
		a.logger.Warn("local speech unavailable", "error", err)
	} else {
		engines = append(engines, cmd)
	}

	chain, err := speech.NewChain(engines...)
	if errors.Is(err, speech.ErrUnavailable) {
		a.logger.Warn("no speech engine, announcements are text only")
		return nil
	}
	if err != nil {
		a.logger.Warn("speech chain", "error", err)
		return nil
	}
	return chain
}

// cameraConfig starts from the named preset and applies the overrides.
func cameraConfig(cfg config.Config) (camera.Config, error) {
	c, ok := camera.Preset(cfg.CameraPreset)
	if !ok {
		return camera.Config{}, fmt.Errorf("unknown camera preset %q (have %v)", cfg.CameraPreset, camera.PresetNames())
	}
	c.Device = cfg.CameraDevice
	c.EncodeWidth = cfg.EncodeWidth
	c.EncodeHeight = cfg.EncodeHeight
	c.Quality = camera.QualityFromFraction(cfg.JPEGQuality)
	if errs := c.Validate(); len(errs) > 0 {
		return camera.Config{}, fmt.Errorf("invalid camera settings: %v", errs)
	}
	return c, nil
}
