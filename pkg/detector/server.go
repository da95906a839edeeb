package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	jsoniter "github.com/json-iterator/go"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/detection"
	"github.com/teslashibe/go-vista/pkg/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config configures the backend server.
type Config struct {
	Port string `validate:"required,numeric"`
	// RatePerSecond limits POST /detect per client address.
	RatePerSecond float64 `validate:"gt=0"`
	Burst         int     `validate:"gte=1"`
	// BodyLimit caps request bodies, base64 frames included.
	BodyLimit int `validate:"gt=0"`
}

// DefaultConfig returns the stock backend settings.
func DefaultConfig() Config {
	return Config{
		Port:          "8000",
		RatePerSecond: 10,
		Burst:         5,
		BodyLimit:     8 * 1024 * 1024,
	}
}

// Stats are cumulative server counters.
type Stats struct {
	Streams    int64  `json:"streams"`
	Frames     uint64 `json:"frames"`
	Requests   uint64 `json:"requests"`
	Failures   uint64 `json:"failures"`
	RateLimits uint64 `json:"rate_limited"`
}

// Server exposes a Detector over /ws/detect, POST /detect and GET /health.
type Server struct {
	app      *fiber.App
	det      Detector
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
	limiter  *ipLimiter

	streams    atomic.Int64
	frames     atomic.Uint64
	requests   atomic.Uint64
	failures   atomic.Uint64
	rateLimits atomic.Uint64
}

// NewServer creates the backend. det may be nil, in which case /health
// reports the model as not loaded and detection endpoints fail.
func NewServer(det Detector, cfg Config) (*Server, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, err
	}

	s := &Server{
		det:      det,
		cfg:      cfg,
		logger:   log.Component("detector"),
		validate: v,
		limiter:  newIPLimiter(cfg.RatePerSecond, cfg.Burst),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Vista Detector",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/stats", func(c *fiber.Ctx) error { return c.JSON(s.Stats()) })
	app.Post("/detect", s.rateLimit, s.handleDetect)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/detect", websocket.New(s.handleStream))

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()
	s.logger.Info("detector listening", "port", s.cfg.Port, "model_loaded", s.det != nil)
	return s.app.Listen(":" + s.cfg.Port)
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Streams:    s.streams.Load(),
		Frames:     s.frames.Load(),
		Requests:   s.requests.Load(),
		Failures:   s.failures.Load(),
		RateLimits: s.rateLimits.Load(),
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(protocol.HealthResponse{Status: "ok", ModelLoaded: s.det != nil})
}

func (s *Server) rateLimit(c *fiber.Ctx) error {
	if !s.limiter.Allow(c.IP()) {
		s.rateLimits.Add(1)
		s.logger.Warn("too many requests", "ip", c.IP())
		return c.Status(fiber.StatusTooManyRequests).JSON(protocol.DetectResponse{
			Error: "too many requests",
		})
	}
	return c.Next()
}

func (s *Server) handleDetect(c *fiber.Ctx) error {
	s.requests.Add(1)

	var req protocol.DetectRequest
	if err := c.BodyParser(&req); err != nil {
		return detectError(c, fiber.StatusBadRequest, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return detectError(c, fiber.StatusBadRequest, errors.New("no image data provided"))
	}
	img, err := req.DecodeImage()
	if err != nil {
		return detectError(c, fiber.StatusBadRequest, err)
	}

	res, err := s.detect(img)
	if err != nil {
		code := fiber.StatusInternalServerError
		if errors.Is(err, ErrEmptyImage) {
			code = fiber.StatusBadRequest
		}
		return detectError(c, code, err)
	}

	records := Untracked(res.Detections)
	return c.JSON(protocol.DetectResponse{
		Success: true,
		Objects: protocol.ObjectsFromRecords(records),
		Count:   len(records),
		Summary: summary(records),
		Width:   res.Width,
		Height:  res.Height,
	})
}

// handleStream serves one persistent detection stream. Each binary frame is
// answered by one text message whose sequence starts at 1 and increases by
// one per frame on this connection.
func (s *Server) handleStream(c *websocket.Conn) {
	n := s.streams.Add(1)
	logger := s.logger.With("remote", c.RemoteAddr().String())
	logger.Info("stream opened", "streams", n)
	defer func() {
		logger.Info("stream closed", "streams", s.streams.Add(-1))
	}()

	tracker := NewTracker()
	var seq uint64
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		seq++
		s.frames.Add(1)

		var msg *protocol.DetectionMessage
		res, err := s.detect(data)
		if err != nil {
			logger.Warn("frame failed", "sequence", seq, "error", err)
			msg = &protocol.DetectionMessage{Sequence: &seq, Objects: []protocol.Object{}, Error: err.Error()}
		} else {
			msg = protocol.NewDetectionMessage(seq, res.Width, res.Height, tracker.Update(res.Detections))
		}

		out, err := msg.Bytes()
		if err != nil {
			logger.Error("encode batch", "error", err)
			return
		}
		if err := c.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func (s *Server) detect(img []byte) (Result, error) {
	if s.det == nil {
		s.failures.Add(1)
		return Result{}, errors.New("model not loaded")
	}
	res, err := s.det.Detect(img)
	if err != nil {
		s.failures.Add(1)
	}
	return res, err
}

func detectError(c *fiber.Ctx, code int, err error) error {
	return c.Status(code).JSON(protocol.DetectResponse{Error: err.Error()})
}

func summary(records []detection.Record) string {
	labels := make([]string, len(records))
	for i, r := range records {
		labels[i] = r.Label
	}
	return detection.Summary(labels)
}
