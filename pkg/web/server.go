// Package web provides the real-time dashboard for the vision assistant:
// session control, navigation, the live announcement region and the
// annotated camera view.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/teslashibe/go-vista/internal/log"
	"github.com/teslashibe/go-vista/pkg/announce"
	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/detection"
	"github.com/teslashibe/go-vista/pkg/hub"
	"github.com/teslashibe/go-vista/pkg/navigation"
	"github.com/teslashibe/go-vista/pkg/protocol"
	"github.com/teslashibe/go-vista/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is the part of session.Controller the dashboard drives.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Status() session.Status
	StartNavigation(ctx context.Context, start, destination string) error
	StopNavigation() error
	OnStatus(fn func(session.Status)) func()
	OnBatch(fn func(detection.Batch)) func()
	Live() *announce.LiveRegion
	Camera() *camera.Manager
	Locations() navigation.LocationResolver
}

var _ Session = (*session.Controller)(nil)

// OverlaySource publishes composited overlay frames as JPEG.
type OverlaySource interface {
	Latest() []byte
	OnPaint(fn func([]byte)) func()
}

// Options configures the dashboard.
type Options struct {
	Port string
	// StaticDir is served at "/" when set.
	StaticDir string
	// LocationsFile receives saved locations when the resolver supports it.
	LocationsFile string
	Overlay       OverlaySource
}

// Server is the web dashboard server
type Server struct {
	app      *fiber.App
	opts     Options
	session  Session
	logger   *slog.Logger
	validate *validator.Validate

	// Hubs for websocket broadcast
	statusHub   *hub.Hub
	announceHub *hub.Hub
	overlayHub  *hub.Hub

	mu     sync.Mutex
	runCtx context.Context
	unsubs []func()
}

// NewServer creates a new web dashboard server
func NewServer(sess Session, opts Options) *Server {
	s := &Server{
		opts:     opts,
		session:  sess,
		logger:   log.Component("web"),
		validate: validator.New(),
		runCtx:   context.Background(),
	}
	s.statusHub = hub.New("status", hub.Options{
		Greeting:  s.statusGreeting,
		OnMessage: s.handleClientMessage,
	})
	s.announceHub = hub.New("announcements", hub.Options{Greeting: s.announceGreeting})
	// Overlay frames are large; a short queue keeps slow viewers near live.
	s.overlayHub = hub.New("overlay", hub.Options{Buffer: 4})

	app := fiber.New(fiber.Config{
		AppName:               "Vista Dashboard",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(requestID())
	app.Use(accessLog(s.logger))
	// CORS for local development
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/navigation/start", s.handleNavigationStart)
	api.Post("/navigation/stop", s.handleNavigationStop)
	api.Get("/announcements", s.handleAnnouncements)
	api.Get("/locations", s.handleListLocations)
	api.Post("/locations", s.handleSaveLocation)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	api.Get("/overlay.jpg", s.handleOverlayFrame)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/announcements", websocket.New(s.serveHub(s.announceHub)))
	app.Get("/ws/overlay", websocket.New(s.serveHub(s.overlayHub)))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs, subscribes to the session and serves until ctx is
// done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.attach(ctx)
	defer s.detach()

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "url", "http://localhost:"+s.opts.Port)
	return s.app.Listen(":" + s.opts.Port)
}

// attach starts the hubs and forwards session events to them. Runs started
// from the dashboard live as long as ctx.
func (s *Server) attach(ctx context.Context) {
	go s.statusHub.Run(ctx)
	go s.announceHub.Run(ctx)
	go s.overlayHub.Run(ctx)

	unsubs := []func(){
		s.session.OnStatus(s.broadcastStatus),
		s.session.OnBatch(s.broadcastBatch),
		s.session.Live().OnUpdate(s.broadcastEntry),
	}
	if s.opts.Overlay != nil {
		unsubs = append(unsubs, s.opts.Overlay.OnPaint(s.overlayHub.BroadcastBinary))
	}

	s.mu.Lock()
	s.runCtx = ctx
	s.unsubs = unsubs
	s.mu.Unlock()
}

func (s *Server) detach() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	s.detach()
	return s.app.Shutdown()
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.Serve(h, c)
	}
}

func (s *Server) statusGreeting() []hub.Message {
	msg, err := protocol.NewStatusMessage(StatusData(s.session.Status()))
	if err != nil {
		return nil
	}
	return encode(msg)
}

func (s *Server) announceGreeting() []hub.Message {
	var out []hub.Message
	for _, e := range s.session.Live().History() {
		msg, err := protocol.NewAnnouncementMessage(EntryData(e))
		if err != nil {
			continue
		}
		out = append(out, encode(msg)...)
	}
	return out
}

// handleClientMessage answers dashboard pings on the status socket.
func (s *Server) handleClientMessage(c *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypePing {
		return
	}
	var ping protocol.PingData
	if err := msg.ParseData(&ping); err != nil {
		return
	}
	pong, err := protocol.NewPongMessage(ping, time.Now().UnixMilli())
	if err != nil {
		return
	}
	for _, m := range encode(pong) {
		s.statusHub.SendTo(c, m)
	}
}

func (s *Server) broadcastStatus(st session.Status) {
	if msg, err := protocol.NewStatusMessage(StatusData(st)); err == nil {
		s.broadcast(s.statusHub, msg)
	}
}

func (s *Server) broadcastBatch(b detection.Batch) {
	if msg, err := protocol.NewBatchMessage(b); err == nil {
		s.broadcast(s.statusHub, msg)
	}
}

func (s *Server) broadcastEntry(e announce.Entry) {
	if msg, err := protocol.NewAnnouncementMessage(EntryData(e)); err == nil {
		s.broadcast(s.announceHub, msg)
	}
}

func (s *Server) broadcast(h *hub.Hub, msg *protocol.Message) {
	for _, m := range encode(msg) {
		h.Broadcast(m)
	}
}

func encode(msg *protocol.Message) []hub.Message {
	data, err := msg.Bytes()
	if err != nil {
		return nil
	}
	return []hub.Message{hub.TextMessage(data)}
}

// StatusData maps a session snapshot onto the dashboard payload.
func StatusData(st session.Status) protocol.StatusData {
	return protocol.StatusData{
		SessionID:     st.SessionID,
		Running:       st.Running(),
		Connection:    st.Connection.String(),
		Transport:     st.Transport,
		Navigating:    st.Navigation.Active,
		Destination:   st.Navigation.Destination,
		SpeechMuted:   st.SpeechDegraded,
		FramesSent:    st.Capture.Sent,
		FramesDropped: st.Capture.Dropped,
		Batches:       st.Decoder.Accepted,
		Reconnects:    st.Channel.Reconnects,
	}
}

// EntryData maps a live region entry onto the dashboard payload.
func EntryData(e announce.Entry) protocol.AnnouncementData {
	return protocol.AnnouncementData{
		ID:     e.ID,
		Text:   e.Text,
		Source: e.Source.String(),
		Spoken: e.Spoken,
		At:     e.At.UnixMilli(),
	}
}
