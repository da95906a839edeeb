package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-vista/pkg/camera"
	"github.com/teslashibe/go-vista/pkg/navigation"
	"github.com/teslashibe/go-vista/pkg/protocol"
	"github.com/teslashibe/go-vista/pkg/session"
)

// NavigationRequest is the body of POST /api/navigation/start.
type NavigationRequest struct {
	Start       string `json:"start" validate:"required"`
	Destination string `json:"destination" validate:"required"`
}

// LocationRequest is the body of POST /api/locations.
type LocationRequest struct {
	Name      string  `json:"name" validate:"required,max=64"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// locationStore is implemented by resolvers that accept new locations.
type locationStore interface {
	Add(l navigation.Location)
	Save(path string) error
}

// handleStatus returns the session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusData(s.session.Status()))
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.session.Start(s.context()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(StatusData(s.session.Status()))
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.session.Stop(); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(StatusData(s.session.Status()))
}

func (s *Server) handleNavigationStart(c *fiber.Ctx) error {
	var req NavigationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err)
	}
	if err := s.session.StartNavigation(c.UserContext(), req.Start, req.Destination); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.session.Status().Navigation)
}

func (s *Server) handleNavigationStop(c *fiber.Ctx) error {
	if err := s.session.StopNavigation(); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.session.Status().Navigation)
}

// handleAnnouncements returns the live region, oldest first
func (s *Server) handleAnnouncements(c *fiber.Ctx) error {
	history := s.session.Live().History()
	out := make([]protocol.AnnouncementData, len(history))
	for i, e := range history {
		out[i] = EntryData(e)
	}
	return c.JSON(out)
}

func (s *Server) handleListLocations(c *fiber.Ctx) error {
	return c.JSON(s.session.Locations().List())
}

func (s *Server) handleSaveLocation(c *fiber.Ctx) error {
	store, ok := s.session.Locations().(locationStore)
	if !ok {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
			"error": "locations are read-only",
		})
	}

	var req LocationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err)
	}

	loc := navigation.Location{
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SavedAt:   time.Now().UTC(),
	}
	store.Add(loc)
	if s.opts.LocationsFile != "" {
		if err := store.Save(s.opts.LocationsFile); err != nil {
			return s.fail(c, err)
		}
	}
	s.logger.Info("location saved", "name", loc.Name)
	return c.Status(fiber.StatusCreated).JSON(loc)
}

// handleGetCamera returns the camera settings and presets
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"config":  s.session.Camera().Config(),
		"presets": camera.PresetNames(),
	})
}

// handleUpdateCamera applies a partial update, e.g. {"preset":"720p"} or
// {"quality":60}
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var u camera.Update
	if err := c.BodyParser(&u); err != nil {
		return badRequest(c, err)
	}
	cfg, err := s.session.Camera().Apply(u)
	if err != nil {
		return badRequest(c, err)
	}
	return c.JSON(cfg)
}

// handleOverlayFrame returns the last composited frame
func (s *Server) handleOverlayFrame(c *fiber.Ctx) error {
	if s.opts.Overlay == nil {
		return fiber.ErrNotFound
	}
	frame := s.opts.Overlay.Latest()
	if len(frame) == 0 {
		return fiber.ErrNotFound
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(frame)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrStopped),
		errors.Is(err, navigation.ErrNavigating):
		return fiber.StatusConflict
	case camera.IsPermissionError(err):
		return fiber.StatusForbidden
	case errors.Is(err, navigation.ErrUnknownLocation):
		return fiber.StatusNotFound
	case errors.Is(err, navigation.ErrNoRoute):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}
