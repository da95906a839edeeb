package web

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
)

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

// requestID tags every request with a time-ordered id, keeping one supplied
// by the caller.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Locals(RequestIDHeader, id)
		c.Set(RequestIDHeader, id)
		return c.Next()
	}
}

// accessLog logs API requests. Websocket and static traffic is logged at
// debug level only.
func accessLog(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		id, _ := c.Locals(RequestIDHeader).(string)
		attrs := []any{
			"request_id", id,
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		}

		switch {
		case status >= 500:
			logger.Error("server error", attrs...)
		case status >= 400:
			logger.Warn("client error", attrs...)
		case strings.HasPrefix(c.Path(), "/api"):
			logger.Info("request", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
		return err
	}
}
