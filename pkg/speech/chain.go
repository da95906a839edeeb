package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-vista/internal/log"
)

// Chain implements Engine by trying engines in order.
// The first engine that speaks wins; cancellation is returned at once.
type Chain struct {
	engines []Engine
	logger  *slog.Logger
}

// NewChain creates an engine chain. At least one engine is required.
func NewChain(engines ...Engine) (*Chain, error) {
	if len(engines) == 0 {
		return nil, ErrUnavailable
	}
	return &Chain{
		engines: engines,
		logger:  log.Component("speech.chain"),
	}, nil
}

// Speak tries each engine until one succeeds.
func (c *Chain) Speak(ctx context.Context, text string) error {
	var errs []error
	for i, e := range c.engines {
		err := e.Speak(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback engine spoke", "engine_index", i)
			}
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrEmptyText) {
			return err
		}
		errs = append(errs, err)
		c.logger.Warn("engine failed, trying next", "engine_index", i, "error", err)
	}
	return &ChainError{Errors: errs}
}

// Health returns nil when any engine is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, e := range c.engines {
		if err := e.Health(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d engines unhealthy: %w", len(c.engines), lastErr)
}

// Close closes all engines.
func (c *Chain) Close() error {
	var lastErr error
	for _, e := range c.engines {
		if err := e.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChainError aggregates errors from all engines in a chain. It always
// matches ErrUnavailable.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "speech chain: no errors recorded"
	}
	return fmt.Sprintf("speech chain: all %d engines failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the recorded errors plus ErrUnavailable.
func (e *ChainError) Unwrap() []error {
	return append([]error{ErrUnavailable}, e.Errors...)
}

var _ Engine = (*Chain)(nil)
