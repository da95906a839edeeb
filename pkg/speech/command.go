package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

const providerCommand = "command"

// Command speaks through a local synthesizer process (espeak-ng compatible
// flags). One process runs per utterance; cancelling kills it.
type Command struct {
	config *Config
	path   string
	logger *slog.Logger
}

// NewCommand locates the synthesizer binary. A missing binary yields
// ErrUnavailable.
func NewCommand(opts ...Option) (*Command, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	cfg.clamp()

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, WrapError(providerCommand, fmt.Errorf("%w: %s not found", ErrUnavailable, cfg.Command))
	}
	return &Command{
		config: cfg,
		path:   path,
		logger: cfg.Logger.With("component", "speech.command"),
	}, nil
}

// Args returns the synthesizer arguments for text.
func (c *Command) Args(text string) []string {
	args := []string{"-s", strconv.Itoa(c.config.Rate), "-a", strconv.Itoa(int(c.config.Volume * 200))}
	if c.config.Voice != "" {
		args = append(args, "-v", c.config.Voice)
	}
	return append(args, "--", text)
}

// Speak runs the synthesizer and waits for it to exit.
func (c *Command) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, c.Args(text)...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return WrapError(providerCommand, fmt.Errorf("%w: %v: %s", ErrUnavailable, err, strings.TrimSpace(stderr.String())))
	}
	c.logger.Debug("spoke", "chars", len(text))
	return nil
}

// Health checks that the binary is still present.
func (c *Command) Health(ctx context.Context) error {
	if _, err := exec.LookPath(c.path); err != nil {
		return WrapError(providerCommand, ErrUnavailable)
	}
	return nil
}

// Close is a no-op; processes do not outlive Speak.
func (c *Command) Close() error {
	return nil
}

var _ Engine = (*Command)(nil)
