package camera

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownPreset is returned by Apply for preset names not in PresetNames.
var ErrUnknownPreset = errors.New("camera: unknown preset")

// Update is a partial settings change as sent by the dashboard, e.g.
// {"preset":"720p"} or {"quality":60}. Nil fields keep their value. A
// preset is applied first and the remaining fields override it.
type Update struct {
	Preset       *string `json:"preset,omitempty"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	Framerate    *int    `json:"framerate,omitempty"`
	EncodeWidth  *int    `json:"encode_width,omitempty"`
	EncodeHeight *int    `json:"encode_height,omitempty"`
	Quality      *int    `json:"quality,omitempty"`
	Mirror       *bool   `json:"mirror,omitempty"`
}

// applyTo returns cfg with u applied.
func (u Update) applyTo(cfg Config) (Config, error) {
	if u.Preset != nil {
		p, ok := Preset(*u.Preset)
		if !ok {
			return cfg, fmt.Errorf("%w: %q", ErrUnknownPreset, *u.Preset)
		}
		p.Device = cfg.Device
		cfg = p
	}
	setInt(&cfg.Width, u.Width)
	setInt(&cfg.Height, u.Height)
	setInt(&cfg.Framerate, u.Framerate)
	setInt(&cfg.EncodeWidth, u.EncodeWidth)
	setInt(&cfg.EncodeHeight, u.EncodeHeight)
	setInt(&cfg.Quality, u.Quality)
	if u.Mirror != nil {
		cfg.Mirror = *u.Mirror
	}
	return cfg, nil
}

func setInt(dst, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Manager owns the live camera settings. Changes are validated, stored and
// then pushed to the change hook so a running session can re-apply them.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	onChange func(Config) error
}

// NewManager creates a manager holding cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Config returns the current settings.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange sets the hook called after every accepted change. An error from
// the hook is returned to the caller; the new settings stay stored.
func (m *Manager) OnChange(fn func(Config) error) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Set replaces the settings.
func (m *Manager) Set(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid camera settings: %s", strings.Join(errs, "; "))
	}

	m.mu.Lock()
	m.cfg = cfg
	hook := m.onChange
	m.mu.Unlock()

	if hook != nil {
		if err := hook(cfg); err != nil {
			return fmt.Errorf("apply camera settings: %w", err)
		}
	}
	return nil
}

// Apply merges u into the current settings and stores the result.
func (m *Manager) Apply(u Update) (Config, error) {
	cfg, err := u.applyTo(m.Config())
	if err != nil {
		return Config{}, err
	}
	if err := m.Set(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
