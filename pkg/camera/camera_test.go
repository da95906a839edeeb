package camera

import (
	"bytes"
	"errors"
	"testing"

	"github.com/teslashibe/go-vista/pkg/capture"
)

func TestPresetsValidate(t *testing.T) {
	for _, name := range PresetNames() {
		cfg, ok := Preset(name)
		if !ok {
			t.Fatalf("Preset(%q) not found", name)
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("preset %q invalid: %v", name, errs)
		}
	}
	if _, ok := Preset("8k"); ok {
		t.Error("Preset(8k) found")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"default", func(*Config) {}, true},
		{"native encode size", func(c *Config) { c.EncodeWidth, c.EncodeHeight = 0, 0 }, true},
		{"tiny width", func(c *Config) { c.Width = 10 }, false},
		{"quality zero", func(c *Config) { c.Quality = 0 }, false},
		{"half encode size", func(c *Config) { c.EncodeHeight = 0 }, false},
		{"negative device", func(c *Config) { c.Device = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			errs := cfg.Validate()
			if (len(errs) == 0) != tt.valid {
				t.Errorf("Validate() = %v, valid want %v", errs, tt.valid)
			}
		})
	}
}

func TestQualityConversions(t *testing.T) {
	if q := QualityFromFraction(0.7); q != 70 {
		t.Errorf("QualityFromFraction(0.7) = %d", q)
	}
	if q := QualityFromFraction(0); q != 1 {
		t.Errorf("QualityFromFraction(0) = %d", q)
	}
	if q := QualityFromFraction(3); q != 100 {
		t.Errorf("QualityFromFraction(3) = %d", q)
	}
	cfg := DefaultConfig()
	if f := cfg.QualityFraction(); f != 0.7 {
		t.Errorf("QualityFraction() = %v", f)
	}
}

func intp(v int) *int { return &v }

func TestManagerApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = 2
	m := NewManager(cfg)

	var applied Config
	m.OnChange(func(c Config) error {
		applied = c
		return nil
	})

	preset, mirror := PresetLowBandwidth, true
	got, err := m.Apply(Update{Preset: &preset, Quality: intp(60), Mirror: &mirror})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got.EncodeWidth != 320 || got.Quality != 60 || !got.Mirror || got.Device != 2 {
		t.Errorf("config = %+v", got)
	}
	if m.Config() != got || applied != got {
		t.Errorf("stored %+v, hook got %+v", m.Config(), applied)
	}

	unknown := "nope"
	if _, err := m.Apply(Update{Preset: &unknown}); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("unknown preset error = %v", err)
	}
	if _, err := m.Apply(Update{Width: intp(1)}); err == nil {
		t.Error("invalid width accepted")
	}
	if m.Config() != got {
		t.Error("rejected update changed the settings")
	}
}

func TestManagerHookError(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.OnChange(func(Config) error { return ErrNoDevice })
	if _, err := m.Apply(Update{Quality: intp(40)}); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Apply() error = %v, want ErrNoDevice", err)
	}
	if q := m.Config().Quality; q != 40 {
		t.Errorf("quality = %d, want 40 stored despite hook error", q)
	}
}

func TestRegistryExclusive(t *testing.T) {
	r := NewRegistry()
	release, err := r.Acquire(0, "session-a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Acquire(0, "session-b"); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("second Acquire() = %v, want ErrDeviceBusy", err)
	}
	if _, err := r.Acquire(1, "session-b"); err != nil {
		t.Errorf("other device: %v", err)
	}
	if owner, _ := r.Holder(0); owner != "session-a" {
		t.Errorf("Holder(0) = %q", owner)
	}

	release()
	release()
	if _, ok := r.Holder(0); ok {
		t.Error("device 0 still leased after release")
	}
	if r.Active() != 1 {
		t.Errorf("Active() = %d, want 1", r.Active())
	}
}

func TestOpenErrorClassification(t *testing.T) {
	err := error(&OpenError{Device: 3, Err: ErrPermissionDenied})
	if !IsPermissionError(err) || !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("classification failed for %v", err)
	}
	if IsPermissionError(errors.New("other")) {
		t.Error("unrelated error classified as permission error")
	}
}

func TestJPEGEncoder(t *testing.T) {
	enc := NewJPEGEncoder(DefaultConfig())
	w, h := 1280, 720
	frame := capture.Frame{Data: bytes.Repeat([]byte{40, 200, 90}, w*h), Width: w, Height: h, Seq: 1}

	out, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(out) < 2 || out[0] != 0xFF || out[1] != 0xD8 {
		t.Error("output is not a JPEG")
	}

	if _, err := enc.Encode(capture.Frame{Width: 2, Height: 2, Data: []byte{1}}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("short frame: %v", err)
	}
}
