package camera

import "sort"

// Preset names accepted by the settings API and CAMERA_PRESET.
const (
	PresetDefault      = "default"
	PresetVGA          = "vga"
	Preset720p         = "720p"
	Preset1080p        = "1080p"
	PresetLowBandwidth = "low-bandwidth"
)

// presets are deltas on DefaultConfig. The device index never comes from
// a preset.
var presets = map[string]func(*Config){
	PresetDefault: func(*Config) {},
	PresetVGA: func(c *Config) {
		c.Width, c.Height = 640, 480
	},
	Preset720p: func(c *Config) {
		c.Width, c.Height = 1280, 720
	},
	// The transmitted frames stay at the encode size; only the local
	// overlay benefits from 1080p.
	Preset1080p: func(c *Config) {
		c.Width, c.Height = 1920, 1080
	},
	// Smaller, more compressed frames for poor mobile links.
	PresetLowBandwidth: func(c *Config) {
		c.EncodeWidth, c.EncodeHeight = 320, 240
		c.Quality = 55
	},
}

// Preset returns the named configuration.
func Preset(name string) (Config, bool) {
	apply, ok := presets[name]
	if !ok {
		return Config{}, false
	}
	cfg := DefaultConfig()
	apply(&cfg)
	return cfg, true
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
