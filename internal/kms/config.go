//go:build linux

package kms

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options carries operator overrides for device handling, loaded from a
// YAML file shipped with the compositor configuration.
type Options struct {
	Devices []DeviceOptions `yaml:"devices,omitempty"`
}

// DeviceOptions overrides behavior for the device at Path.
type DeviceOptions struct {
	Path string `yaml:"path"`

	// NoModeSetting forces the dummy backend for this device.
	NoModeSetting bool `yaml:"noModeSetting,omitempty"`

	// ForceLegacy skips the atomic backend for this device, for drivers
	// with broken atomic support.
	ForceLegacy bool `yaml:"forceLegacy,omitempty"`

	// FallbackModes are appended to the backend-provided fallback modes.
	FallbackModes []ModeOptions `yaml:"fallbackModes,omitempty"`
}

// ModeOptions describes one configured mode by bare resolution.
type ModeOptions struct {
	Width   uint16 `yaml:"width"`
	Height  uint16 `yaml:"height"`
	Refresh uint32 `yaml:"refresh,omitempty"`
}

func (m *ModeOptions) normalize() {
	if m.Refresh == 0 {
		m.Refresh = 60
	}
}

// LoadOptions reads options from a YAML file. A missing file yields empty
// options rather than an error.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Options{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read kms options: %w", err)
	}

	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("parse kms options %s: %w", path, err)
	}

	for i := range opts.Devices {
		for j := range opts.Devices[i].FallbackModes {
			opts.Devices[i].FallbackModes[j].normalize()
		}
	}

	return &opts, nil
}

func (o *Options) forPath(path string) (DeviceOptions, bool) {
	for _, d := range o.Devices {
		if d.Path == path {
			return d, true
		}
	}
	return DeviceOptions{}, false
}

func (d DeviceOptions) extraModes() []*Mode {
	modes := make([]*Mode, 0, len(d.FallbackModes))
	for _, m := range d.FallbackModes {
		m.normalize()
		modes = append(modes, SyntheticMode(m.Width, m.Height, m.Refresh))
	}
	return modes
}
