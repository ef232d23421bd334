//go:build linux

package kms

import "fmt"

// Mode describes one display timing. The field layout follows the kernel's
// modeinfo so backends can convert losslessly.
type Mode struct {
	Name string

	// Clock is the pixel clock in kHz.
	Clock uint32

	HDisplay, HSyncStart, HSyncEnd, HTotal uint16
	VDisplay, VSyncStart, VSyncEnd, VTotal uint16

	// VRefresh is the vertical refresh rate in Hz.
	VRefresh uint32

	Flags uint32
	Type  uint32
}

func (m *Mode) String() string {
	return fmt.Sprintf("%s@%d", m.Name, m.VRefresh)
}

// SyntheticMode builds a mode with conservative blanking intervals for a
// bare resolution, used for fallback modes and configured extras where no
// monitor timing exists.
func SyntheticMode(width, height uint16, refresh uint32) *Mode {
	htotal := uint32(width) + uint32(width)/5
	vtotal := uint32(height) + uint32(height)/20

	return &Mode{
		Name:       fmt.Sprintf("%dx%d", width, height),
		Clock:      htotal * vtotal * refresh / 1000,
		HDisplay:   width,
		HSyncStart: width + uint16(width/20),
		HSyncEnd:   width + uint16(width/10),
		HTotal:     uint16(htotal),
		VDisplay:   height,
		VSyncStart: height + uint16(height/60),
		VSyncEnd:   height + uint16(height/40),
		VTotal:     uint16(vtotal),
		VRefresh:   refresh,
	}
}

// DefaultFallbackModes returns the built-in modes offered when a connector
// reports none of its own.
func DefaultFallbackModes() []*Mode {
	resolutions := []struct {
		w, h uint16
	}{
		{1920, 1080},
		{1600, 900},
		{1366, 768},
		{1280, 720},
		{1024, 768},
		{800, 600},
		{640, 480},
	}

	modes := make([]*Mode, 0, len(resolutions))
	for _, r := range resolutions {
		modes = append(modes, SyntheticMode(r.w, r.h, 60))
	}
	return modes
}
