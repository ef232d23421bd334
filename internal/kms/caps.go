//go:build linux

package kms

// DeviceCaps holds the driver capabilities probed once at construction.
type DeviceCaps struct {
	HasCursorSize bool
	CursorWidth   uint64
	CursorHeight  uint64

	PrefersShadowBuffer bool
	UsesMonotonicClock  bool
	AddFB2Modifiers     bool
}
