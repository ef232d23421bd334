//go:build linux

// Package backends provides the mode setting strategies bound to a KMS
// device: atomic, simple (legacy) and dummy (no mode setting). Each
// registers itself with the kms backend registry; importing this package
// for side effects makes all three available.
package backends

import (
	"fmt"

	"github.com/opalwm/opal/internal/kms"
	"github.com/opalwm/opal/internal/kms/drm"
)

// Fake plane ids live above any id the kernel hands out.
const fakePlaneIDBase uint32 = 1 << 31

// base carries the node handle and enumerated state shared by all backends.
// It is only ever touched from the impl context.
type base struct {
	node *drm.Node

	driverName        string
	driverDescription string
	caps              kms.DeviceCaps

	crtcs         []*kms.Crtc
	connectors    []*kms.Connector
	planes        []*kms.Plane
	fallbackModes []*kms.Mode

	nextFakeID uint32
}

func (b *base) Path() string              { return b.node.Path() }
func (b *base) DriverName() string        { return b.driverName }
func (b *base) DriverDescription() string { return b.driverDescription }
func (b *base) Caps() kms.DeviceCaps      { return b.caps }

func (b *base) Crtcs() []*kms.Crtc           { return b.crtcs }
func (b *base) Connectors() []*kms.Connector { return b.connectors }
func (b *base) Planes() []*kms.Plane         { return b.planes }
func (b *base) FallbackModes() []*kms.Mode   { return b.fallbackModes }

func (b *base) Close() error { return b.node.Close() }

func (b *base) AddFakePlane(typ kms.PlaneType, crtc *kms.Crtc) *kms.Plane {
	id := fakePlaneIDBase + b.nextFakeID
	b.nextFakeID++

	plane := kms.NewFakePlane(id, typ, crtc)
	b.planes = append(b.planes, plane)
	return plane
}

func (b *base) probeVersion() {
	name, _, desc, err := b.node.Version()
	if err != nil {
		b.driverName = "unknown"
		b.driverDescription = "unknown"
		return
	}
	b.driverName = name
	b.driverDescription = desc
}

func (b *base) probeCaps() {
	width, wok := b.node.Cap(drm.CapCursorWidth)
	height, hok := b.node.Cap(drm.CapCursorHeight)
	if wok && hok {
		b.caps.HasCursorSize = true
		b.caps.CursorWidth = width
		b.caps.CursorHeight = height
	}

	if v, ok := b.node.Cap(drm.CapDumbPreferShadow); ok {
		b.caps.PrefersShadowBuffer = v != 0
	}
	if v, ok := b.node.Cap(drm.CapTimestampMonotonic); ok {
		b.caps.UsesMonotonicClock = v != 0
	}
	if v, ok := b.node.Cap(drm.CapAddFB2Modifiers); ok {
		b.caps.AddFB2Modifiers = v != 0
	}
}

func modeFromInfo(info *drm.ModeInfo) *kms.Mode {
	return &kms.Mode{
		Name:       info.Name(),
		Clock:      info.Clock,
		HDisplay:   info.HDisplay,
		HSyncStart: info.HSyncStart,
		HSyncEnd:   info.HSyncEnd,
		HTotal:     info.HTotal,
		VDisplay:   info.VDisplay,
		VSyncStart: info.VSyncStart,
		VSyncEnd:   info.VSyncEnd,
		VTotal:     info.VTotal,
		VRefresh:   info.VRefresh,
		Flags:      info.Flags,
		Type:       info.Type,
	}
}

func modeToInfo(mode *kms.Mode) drm.ModeInfo {
	info := drm.ModeInfo{
		Clock:      mode.Clock,
		HDisplay:   mode.HDisplay,
		HSyncStart: mode.HSyncStart,
		HSyncEnd:   mode.HSyncEnd,
		HTotal:     mode.HTotal,
		VDisplay:   mode.VDisplay,
		VSyncStart: mode.VSyncStart,
		VSyncEnd:   mode.VSyncEnd,
		VTotal:     mode.VTotal,
		VRefresh:   mode.VRefresh,
		Flags:      mode.Flags,
		Type:       mode.Type,
	}
	info.SetName(mode.Name)
	return info
}

func connectorFromInfo(info *drm.ConnectorInfo) *kms.Connector {
	modes := make([]*kms.Mode, 0, len(info.Modes))
	for i := range info.Modes {
		modes = append(modes, modeFromInfo(&info.Modes[i]))
	}

	return kms.NewConnector(
		info.ID,
		kms.ConnectorType(info.Type),
		info.TypeID,
		kms.ConnectorStatus(info.Connection),
		modes,
	)
}

// enumerate probes CRTCs and connectors from the kernel.
func (b *base) enumerate() error {
	res, err := b.node.Resources()
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", b.node.Path(), err)
	}

	crtcs := make([]*kms.Crtc, 0, len(res.CrtcIDs))
	for i, id := range res.CrtcIDs {
		crtcs = append(crtcs, kms.NewCrtc(id, i))
	}

	connectors := make([]*kms.Connector, 0, len(res.ConnectorIDs))
	for _, id := range res.ConnectorIDs {
		info, err := b.node.Connector(id)
		if err != nil {
			return fmt.Errorf("enumerate %s: %w", b.node.Path(), err)
		}
		connectors = append(connectors, connectorFromInfo(info))
	}

	b.crtcs = crtcs
	b.connectors = connectors
	return nil
}

// reprobeConnectors re-reads connector state and reports whether anything
// observable changed. connectorID zero means all connectors.
func (b *base) reprobeConnectors(connectorID uint32) (kms.ChangeSet, error) {
	res, err := b.node.Resources()
	if err != nil {
		return kms.ChangeNone, err
	}

	connectors := make([]*kms.Connector, 0, len(res.ConnectorIDs))
	for _, id := range res.ConnectorIDs {
		if connectorID != 0 && id != connectorID {
			// Keep the previous state for connectors outside the probe.
			if old := b.findConnector(id); old != nil {
				connectors = append(connectors, old)
				continue
			}
		}
		info, err := b.node.Connector(id)
		if err != nil {
			return kms.ChangeNone, err
		}
		connectors = append(connectors, connectorFromInfo(info))
	}

	if connectorsEqual(b.connectors, connectors) {
		return kms.ChangeNone, nil
	}

	crtcs := make([]*kms.Crtc, 0, len(res.CrtcIDs))
	for i, id := range res.CrtcIDs {
		crtcs = append(crtcs, kms.NewCrtc(id, i))
	}

	b.crtcs = crtcs
	b.connectors = connectors
	return kms.ChangeTopology, nil
}

func (b *base) findConnector(id uint32) *kms.Connector {
	for _, c := range b.connectors {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

func connectorsEqual(a, b []*kms.Connector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID() != b[i].ID() ||
			a[i].Status() != b[i].Status() ||
			len(a[i].Modes()) != len(b[i].Modes()) {
			return false
		}
	}
	return true
}
