//go:build linux

package backends

import (
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/opalwm/opal/internal/kms"
	"github.com/opalwm/opal/internal/kms/drm"
)

func init() {
	kms.RegisterBackend(kms.BackendAtomic, openAtomic)
}

// atomicDevice drives a device through the atomic commit API.
type atomicDevice struct {
	base

	// Property tables per object id, resolved lazily and cached; object
	// properties are stable for the lifetime of the fd.
	props map[uint32]map[string]drm.Property
}

func openAtomic(path string, flags kms.DeviceFlag) (kms.ImplDevice, error) {
	node, err := drm.Open(path)
	if err != nil {
		return nil, err
	}

	if err := node.SetClientCap(drm.ClientCapUniversalPlanes, 1); err != nil {
		node.Close()
		return nil, fmt.Errorf("%w: universal planes refused: %v", kms.ErrNotSupported, err)
	}
	if err := node.SetClientCap(drm.ClientCapAtomic, 1); err != nil {
		node.Close()
		return nil, fmt.Errorf("%w: atomic refused: %v", kms.ErrNotSupported, err)
	}

	d := &atomicDevice{props: make(map[uint32]map[string]drm.Property)}
	d.node = node
	d.probeVersion()
	d.probeCaps()
	d.fallbackModes = kms.DefaultFallbackModes()

	if err := d.enumerate(); err != nil {
		node.Close()
		return nil, err
	}
	if err := d.enumeratePlanes(); err != nil {
		node.Close()
		return nil, err
	}

	return d, nil
}

// enumeratePlanes lists universal planes and classifies them through their
// type property.
func (d *atomicDevice) enumeratePlanes() error {
	ids, err := d.node.PlaneResources()
	if err != nil {
		return fmt.Errorf("enumerate planes %s: %w", d.node.Path(), err)
	}

	planes := make([]*kms.Plane, 0, len(ids))
	for _, id := range ids {
		info, err := d.node.Plane(id)
		if err != nil {
			return fmt.Errorf("enumerate planes %s: %w", d.node.Path(), err)
		}

		props, err := d.objectProps(id, drm.ObjectPlane)
		if err != nil {
			return err
		}

		typ := kms.PlaneTypeOverlay
		switch props["type"].Value {
		case drm.PlaneTypePrimary:
			typ = kms.PlaneTypePrimary
		case drm.PlaneTypeCursor:
			typ = kms.PlaneTypeCursor
		}

		planes = append(planes, kms.NewPlane(id, typ, info.PossibleCrtcs))
	}

	d.planes = planes
	return nil
}

func (d *atomicDevice) objectProps(objID, objType uint32) (map[string]drm.Property, error) {
	if props, ok := d.props[objID]; ok {
		return props, nil
	}

	props, err := d.node.ObjectProperties(objID, objType)
	if err != nil {
		return nil, err
	}
	d.props[objID] = props
	return props, nil
}

func (d *atomicDevice) setProp(req *drm.AtomicRequest, objID, objType uint32, name string, value uint64) error {
	props, err := d.objectProps(objID, objType)
	if err != nil {
		return err
	}
	prop, ok := props[name]
	if !ok {
		return fmt.Errorf("object %d has no %q property", objID, name)
	}
	req.Set(objID, prop.ID, value)
	return nil
}

func (d *atomicDevice) UpdateStates(crtcID, connectorID uint32) kms.ChangeSet {
	changes, err := d.reprobeConnectors(connectorID)
	if err != nil {
		slog.Warn("kms: update states", "path", d.node.Path(), "error", err)
		return kms.ChangeNone
	}
	return changes
}

func (d *atomicDevice) ProcessUpdate(update *kms.Update, flags kms.UpdateFlag) (*kms.Feedback, error) {
	req := drm.NewAtomicRequest()
	var blobs []uint32
	defer func() {
		for _, id := range blobs {
			if err := d.node.DestroyBlob(id); err != nil {
				slog.Warn("kms: destroy mode blob", "error", err)
			}
		}
	}()

	for _, ms := range update.ModeSets() {
		if ms.Mode == nil {
			if err := d.setProp(req, ms.CrtcID, drm.ObjectCrtc, "ACTIVE", 0); err != nil {
				return nil, err
			}
			if err := d.setProp(req, ms.CrtcID, drm.ObjectCrtc, "MODE_ID", 0); err != nil {
				return nil, err
			}
		} else {
			info := modeToInfo(ms.Mode)
			data := unsafe.Slice((*byte)(unsafe.Pointer(&info)), unsafe.Sizeof(info))
			blobID, err := d.node.CreateBlob(data)
			if err != nil {
				return nil, err
			}
			blobs = append(blobs, blobID)

			if err := d.setProp(req, ms.CrtcID, drm.ObjectCrtc, "MODE_ID", uint64(blobID)); err != nil {
				return nil, err
			}
			if err := d.setProp(req, ms.CrtcID, drm.ObjectCrtc, "ACTIVE", 1); err != nil {
				return nil, err
			}
		}

		for _, connectorID := range ms.ConnectorIDs {
			crtcID := uint64(ms.CrtcID)
			if ms.Mode == nil {
				crtcID = 0
			}
			if err := d.setProp(req, connectorID, drm.ObjectConnector, "CRTC_ID", crtcID); err != nil {
				return nil, err
			}
		}
	}

	for _, pa := range update.PlaneAssignments() {
		props := []struct {
			name  string
			value uint64
		}{
			{"FB_ID", uint64(pa.FramebufferID)},
			{"CRTC_ID", uint64(pa.CrtcID)},
			{"CRTC_X", uint64(uint32(pa.X))},
			{"CRTC_Y", uint64(uint32(pa.Y))},
			{"CRTC_W", uint64(pa.Width)},
			{"CRTC_H", uint64(pa.Height)},
			{"SRC_X", uint64(pa.SrcX)},
			{"SRC_Y", uint64(pa.SrcY)},
			{"SRC_W", uint64(pa.SrcWidth)},
			{"SRC_H", uint64(pa.SrcHeight)},
		}
		for _, p := range props {
			if err := d.setProp(req, pa.PlaneID, drm.ObjectPlane, p.name, p.value); err != nil {
				return nil, err
			}
		}
	}

	var commitFlags uint32
	if flags&kms.UpdateFlagTestOnly != 0 {
		commitFlags |= drm.AtomicTestOnly
	}
	if flags&kms.UpdateFlagAllowModeset != 0 {
		commitFlags |= drm.AtomicAllowModeset
	}

	if err := d.node.AtomicCommit(req, commitFlags); err != nil {
		return nil, err
	}

	return &kms.Feedback{
		CompletedAt: time.Now(),
		TestOnly:    flags&kms.UpdateFlagTestOnly != 0,
	}, nil
}

// Disable deactivates every CRTC and detaches every connector in a single
// commit.
func (d *atomicDevice) Disable() error {
	req := drm.NewAtomicRequest()

	for _, crtc := range d.crtcs {
		if err := d.setProp(req, crtc.ID(), drm.ObjectCrtc, "ACTIVE", 0); err != nil {
			return err
		}
		if err := d.setProp(req, crtc.ID(), drm.ObjectCrtc, "MODE_ID", 0); err != nil {
			return err
		}
	}
	for _, connector := range d.connectors {
		if err := d.setProp(req, connector.ID(), drm.ObjectConnector, "CRTC_ID", 0); err != nil {
			return err
		}
	}

	return d.node.AtomicCommit(req, drm.AtomicAllowModeset)
}
