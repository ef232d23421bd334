//go:build linux

package kms

import (
	"log/slog"
	"slices"
	"sync/atomic"
)

// DeviceFlag is a bit set of per-device behavior switches.
type DeviceFlag uint32

const (
	DeviceFlagNone DeviceFlag = 0

	// DeviceFlagNoModeSetting binds the dummy backend; the device is opened
	// for buffer allocation and leasing only.
	DeviceFlagNoModeSetting DeviceFlag = 1 << 0

	// DeviceFlagForceLegacy skips the atomic backend during selection.
	DeviceFlagForceLegacy DeviceFlag = 1 << 1

	// DeviceFlagHasAddFB2 is derived at construction from the addfb2
	// modifiers capability; it is never passed in.
	DeviceFlagHasAddFB2 DeviceFlag = 1 << 2
)

// topology is an immutable snapshot of a device's CRTC, connector and plane
// lists. It is published through an atomic pointer and replaced wholesale;
// readers never observe a partially updated mix.
type topology struct {
	crtcs      []*Crtc
	connectors []*Connector
	planes     []*Plane
}

// Device is the public handle for one KMS node. Identity and capabilities
// are immutable after construction. Topology accessors read the current
// snapshot and are safe from any goroutine; methods suffixed InImpl must
// only run inside the impl context.
type Device struct {
	kms  *KMS
	impl ImplDevice

	flags             DeviceFlag
	path              string
	driverName        string
	driverDescription string
	caps              DeviceCaps
	fallbackModes     []*Mode

	topo   atomic.Pointer[topology]
	closed atomic.Bool
}

type createDeviceOutput struct {
	implDevice        ImplDevice
	topo              topology
	caps              DeviceCaps
	fallbackModes     []*Mode
	driverName        string
	driverDescription string
	path              string
}

// CreateDevice opens the KMS node at path and binds a mode setting backend
// to it, dispatching the construction into the impl context. On failure no
// device is registered and the error carries the per-backend causes.
func (k *KMS) CreateDevice(path string, flags DeviceFlag) (*Device, error) {
	k.impl.assertNotInImpl()

	if o, ok := k.opts.forPath(path); ok {
		if o.NoModeSetting {
			flags |= DeviceFlagNoModeSetting
		}
		if o.ForceLegacy {
			flags |= DeviceFlagForceLegacy
		}
	}

	var out createDeviceOutput
	err := k.impl.RunTask(func() error {
		implDevice, err := newImplDevice(path, flags)
		if err != nil {
			return err
		}

		out = createDeviceOutput{
			implDevice: implDevice,
			topo: topology{
				crtcs:      slices.Clone(implDevice.Crtcs()),
				connectors: slices.Clone(implDevice.Connectors()),
				planes:     slices.Clone(implDevice.Planes()),
			},
			caps:              implDevice.Caps(),
			fallbackModes:     slices.Clone(implDevice.FallbackModes()),
			driverName:        implDevice.DriverName(),
			driverDescription: implDevice.DriverDescription(),
			// The backend's path is authoritative; it may have been
			// canonicalized while opening.
			path: implDevice.Path(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.caps.AddFB2Modifiers {
		flags |= DeviceFlagHasAddFB2
	}

	device := &Device{
		kms:               k,
		impl:              out.implDevice,
		flags:             flags,
		path:              out.path,
		driverName:        out.driverName,
		driverDescription: out.driverDescription,
		caps:              out.caps,
		fallbackModes:     out.fallbackModes,
	}
	if o, ok := k.opts.forPath(path); ok {
		device.fallbackModes = append(device.fallbackModes, o.extraModes()...)
	}
	device.topo.Store(&out.topo)

	k.addDevice(device)

	slog.Info("kms: opened device",
		"path", device.path,
		"driver", device.driverName)

	return device, nil
}

// KMS returns the root owning this device.
func (d *Device) KMS() *KMS { return d.kms }

func (d *Device) Path() string              { return d.path }
func (d *Device) DriverName() string        { return d.driverName }
func (d *Device) DriverDescription() string { return d.driverDescription }
func (d *Device) Flags() DeviceFlag         { return d.flags }
func (d *Device) Caps() DeviceCaps          { return d.caps }

// CursorSize returns the driver-reported cursor dimensions, if any.
func (d *Device) CursorSize() (width, height uint64, ok bool) {
	if !d.caps.HasCursorSize {
		return 0, 0, false
	}
	return d.caps.CursorWidth, d.caps.CursorHeight, true
}

func (d *Device) PrefersShadowBuffer() bool { return d.caps.PrefersShadowBuffer }
func (d *Device) UsesMonotonicClock() bool  { return d.caps.UsesMonotonicClock }

// Crtcs returns the CRTCs of the current snapshot. The returned slice is
// shared and must be treated as read-only.
func (d *Device) Crtcs() []*Crtc { return d.topo.Load().crtcs }

// Connectors returns the connectors of the current snapshot.
func (d *Device) Connectors() []*Connector { return d.topo.Load().connectors }

// Planes returns the planes of the current snapshot.
func (d *Device) Planes() []*Plane { return d.topo.Load().planes }

// FallbackModes returns modes to use when a connector reports none.
func (d *Device) FallbackModes() []*Mode { return d.fallbackModes }

func (d *Device) planeWithTypeFor(crtc *Crtc, typ PlaneType) *Plane {
	for _, plane := range d.Planes() {
		if plane.Type() != typ {
			continue
		}
		if plane.IsUsableWith(crtc) {
			return plane
		}
	}
	return nil
}

// PrimaryPlaneFor returns the first primary plane usable with crtc, or nil.
// A missing plane is a valid hardware configuration, not an error.
func (d *Device) PrimaryPlaneFor(crtc *Crtc) *Plane {
	return d.planeWithTypeFor(crtc, PlaneTypePrimary)
}

// CursorPlaneFor returns the first cursor plane usable with crtc, or nil.
func (d *Device) CursorPlaneFor(crtc *Crtc) *Plane {
	return d.planeWithTypeFor(crtc, PlaneTypeCursor)
}

// FindCrtcInImpl looks a CRTC up by id in the backend's live list. Impl
// context only; used while an in-flight privileged operation holds a raw
// kernel id.
func (d *Device) FindCrtcInImpl(crtcID uint32) *Crtc {
	d.kms.impl.assertInImpl()

	for _, crtc := range d.impl.Crtcs() {
		if crtc.ID() == crtcID {
			return crtc
		}
	}
	return nil
}

// FindConnectorInImpl looks a connector up by id in the backend's live list.
// Impl context only.
func (d *Device) FindConnectorInImpl(connectorID uint32) *Connector {
	d.kms.impl.assertInImpl()

	for _, connector := range d.impl.Connectors() {
		if connector.ID() == connectorID {
			return connector
		}
	}
	return nil
}

// UpdateStatesInImpl asks the backend to re-derive state for the given CRTC
// and connector ids, typically in response to a hotplug event. Impl context
// only. An empty change set leaves the published snapshot untouched; a
// non-empty one replaces all three sequences wholesale.
func (d *Device) UpdateStatesInImpl(crtcID, connectorID uint32) ChangeSet {
	d.kms.impl.assertInImpl()

	changes := d.impl.UpdateStates(crtcID, connectorID)
	if changes == ChangeNone {
		return changes
	}

	d.topo.Store(&topology{
		crtcs:      slices.Clone(d.impl.Crtcs()),
		connectors: slices.Clone(d.impl.Connectors()),
		planes:     slices.Clone(d.impl.Planes()),
	})

	return changes
}

// AddFakePlaneInImpl has the backend synthesize a placeholder plane of the
// given type for crtc and appends it to the published snapshot. Impl context
// only.
func (d *Device) AddFakePlaneInImpl(typ PlaneType, crtc *Crtc) *Plane {
	d.kms.impl.assertInImpl()

	plane := d.impl.AddFakePlane(typ, crtc)

	old := d.topo.Load()
	d.topo.Store(&topology{
		crtcs:      old.crtcs,
		connectors: old.connectors,
		planes:     append(slices.Clone(old.planes), plane),
	})

	return plane
}

// ProcessUpdate applies update to the hardware, blocking the caller until
// the impl context has committed it. Exactly one of feedback and error is
// returned; partial application is never surfaced.
func (d *Device) ProcessUpdate(update *Update, flags UpdateFlag) (*Feedback, error) {
	d.kms.impl.assertNotInImpl()

	if d.closed.Load() {
		return nil, ErrDeviceClosed
	}

	var feedback *Feedback
	err := d.kms.impl.RunTask(func() error {
		fb, err := d.impl.ProcessUpdate(update, flags)
		if err != nil {
			return err
		}
		feedback = fb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feedback, nil
}

// Disable relinquishes all outputs. Best effort: it is normally called
// during teardown, so failure is logged rather than escalated. Disabling an
// already disabled device is a no-op.
func (d *Device) Disable() {
	d.kms.impl.assertNotInImpl()

	if d.closed.Load() {
		return
	}

	err := d.kms.impl.RunTask(func() error {
		return d.impl.Disable()
	})
	if err != nil {
		slog.Warn("kms: disable device", "path", d.path, "error", err)
	}
}

// Close releases the backend inside the impl context and unregisters the
// device. The backend must never outlive the context that may dereference
// its kernel handle.
func (d *Device) Close() {
	d.kms.impl.assertNotInImpl()

	if !d.closed.CompareAndSwap(false, true) {
		return
	}

	err := d.kms.impl.RunTask(func() error {
		return d.impl.Close()
	})
	if err != nil {
		slog.Warn("kms: close device", "path", d.path, "error", err)
	}

	d.kms.removeDevice(d)
}
