//go:build linux

package kms

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fixtureTopology builds two CRTCs, one connected connector and a spread of
// planes with differing CRTC masks.
func fixtureTopology(backend *stubBackend) {
	crtc0 := NewCrtc(10, 0)
	crtc1 := NewCrtc(11, 1)
	backend.crtcs = []*Crtc{crtc0, crtc1}
	backend.connectors = []*Connector{
		NewConnector(20, ConnectorTypeHDMIA, 1, ConnectorStatusConnected, []*Mode{SyntheticMode(1920, 1080, 60)}),
	}
	backend.planes = []*Plane{
		NewPlane(30, PlaneTypePrimary, 0b01),
		NewPlane(31, PlaneTypePrimary, 0b10),
		NewPlane(32, PlaneTypeCursor, 0b01),
		NewPlane(33, PlaneTypeOverlay, 0b11),
	}
}

func TestCreateDevicePriorityOrder(t *testing.T) {
	var attempts []BackendKind

	registerStub(t, BackendAtomic, func(path string, flags DeviceFlag) (ImplDevice, error) {
		attempts = append(attempts, BackendAtomic)
		return nil, fmt.Errorf("%w: atomic refused", ErrNotSupported)
	})
	simple := newStubBackend("")
	simple.driverName = "simpledrm"
	registerStub(t, BackendSimple, func(path string, flags DeviceFlag) (ImplDevice, error) {
		attempts = append(attempts, BackendSimple)
		return stubFactory(simple)(path, flags)
	})

	k := New(nil)
	defer k.Stop()

	device, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	if len(attempts) != 2 || attempts[0] != BackendAtomic || attempts[1] != BackendSimple {
		t.Errorf("attempts = %v, want [atomic simple]", attempts)
	}
	if device.DriverName() != "simpledrm" {
		t.Errorf("DriverName = %q, want driver of the simple backend", device.DriverName())
	}
}

func TestCreateDeviceAtomicPreferred(t *testing.T) {
	atomic := newStubBackend("")
	registerStub(t, BackendAtomic, stubFactory(atomic))
	registerStub(t, BackendSimple, func(path string, flags DeviceFlag) (ImplDevice, error) {
		t.Error("simple backend attempted although atomic succeeded")
		return nil, ErrNotSupported
	})

	k := New(nil)
	defer k.Stop()

	if _, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
}

func TestCreateDeviceNoModeSetting(t *testing.T) {
	registerStub(t, BackendAtomic, func(path string, flags DeviceFlag) (ImplDevice, error) {
		t.Error("atomic backend attempted with no-mode-setting flag")
		return nil, ErrNotSupported
	})
	registerStub(t, BackendSimple, func(path string, flags DeviceFlag) (ImplDevice, error) {
		t.Error("simple backend attempted with no-mode-setting flag")
		return nil, ErrNotSupported
	})
	dummy := newStubBackend("")
	dummy.driverName = "dummy"
	registerStub(t, BackendDummy, stubFactory(dummy))

	k := New(nil)
	defer k.Stop()

	device, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNoModeSetting)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if device.DriverName() != "dummy" {
		t.Errorf("DriverName = %q, want %q", device.DriverName(), "dummy")
	}
}

func TestCreateDeviceAggregatesFailures(t *testing.T) {
	registerStub(t, BackendAtomic, failingFactory(fmt.Errorf("%w: no atomic cap", ErrNotSupported)))
	ioErr := errors.New("permission denied")
	registerStub(t, BackendSimple, failingFactory(ioErr))

	k := New(nil)
	defer k.Stop()

	_, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone)
	if err == nil {
		t.Fatal("CreateDevice succeeded with no usable backend")
	}
	if !strings.Contains(err.Error(), "no suitable mode setting backend") {
		t.Errorf("error %q does not name the exhaustion", err)
	}
	if !errors.Is(err, ErrNotSupported) || !errors.Is(err, ioErr) {
		t.Errorf("error %q does not carry the per-backend causes", err)
	}
}

func TestCreateDeviceAdoptsCanonicalPath(t *testing.T) {
	backend := newStubBackend("/dev/dri/card1")
	registerStub(t, BackendAtomic, stubFactory(backend))

	k := New(nil)
	defer k.Stop()

	device, err := k.CreateDevice("/dev/dri/by-path/pci-0000:00:02.0-card", DeviceFlagNone)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if device.Path() != "/dev/dri/card1" {
		t.Errorf("Path = %q, want the backend-reported path", device.Path())
	}
}

func TestCreateDeviceDerivesAddFB2(t *testing.T) {
	backend := newStubBackend("")
	backend.caps.AddFB2Modifiers = true
	registerStub(t, BackendAtomic, stubFactory(backend))

	k := New(nil)
	defer k.Stop()

	device, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if device.Flags()&DeviceFlagHasAddFB2 == 0 {
		t.Error("DeviceFlagHasAddFB2 not derived from addfb2 capability")
	}
}

func createStubDevice(t *testing.T, backend *stubBackend) (*KMS, *Device) {
	t.Helper()

	registerStub(t, BackendAtomic, stubFactory(backend))
	k := New(nil)
	t.Cleanup(k.Stop)

	device, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	return k, device
}

func TestUpdateStatesEmptyChangeSetKeepsSnapshot(t *testing.T) {
	backend := newStubBackend("")
	fixtureTopology(backend)
	k, device := createStubDevice(t, backend)

	before := device.Crtcs()

	err := k.RunImplTask(func() error {
		// The backend mutates its live lists, but reports no change.
		backend.crtcs = []*Crtc{NewCrtc(99, 0)}
		backend.updateResult = ChangeNone

		if changes := device.UpdateStatesInImpl(0, 0); changes != ChangeNone {
			t.Errorf("changes = %v, want ChangeNone", changes)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunImplTask: %v", err)
	}

	after := device.Crtcs()
	if len(after) != len(before) || after[0] != before[0] {
		t.Error("snapshot replaced despite empty change set")
	}
}

func TestUpdateStatesReplacesAllSequences(t *testing.T) {
	backend := newStubBackend("")
	fixtureTopology(backend)
	k, device := createStubDevice(t, backend)

	err := k.RunImplTask(func() error {
		backend.crtcs = []*Crtc{NewCrtc(40, 0)}
		backend.connectors = []*Connector{
			NewConnector(50, ConnectorTypeEDP, 1, ConnectorStatusConnected, nil),
			NewConnector(51, ConnectorTypeDisplayPort, 1, ConnectorStatusDisconnected, nil),
		}
		backend.planes = []*Plane{NewPlane(60, PlaneTypePrimary, 0b1)}
		backend.updateResult = ChangeTopology

		if changes := device.UpdateStatesInImpl(0, 0); changes != ChangeTopology {
			t.Errorf("changes = %v, want ChangeTopology", changes)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunImplTask: %v", err)
	}

	if len(device.Crtcs()) != 1 || device.Crtcs()[0].ID() != 40 {
		t.Errorf("crtcs not replaced: %v", device.Crtcs())
	}
	if len(device.Connectors()) != 2 {
		t.Errorf("connectors not replaced: %v", device.Connectors())
	}
	if len(device.Planes()) != 1 || device.Planes()[0].ID() != 60 {
		t.Errorf("planes not replaced: %v", device.Planes())
	}

	assertUniqueIDs(t, device)
}

func assertUniqueIDs(t *testing.T, device *Device) {
	t.Helper()

	seen := make(map[uint32]bool)
	for _, crtc := range device.Crtcs() {
		if seen[crtc.ID()] {
			t.Errorf("duplicate CRTC id %d", crtc.ID())
		}
		seen[crtc.ID()] = true
	}
	seen = make(map[uint32]bool)
	for _, connector := range device.Connectors() {
		if seen[connector.ID()] {
			t.Errorf("duplicate connector id %d", connector.ID())
		}
		seen[connector.ID()] = true
	}
	seen = make(map[uint32]bool)
	for _, plane := range device.Planes() {
		if seen[plane.ID()] {
			t.Errorf("duplicate plane id %d", plane.ID())
		}
		seen[plane.ID()] = true
	}
}

func TestPlaneQueries(t *testing.T) {
	backend := newStubBackend("")
	fixtureTopology(backend)
	_, device := createStubDevice(t, backend)

	crtc0 := device.Crtcs()[0]
	crtc1 := device.Crtcs()[1]

	if plane := device.PrimaryPlaneFor(crtc0); plane == nil || plane.ID() != 30 {
		t.Errorf("PrimaryPlaneFor(crtc0) = %v, want plane 30", plane)
	}
	if plane := device.PrimaryPlaneFor(crtc1); plane == nil || plane.ID() != 31 {
		t.Errorf("PrimaryPlaneFor(crtc1) = %v, want plane 31", plane)
	}
	if plane := device.CursorPlaneFor(crtc0); plane == nil || plane.ID() != 32 {
		t.Errorf("CursorPlaneFor(crtc0) = %v, want plane 32", plane)
	}

	// No cursor plane reaches CRTC index 1; absence is not an error.
	if plane := device.CursorPlaneFor(crtc1); plane != nil {
		t.Errorf("CursorPlaneFor(crtc1) = %v, want nil", plane)
	}

	for _, crtc := range device.Crtcs() {
		for _, typ := range []PlaneType{PlaneTypePrimary, PlaneTypeCursor} {
			plane := device.planeWithTypeFor(crtc, typ)
			if plane != nil && !plane.IsUsableWith(crtc) {
				t.Errorf("returned plane %d not usable with CRTC %d", plane.ID(), crtc.ID())
			}
		}
	}
}

func TestFindInImpl(t *testing.T) {
	backend := newStubBackend("")
	fixtureTopology(backend)
	k, device := createStubDevice(t, backend)

	err := k.RunImplTask(func() error {
		if crtc := device.FindCrtcInImpl(11); crtc == nil || crtc.ID() != 11 {
			t.Errorf("FindCrtcInImpl(11) = %v", crtc)
		}
		if crtc := device.FindCrtcInImpl(999); crtc != nil {
			t.Errorf("FindCrtcInImpl(999) = %v, want nil", crtc)
		}
		if connector := device.FindConnectorInImpl(20); connector == nil || connector.ID() != 20 {
			t.Errorf("FindConnectorInImpl(20) = %v", connector)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunImplTask: %v", err)
	}
}

func TestImplOnlyCallsPanicOutsideImpl(t *testing.T) {
	backend := newStubBackend("")
	fixtureTopology(backend)
	_, device := createStubDevice(t, backend)

	for name, call := range map[string]func(){
		"UpdateStatesInImpl": func() { device.UpdateStatesInImpl(0, 0) },
		"FindCrtcInImpl":     func() { device.FindCrtcInImpl(10) },
		"AddFakePlaneInImpl": func() { device.AddFakePlaneInImpl(PlaneTypeCursor, device.Crtcs()[0]) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s outside impl context did not panic", name)
				}
			}()
			call()
		}()
	}
}

func TestAddFakePlaneInImpl(t *testing.T) {
	backend := newStubBackend("")
	fixtureTopology(backend)
	k, device := createStubDevice(t, backend)

	planesBefore := len(device.Planes())
	crtc1 := device.Crtcs()[1]

	err := k.RunImplTask(func() error {
		plane := device.AddFakePlaneInImpl(PlaneTypeCursor, crtc1)
		if !plane.Fake() {
			t.Error("synthesized plane not marked fake")
		}
		if !plane.IsUsableWith(crtc1) {
			t.Error("synthesized plane not usable with its CRTC")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunImplTask: %v", err)
	}

	if len(device.Planes()) != planesBefore+1 {
		t.Errorf("planes = %d, want %d", len(device.Planes()), planesBefore+1)
	}
	if device.CursorPlaneFor(crtc1) == nil {
		t.Error("fake cursor plane not reachable through CursorPlaneFor")
	}
	assertUniqueIDs(t, device)
}

func TestProcessUpdate(t *testing.T) {
	backend := newStubBackend("")
	_, device := createStubDevice(t, backend)

	feedback, err := device.ProcessUpdate(NewUpdate(), UpdateFlagNone)
	if err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if feedback == nil || feedback.CompletedAt.IsZero() {
		t.Error("feedback missing completion time")
	}
}

func TestProcessUpdateError(t *testing.T) {
	backend := newStubBackend("")
	backend.processErr = errors.New("commit rejected")
	_, device := createStubDevice(t, backend)

	feedback, err := device.ProcessUpdate(NewUpdate(), UpdateFlagNone)
	if err == nil {
		t.Fatal("ProcessUpdate succeeded, want error")
	}
	if feedback != nil {
		t.Error("both feedback and error returned")
	}
}

func TestProcessUpdateConcurrentCallersSerialize(t *testing.T) {
	backend := newStubBackend("")
	backend.processDelay = 2 * time.Millisecond
	_, device := createStubDevice(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := device.ProcessUpdate(NewUpdate(), UpdateFlagNone); err != nil {
				t.Errorf("ProcessUpdate: %v", err)
			}
		}()
	}
	wg.Wait()

	if backend.processOverlap.Load() {
		t.Error("backend observed overlapping updates")
	}
	if got := backend.processCount.Load(); got != 8 {
		t.Errorf("processed %d updates, want 8", got)
	}
}

func TestDisableIdempotent(t *testing.T) {
	backend := newStubBackend("")
	_, device := createStubDevice(t, backend)

	device.Disable()
	device.Disable()

	if backend.disableCount != 2 {
		t.Errorf("disableCount = %d, want 2", backend.disableCount)
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	backend := newStubBackend("")
	k, device := createStubDevice(t, backend)

	device.Close()
	if !backend.closed {
		t.Error("backend not closed")
	}
	if len(k.Devices()) != 0 {
		t.Error("device still registered after Close")
	}

	// Second close is a no-op.
	device.Close()
}

func TestOptionsForceDummy(t *testing.T) {
	registerStub(t, BackendAtomic, func(path string, flags DeviceFlag) (ImplDevice, error) {
		t.Error("atomic backend attempted despite noModeSetting override")
		return nil, ErrNotSupported
	})
	dummy := newStubBackend("")
	registerStub(t, BackendDummy, stubFactory(dummy))

	opts := &Options{Devices: []DeviceOptions{{
		Path:          "/dev/dri/card0",
		NoModeSetting: true,
		FallbackModes: []ModeOptions{{Width: 2560, Height: 1440}},
	}}}

	k := New(opts)
	defer k.Stop()

	device, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	found := false
	for _, mode := range device.FallbackModes() {
		if mode.HDisplay == 2560 && mode.VDisplay == 1440 {
			found = true
		}
	}
	if !found {
		t.Error("configured fallback mode not appended")
	}
}

func TestOptionsForceLegacy(t *testing.T) {
	registerStub(t, BackendAtomic, func(path string, flags DeviceFlag) (ImplDevice, error) {
		t.Error("atomic backend attempted despite forceLegacy override")
		return nil, ErrNotSupported
	})
	simple := newStubBackend("")
	registerStub(t, BackendSimple, stubFactory(simple))

	opts := &Options{Devices: []DeviceOptions{{
		Path:        "/dev/dri/card0",
		ForceLegacy: true,
	}}}

	k := New(opts)
	defer k.Stop()

	if _, err := k.CreateDevice("/dev/dri/card0", DeviceFlagNone); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
}
