//go:build linux

package backends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opalwm/opal/internal/kms"
)

// dummyNodePath returns a plain file standing in for a device node; the
// dummy backend only needs something it can open.
func dummyNodePath(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "card0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDummyBackend(t *testing.T) {
	implDevice, err := openDummy(dummyNodePath(t), kms.DeviceFlagNoModeSetting)
	if err != nil {
		t.Fatalf("openDummy: %v", err)
	}
	defer implDevice.Close()

	if len(implDevice.Crtcs()) != 0 || len(implDevice.Connectors()) != 0 || len(implDevice.Planes()) != 0 {
		t.Error("dummy backend reported topology")
	}
	if len(implDevice.FallbackModes()) == 0 {
		t.Error("dummy backend has no fallback modes")
	}

	if changes := implDevice.UpdateStates(0, 0); changes != kms.ChangeNone {
		t.Errorf("UpdateStates = %v, want ChangeNone", changes)
	}

	feedback, err := implDevice.ProcessUpdate(kms.NewUpdate(), kms.UpdateFlagNone)
	if err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if feedback.CompletedAt.IsZero() {
		t.Error("feedback missing completion time")
	}

	if err := implDevice.Disable(); err != nil {
		t.Errorf("Disable: %v", err)
	}
	if err := implDevice.Disable(); err != nil {
		t.Errorf("second Disable: %v", err)
	}
}

func TestDummyFakePlanes(t *testing.T) {
	implDevice, err := openDummy(dummyNodePath(t), kms.DeviceFlagNoModeSetting)
	if err != nil {
		t.Fatalf("openDummy: %v", err)
	}
	defer implDevice.Close()

	crtc := kms.NewCrtc(1, 0)
	primary := implDevice.AddFakePlane(kms.PlaneTypePrimary, crtc)
	cursor := implDevice.AddFakePlane(kms.PlaneTypeCursor, crtc)

	if primary.ID() == cursor.ID() {
		t.Error("fake planes share an id")
	}
	if !primary.Fake() || !cursor.Fake() {
		t.Error("fake planes not marked fake")
	}
	if !primary.IsUsableWith(crtc) {
		t.Error("fake plane not usable with its CRTC")
	}
	if len(implDevice.Planes()) != 2 {
		t.Errorf("planes = %d, want 2", len(implDevice.Planes()))
	}
}

// TestDeviceWithDummyBackend exercises the full device path against the
// registered dummy backend, without hardware.
func TestDeviceWithDummyBackend(t *testing.T) {
	root := kms.New(nil)
	defer root.Stop()

	device, err := root.CreateDevice(dummyNodePath(t), kms.DeviceFlagNoModeSetting)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	if device.PrimaryPlaneFor(kms.NewCrtc(1, 0)) != nil {
		t.Error("dummy device has a primary plane before injection")
	}

	crtc := kms.NewCrtc(1, 0)
	err = root.RunImplTask(func() error {
		device.AddFakePlaneInImpl(kms.PlaneTypePrimary, crtc)
		return nil
	})
	if err != nil {
		t.Fatalf("RunImplTask: %v", err)
	}

	if device.PrimaryPlaneFor(crtc) == nil {
		t.Error("injected fake plane not visible")
	}

	device.Disable()
	device.Disable()
}

func checkModeSettingAvailable(t testing.TB) string {
	t.Helper()

	const path = "/dev/dri/card0"
	if _, err := os.Stat(path); err != nil {
		t.Skipf("no DRM node: %v", err)
	}
	return path
}

// TestOpenHardware opens the first real node read-only-style: construction
// and enumeration only, no commits.
func TestOpenHardware(t *testing.T) {
	path := checkModeSettingAvailable(t)

	root := kms.New(nil)
	defer root.Stop()

	device, err := root.CreateDevice(path, kms.DeviceFlagNone)
	if err != nil {
		t.Skipf("CreateDevice %s: %v", path, err)
	}

	if device.DriverName() == "" {
		t.Error("empty driver name")
	}
	if len(device.Crtcs()) == 0 {
		t.Error("no CRTCs enumerated")
	}

	for _, crtc := range device.Crtcs() {
		if plane := device.PrimaryPlaneFor(crtc); plane != nil && !plane.IsUsableWith(crtc) {
			t.Errorf("primary plane %d not usable with CRTC %d", plane.ID(), crtc.ID())
		}
	}

	err = root.RunImplTask(func() error {
		if changes := device.UpdateStatesInImpl(0, 0); changes != kms.ChangeNone {
			t.Logf("topology changed during test: %v", changes)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunImplTask: %v", err)
	}
}
