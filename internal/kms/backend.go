//go:build linux

package kms

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrNotSupported marks an expected driver limitation, e.g. the kernel
	// refusing the atomic capability. Backend selection skips over it
	// silently and tries the next candidate.
	ErrNotSupported = errors.New("kms: mode setting not supported")

	// ErrDeviceClosed is returned for operations on a closed device.
	ErrDeviceClosed = errors.New("kms: device closed")
)

// ImplDevice is the capability backend bound to a device. Implementations
// are only ever reached from the impl context; they are free to keep raw
// kernel handles and mutable state without locking.
//
// The slice-returning accessors expose the backend's live, impl-owned lists.
// The Device clones them whenever it publishes a snapshot.
type ImplDevice interface {
	Path() string
	DriverName() string
	DriverDescription() string
	Caps() DeviceCaps
	Crtcs() []*Crtc
	Connectors() []*Connector
	Planes() []*Plane
	FallbackModes() []*Mode

	// UpdateStates re-derives CRTC and connector state for the given ids
	// (zero means all) and reports what changed.
	UpdateStates(crtcID, connectorID uint32) ChangeSet

	// ProcessUpdate applies an update to the hardware. Exactly one of
	// feedback and error is non-nil.
	ProcessUpdate(update *Update, flags UpdateFlag) (*Feedback, error)

	// Disable relinquishes all outputs. Idempotent.
	Disable() error

	// AddFakePlane synthesizes a placeholder plane tied to crtc.
	AddFakePlane(typ PlaneType, crtc *Crtc) *Plane

	Close() error
}

// BackendKind names a mode setting strategy.
type BackendKind string

const (
	BackendAtomic BackendKind = "atomic"
	BackendSimple BackendKind = "simple"
	BackendDummy  BackendKind = "dummy"
)

func (k BackendKind) String() string {
	switch k {
	case BackendAtomic:
		return "atomic modesetting"
	case BackendSimple:
		return "legacy modesetting"
	case BackendDummy:
		return "no modesetting"
	default:
		return string(k)
	}
}

// BackendFactory opens a backend for the device at path. It runs inside the
// impl context.
type BackendFactory func(path string, flags DeviceFlag) (ImplDevice, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[BackendKind]BackendFactory)
)

// Mode setting backends are tried in this fixed order; the dummy backend is
// only ever used when explicitly requested.
var modeSettingPriority = []BackendKind{BackendAtomic, BackendSimple}

// RegisterBackend registers a backend factory, typically from an init
// function in a backend package. Registering an already-registered kind
// replaces it.
func RegisterBackend(kind BackendKind, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[kind] = factory
}

// UnregisterBackend removes a backend from the registry. Only used by tests.
func UnregisterBackend(kind BackendKind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, kind)
}

func backendFactory(kind BackendKind) BackendFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return factories[kind]
}

// newImplDevice selects and opens a backend for path. Runs inside the impl
// context.
//
// A no-mode-setting device binds the dummy backend directly and any failure
// is fatal. Otherwise candidates are tried in priority order; expected
// limitations skip silently, unexpected failures are logged but still fall
// through, since any working backend beats failing the whole device. The
// per-candidate failures are carried in the final error for diagnosability.
func newImplDevice(path string, flags DeviceFlag) (ImplDevice, error) {
	if flags&DeviceFlagNoModeSetting != 0 {
		factory := backendFactory(BackendDummy)
		if factory == nil {
			return nil, fmt.Errorf("kms: %s backend not registered", BackendDummy)
		}
		return factory(path, flags)
	}

	var errs []error
	for _, kind := range modeSettingPriority {
		if kind == BackendAtomic && flags&DeviceFlagForceLegacy != 0 {
			continue
		}
		factory := backendFactory(kind)
		if factory == nil {
			continue
		}

		implDevice, err := factory(path, flags)
		if err == nil {
			return implDevice, nil
		}
		if !errors.Is(err, ErrNotSupported) {
			slog.Warn("kms: failed to open backend",
				"backend", kind.String(),
				"path", path,
				"error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", kind, err))
	}

	return nil, fmt.Errorf("kms: no suitable mode setting backend for %q: %w",
		path, errors.Join(errs...))
}
