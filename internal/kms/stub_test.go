//go:build linux

package kms

import (
	"sync/atomic"
	"testing"
	"time"
)

// stubBackend is a fully scripted ImplDevice for exercising the device core
// without hardware.
type stubBackend struct {
	path              string
	driverName        string
	driverDescription string
	caps              DeviceCaps

	crtcs         []*Crtc
	connectors    []*Connector
	planes        []*Plane
	fallbackModes []*Mode

	updateResult ChangeSet

	processErr     error
	processDelay   time.Duration
	processBusy    atomic.Bool
	processOverlap atomic.Bool
	processCount   atomic.Int32

	disableCount int
	closed       bool

	nextFakeID uint32
}

func newStubBackend(path string) *stubBackend {
	return &stubBackend{
		path:              path,
		driverName:        "stub",
		driverDescription: "stub driver",
		fallbackModes:     DefaultFallbackModes(),
		nextFakeID:        1000,
	}
}

func (s *stubBackend) Path() string              { return s.path }
func (s *stubBackend) DriverName() string        { return s.driverName }
func (s *stubBackend) DriverDescription() string { return s.driverDescription }
func (s *stubBackend) Caps() DeviceCaps          { return s.caps }
func (s *stubBackend) Crtcs() []*Crtc            { return s.crtcs }
func (s *stubBackend) Connectors() []*Connector  { return s.connectors }
func (s *stubBackend) Planes() []*Plane          { return s.planes }
func (s *stubBackend) FallbackModes() []*Mode    { return s.fallbackModes }

func (s *stubBackend) UpdateStates(crtcID, connectorID uint32) ChangeSet {
	return s.updateResult
}

func (s *stubBackend) ProcessUpdate(update *Update, flags UpdateFlag) (*Feedback, error) {
	if !s.processBusy.CompareAndSwap(false, true) {
		s.processOverlap.Store(true)
	}
	if s.processDelay > 0 {
		time.Sleep(s.processDelay)
	}
	s.processBusy.Store(false)
	s.processCount.Add(1)

	if s.processErr != nil {
		return nil, s.processErr
	}
	return &Feedback{CompletedAt: time.Now(), TestOnly: flags&UpdateFlagTestOnly != 0}, nil
}

func (s *stubBackend) Disable() error {
	s.disableCount++
	return nil
}

func (s *stubBackend) AddFakePlane(typ PlaneType, crtc *Crtc) *Plane {
	id := s.nextFakeID
	s.nextFakeID++

	plane := NewFakePlane(id, typ, crtc)
	s.planes = append(s.planes, plane)
	return plane
}

func (s *stubBackend) Close() error {
	s.closed = true
	return nil
}

// registerStub installs a factory for kind and restores the registry when
// the test finishes.
func registerStub(t *testing.T, kind BackendKind, factory BackendFactory) {
	t.Helper()
	RegisterBackend(kind, factory)
	t.Cleanup(func() { UnregisterBackend(kind) })
}

func stubFactory(backend *stubBackend) BackendFactory {
	return func(path string, flags DeviceFlag) (ImplDevice, error) {
		if backend.path == "" {
			backend.path = path
		}
		return backend, nil
	}
}

func failingFactory(err error) BackendFactory {
	return func(path string, flags DeviceFlag) (ImplDevice, error) {
		return nil, err
	}
}
