//go:build linux

// Package kms drives kernel mode setting hardware for the native backend.
//
// All hardware access is funneled through a single privileged goroutine per
// KMS root (the "impl context"). Devices expose an immutable topology
// snapshot that may be read from any goroutine; mutations are dispatched as
// synchronous tasks into the impl context.
package kms

import (
	"slices"
	"sync"
)

// KMS is the root object owning the impl context and all open devices.
type KMS struct {
	impl *Impl
	opts *Options

	mu      sync.Mutex
	devices []*Device
}

// New creates a KMS root and starts its impl context. opts may be nil.
func New(opts *Options) *KMS {
	if opts == nil {
		opts = &Options{}
	}
	return &KMS{
		impl: newImpl(),
		opts: opts,
	}
}

// RunImplTask runs fn inside the impl context and blocks until it completes.
// Must not be called from the impl context itself.
func (k *KMS) RunImplTask(fn func() error) error {
	k.impl.assertNotInImpl()
	return k.impl.RunTask(fn)
}

// InImpl reports whether the calling goroutine is this root's impl context.
func (k *KMS) InImpl() bool {
	return k.impl.InImpl()
}

// Devices returns the currently open devices.
func (k *KMS) Devices() []*Device {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.devices)
}

func (k *KMS) addDevice(device *Device) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices = append(k.devices, device)
}

func (k *KMS) removeDevice(device *Device) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices = slices.DeleteFunc(k.devices, func(d *Device) bool { return d == device })
}

// Stop closes all devices and shuts the impl context down. The root must not
// be used afterwards.
func (k *KMS) Stop() {
	for _, device := range k.Devices() {
		device.Close()
	}
	k.impl.shutdown()
}
