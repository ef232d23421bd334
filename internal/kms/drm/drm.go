//go:build linux

// Package drm provides the raw DRM ioctl surface used by the mode setting
// backends. It knows nothing about the kms core; it maps kernel structures
// one to one.
package drm

import (
	"fmt"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capability ids for GetCap.
const (
	CapDumbBuffer         uint64 = 0x1
	CapVBlankHighCrtc     uint64 = 0x2
	CapDumbPreferredDepth uint64 = 0x3
	CapDumbPreferShadow   uint64 = 0x4
	CapPrime              uint64 = 0x5
	CapTimestampMonotonic uint64 = 0x6
	CapAsyncPageFlip      uint64 = 0x7
	CapCursorWidth        uint64 = 0x8
	CapCursorHeight       uint64 = 0x9
	CapAddFB2Modifiers    uint64 = 0x10
)

// Client capability ids for SetClientCap.
const (
	ClientCapStereo3D        uint64 = 1
	ClientCapUniversalPlanes uint64 = 2
	ClientCapAtomic          uint64 = 3
)

type sysVersion struct {
	major   int32
	minor   int32
	patch   int32
	_       int32
	nameLen uint64
	name    uint64
	dateLen uint64
	date    uint64
	descLen uint64
	desc    uint64
}

type sysCapability struct {
	id  uint64
	val uint64
}

type sysSetClientCap struct {
	capability uint64
	value      uint64
}

var (
	ioctlVersion      = iowr(0x00, unsafe.Sizeof(sysVersion{}))
	ioctlGetCap       = iowr(0x0c, unsafe.Sizeof(sysCapability{}))
	ioctlSetClientCap = iow(0x0d, unsafe.Sizeof(sysSetClientCap{}))
)

// Node is an open DRM device node.
type Node struct {
	fd   int
	path string
}

// Open opens the DRM node at path. The stored path is canonicalized, since
// discovery layers commonly hand out symlinks under by-path directories.
func Open(path string) (*Node, error) {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		canonical = path
	}

	fd, err := unix.Open(canonical, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("drm: open %s: %w", canonical, err)
	}

	return &Node{fd: fd, path: canonical}, nil
}

func (n *Node) Close() error {
	if n.fd < 0 {
		return nil
	}
	err := unix.Close(n.fd)
	n.fd = -1
	if err != nil {
		return fmt.Errorf("drm: close %s: %w", n.path, err)
	}
	return nil
}

func (n *Node) Fd() int { return n.fd }

// Path returns the canonical device path.
func (n *Node) Path() string { return n.path }

// Version returns the driver name, date and description.
func (n *Node) Version() (name, date, desc string, err error) {
	var v sysVersion
	if err := ioctlWithRetry(n.fd, ioctlVersion, uintptr(unsafe.Pointer(&v))); err != nil {
		return "", "", "", fmt.Errorf("drm: version: %w", err)
	}

	nameBuf := make([]byte, v.nameLen+1)
	dateBuf := make([]byte, v.dateLen+1)
	descBuf := make([]byte, v.descLen+1)
	v.name = uint64(uintptr(unsafe.Pointer(&nameBuf[0])))
	v.date = uint64(uintptr(unsafe.Pointer(&dateBuf[0])))
	v.desc = uint64(uintptr(unsafe.Pointer(&descBuf[0])))

	if err := ioctlWithRetry(n.fd, ioctlVersion, uintptr(unsafe.Pointer(&v))); err != nil {
		return "", "", "", fmt.Errorf("drm: version: %w", err)
	}
	runtime.KeepAlive(nameBuf)
	runtime.KeepAlive(dateBuf)
	runtime.KeepAlive(descBuf)

	return string(nameBuf[:v.nameLen]), string(dateBuf[:v.dateLen]), string(descBuf[:v.descLen]), nil
}

// Cap queries a driver capability. Missing capabilities report ok == false
// rather than an error.
func (n *Node) Cap(id uint64) (value uint64, ok bool) {
	c := sysCapability{id: id}
	if err := ioctlWithRetry(n.fd, ioctlGetCap, uintptr(unsafe.Pointer(&c))); err != nil {
		return 0, false
	}
	return c.val, true
}

// SetClientCap enables a client capability on this fd.
func (n *Node) SetClientCap(id, value uint64) error {
	c := sysSetClientCap{capability: id, value: value}
	if err := ioctlWithRetry(n.fd, ioctlSetClientCap, uintptr(unsafe.Pointer(&c))); err != nil {
		return fmt.Errorf("drm: set client cap %d: %w", id, err)
	}
	return nil
}
