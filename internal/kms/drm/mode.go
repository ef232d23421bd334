//go:build linux

package drm

import (
	"bytes"
	"fmt"
	"runtime"
	"unsafe"
)

const DisplayModeNameLen = 32

// Connection states reported by GetConnector.
const (
	ConnectionConnected    uint32 = 1
	ConnectionDisconnected uint32 = 2
	ConnectionUnknown      uint32 = 3
)

// Plane type property values.
const (
	PlaneTypeOverlay uint64 = 0
	PlaneTypePrimary uint64 = 1
	PlaneTypeCursor  uint64 = 2
)

// ModeInfo mirrors struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock                                  uint32
	HDisplay, HSyncStart, HSyncEnd, HTotal uint16
	HSkew                                  uint16
	VDisplay, VSyncStart, VSyncEnd, VTotal uint16
	VScan                                  uint16
	VRefresh                               uint32
	Flags                                  uint32
	Type                                   uint32
	RawName                                [DisplayModeNameLen]byte
}

// Name returns the mode name as a string.
func (m *ModeInfo) Name() string {
	n := bytes.IndexByte(m.RawName[:], 0)
	if n < 0 {
		n = len(m.RawName)
	}
	return string(m.RawName[:n])
}

// SetName stores a mode name, truncating to the kernel limit.
func (m *ModeInfo) SetName(name string) {
	clear(m.RawName[:])
	copy(m.RawName[:DisplayModeNameLen-1], name)
}

type sysResources struct {
	fbIDPtr              uint64
	crtcIDPtr            uint64
	connectorIDPtr       uint64
	encoderIDPtr         uint64
	countFBs             uint32
	countCrtcs           uint32
	countConnectors      uint32
	countEncoders        uint32
	minWidth, maxWidth   uint32
	minHeight, maxHeight uint32
}

type sysGetConnector struct {
	encodersPtr   uint64
	modesPtr      uint64
	propsPtr      uint64
	propValuesPtr uint64

	countModes    uint32
	countProps    uint32
	countEncoders uint32

	encoderID       uint32
	connectorID     uint32
	connectorType   uint32
	connectorTypeID uint32

	connection        uint32
	mmWidth, mmHeight uint32
	subpixel          uint32
	_                 uint32
}

type sysGetPlaneResources struct {
	planeIDPtr  uint64
	countPlanes uint32
	_           uint32
}

type sysGetPlane struct {
	planeID          uint32
	crtcID           uint32
	fbID             uint32
	possibleCrtcs    uint32
	gammaSize        uint32
	countFormatTypes uint32
	formatTypePtr    uint64
}

type sysCrtc struct {
	setConnectorsPtr uint64
	countConnectors  uint32
	crtcID           uint32
	fbID             uint32
	x, y             uint32
	gammaSize        uint32
	modeValid        uint32
	mode             ModeInfo
}

var (
	ioctlModeGetResources = iowr(0xa0, unsafe.Sizeof(sysResources{}))
	ioctlModeSetCrtc      = iowr(0xa2, unsafe.Sizeof(sysCrtc{}))
	ioctlModeGetConnector = iowr(0xa7, unsafe.Sizeof(sysGetConnector{}))
	ioctlModeGetPlaneRes  = iowr(0xb5, unsafe.Sizeof(sysGetPlaneResources{}))
	ioctlModeGetPlane     = iowr(0xb6, unsafe.Sizeof(sysGetPlane{}))
)

// Resources holds the device's CRTC and connector id lists.
type Resources struct {
	CrtcIDs      []uint32
	ConnectorIDs []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

// Resources enumerates the device's mode setting resources. The two-call
// count-then-fill protocol is retried when a hotplug changes the counts in
// between.
func (n *Node) Resources() (*Resources, error) {
	for {
		var res sysResources
		if err := ioctlWithRetry(n.fd, ioctlModeGetResources, uintptr(unsafe.Pointer(&res))); err != nil {
			return nil, fmt.Errorf("drm: get resources: %w", err)
		}

		counts := res
		crtcs := make([]uint32, max(res.countCrtcs, 1))
		connectors := make([]uint32, max(res.countConnectors, 1))
		res.crtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcs[0])))
		res.connectorIDPtr = uint64(uintptr(unsafe.Pointer(&connectors[0])))
		res.countFBs = 0
		res.countEncoders = 0

		if err := ioctlWithRetry(n.fd, ioctlModeGetResources, uintptr(unsafe.Pointer(&res))); err != nil {
			return nil, fmt.Errorf("drm: get resources: %w", err)
		}
		runtime.KeepAlive(crtcs)
		runtime.KeepAlive(connectors)

		if res.countCrtcs > counts.countCrtcs || res.countConnectors > counts.countConnectors {
			continue
		}

		return &Resources{
			CrtcIDs:      crtcs[:res.countCrtcs],
			ConnectorIDs: connectors[:res.countConnectors],
			MinWidth:     res.minWidth,
			MaxWidth:     res.maxWidth,
			MinHeight:    res.minHeight,
			MaxHeight:    res.maxHeight,
		}, nil
	}
}

// ConnectorInfo is the probed state of one connector.
type ConnectorInfo struct {
	ID         uint32
	Type       uint32
	TypeID     uint32
	Connection uint32
	MmWidth    uint32
	MmHeight   uint32
	Modes      []ModeInfo
	EncoderID  uint32
}

// Connector probes the connector with the given id, including its mode list.
func (n *Node) Connector(id uint32) (*ConnectorInfo, error) {
	for {
		conn := sysGetConnector{connectorID: id}
		if err := ioctlWithRetry(n.fd, ioctlModeGetConnector, uintptr(unsafe.Pointer(&conn))); err != nil {
			return nil, fmt.Errorf("drm: get connector %d: %w", id, err)
		}

		countModes := conn.countModes
		modes := make([]ModeInfo, max(countModes, 1))
		conn = sysGetConnector{
			connectorID: id,
			countModes:  countModes,
			modesPtr:    uint64(uintptr(unsafe.Pointer(&modes[0]))),
		}

		if err := ioctlWithRetry(n.fd, ioctlModeGetConnector, uintptr(unsafe.Pointer(&conn))); err != nil {
			return nil, fmt.Errorf("drm: get connector %d: %w", id, err)
		}
		runtime.KeepAlive(modes)

		if conn.countModes > countModes {
			continue
		}

		return &ConnectorInfo{
			ID:         conn.connectorID,
			Type:       conn.connectorType,
			TypeID:     conn.connectorTypeID,
			Connection: conn.connection,
			MmWidth:    conn.mmWidth,
			MmHeight:   conn.mmHeight,
			Modes:      modes[:conn.countModes],
			EncoderID:  conn.encoderID,
		}, nil
	}
}

// PlaneResources returns the ids of all planes exposed on this fd. With the
// universal planes client cap enabled this includes primary and cursor
// planes.
func (n *Node) PlaneResources() ([]uint32, error) {
	for {
		var res sysGetPlaneResources
		if err := ioctlWithRetry(n.fd, ioctlModeGetPlaneRes, uintptr(unsafe.Pointer(&res))); err != nil {
			return nil, fmt.Errorf("drm: get plane resources: %w", err)
		}

		count := res.countPlanes
		planes := make([]uint32, max(count, 1))
		res.planeIDPtr = uint64(uintptr(unsafe.Pointer(&planes[0])))

		if err := ioctlWithRetry(n.fd, ioctlModeGetPlaneRes, uintptr(unsafe.Pointer(&res))); err != nil {
			return nil, fmt.Errorf("drm: get plane resources: %w", err)
		}
		runtime.KeepAlive(planes)

		if res.countPlanes > count {
			continue
		}

		return planes[:res.countPlanes], nil
	}
}

// PlaneInfo is the static state of one plane.
type PlaneInfo struct {
	ID            uint32
	CrtcID        uint32
	FramebufferID uint32
	PossibleCrtcs uint32
}

// Plane queries the plane with the given id.
func (n *Node) Plane(id uint32) (*PlaneInfo, error) {
	p := sysGetPlane{planeID: id}
	if err := ioctlWithRetry(n.fd, ioctlModeGetPlane, uintptr(unsafe.Pointer(&p))); err != nil {
		return nil, fmt.Errorf("drm: get plane %d: %w", id, err)
	}

	return &PlaneInfo{
		ID:            p.planeID,
		CrtcID:        p.crtcID,
		FramebufferID: p.fbID,
		PossibleCrtcs: p.possibleCrtcs,
	}, nil
}

// SetCrtc programs a CRTC through the legacy interface. A nil mode with
// fbID zero disables the CRTC.
func (n *Node) SetCrtc(crtcID, fbID uint32, x, y uint32, connectorIDs []uint32, mode *ModeInfo) error {
	crtc := sysCrtc{
		crtcID: crtcID,
		fbID:   fbID,
		x:      x,
		y:      y,
	}
	if len(connectorIDs) > 0 {
		crtc.setConnectorsPtr = uint64(uintptr(unsafe.Pointer(&connectorIDs[0])))
		crtc.countConnectors = uint32(len(connectorIDs))
	}
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}

	if err := ioctlWithRetry(n.fd, ioctlModeSetCrtc, uintptr(unsafe.Pointer(&crtc))); err != nil {
		return fmt.Errorf("drm: set crtc %d: %w", crtcID, err)
	}
	runtime.KeepAlive(connectorIDs)
	return nil
}
