//go:build linux

package drm

import (
	"bytes"
	"fmt"
	"runtime"
	"unsafe"
)

// Object types for ObjectProperties.
const (
	ObjectCrtc      uint32 = 0xcccccccc
	ObjectConnector uint32 = 0xc0c0c0c0
	ObjectPlane     uint32 = 0xeeeeeeee
)

// Atomic commit flags.
const (
	AtomicPageFlipEvent uint32 = 0x0001
	AtomicTestOnly      uint32 = 0x0100
	AtomicNonblock      uint32 = 0x0200
	AtomicAllowModeset  uint32 = 0x0400
)

type sysObjGetProperties struct {
	propsPtr      uint64
	propValuesPtr uint64
	countProps    uint32
	objID         uint32
	objType       uint32
	_             uint32
}

type sysGetProperty struct {
	valuesPtr      uint64
	enumBlobPtr    uint64
	propID         uint32
	flags          uint32
	name           [32]byte
	countValues    uint32
	countEnumBlobs uint32
}

type sysCreateBlob struct {
	data   uint64
	length uint32
	blobID uint32
}

type sysDestroyBlob struct {
	blobID uint32
}

type sysAtomic struct {
	flags         uint32
	countObjs     uint32
	objsPtr       uint64
	countPropsPtr uint64
	propsPtr      uint64
	propValuesPtr uint64
	reserved      uint64
	userData      uint64
}

var (
	ioctlModeGetProperty = iowr(0xaa, unsafe.Sizeof(sysGetProperty{}))
	ioctlModeObjGetProps = iowr(0xb9, unsafe.Sizeof(sysObjGetProperties{}))
	ioctlModeAtomic      = iowr(0xbc, unsafe.Sizeof(sysAtomic{}))
	ioctlModeCreateBlob  = iowr(0xbd, unsafe.Sizeof(sysCreateBlob{}))
	ioctlModeDestroyBlob = iowr(0xbe, unsafe.Sizeof(sysDestroyBlob{}))
)

// Property is one property attached to a mode setting object.
type Property struct {
	ID    uint32
	Value uint64
}

func (n *Node) propertyName(propID uint32) (string, error) {
	p := sysGetProperty{propID: propID}
	if err := ioctlWithRetry(n.fd, ioctlModeGetProperty, uintptr(unsafe.Pointer(&p))); err != nil {
		return "", fmt.Errorf("drm: get property %d: %w", propID, err)
	}

	end := bytes.IndexByte(p.name[:], 0)
	if end < 0 {
		end = len(p.name)
	}
	return string(p.name[:end]), nil
}

// ObjectProperties returns the properties of a mode setting object keyed by
// name, with their current values.
func (n *Node) ObjectProperties(objID, objType uint32) (map[string]Property, error) {
	for {
		props := sysObjGetProperties{objID: objID, objType: objType}
		if err := ioctlWithRetry(n.fd, ioctlModeObjGetProps, uintptr(unsafe.Pointer(&props))); err != nil {
			return nil, fmt.Errorf("drm: get properties of object %d: %w", objID, err)
		}

		count := props.countProps
		ids := make([]uint32, max(count, 1))
		values := make([]uint64, max(count, 1))
		props.propsPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
		props.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))

		if err := ioctlWithRetry(n.fd, ioctlModeObjGetProps, uintptr(unsafe.Pointer(&props))); err != nil {
			return nil, fmt.Errorf("drm: get properties of object %d: %w", objID, err)
		}
		runtime.KeepAlive(ids)
		runtime.KeepAlive(values)

		if props.countProps > count {
			continue
		}

		byName := make(map[string]Property, props.countProps)
		for i := uint32(0); i < props.countProps; i++ {
			name, err := n.propertyName(ids[i])
			if err != nil {
				return nil, err
			}
			byName[name] = Property{ID: ids[i], Value: values[i]}
		}
		return byName, nil
	}
}

// CreateBlob uploads a property blob and returns its id.
func (n *Node) CreateBlob(data []byte) (uint32, error) {
	blob := sysCreateBlob{
		data:   uint64(uintptr(unsafe.Pointer(&data[0]))),
		length: uint32(len(data)),
	}
	if err := ioctlWithRetry(n.fd, ioctlModeCreateBlob, uintptr(unsafe.Pointer(&blob))); err != nil {
		return 0, fmt.Errorf("drm: create blob: %w", err)
	}
	runtime.KeepAlive(data)
	return blob.blobID, nil
}

// DestroyBlob releases a property blob.
func (n *Node) DestroyBlob(id uint32) error {
	blob := sysDestroyBlob{blobID: id}
	if err := ioctlWithRetry(n.fd, ioctlModeDestroyBlob, uintptr(unsafe.Pointer(&blob))); err != nil {
		return fmt.Errorf("drm: destroy blob %d: %w", id, err)
	}
	return nil
}

// AtomicRequest accumulates property writes for one atomic commit, grouped
// per object in insertion order.
type AtomicRequest struct {
	objIDs []uint32
	props  map[uint32][]Property
}

func NewAtomicRequest() *AtomicRequest {
	return &AtomicRequest{props: make(map[uint32][]Property)}
}

// Set queues a property write on the given object.
func (r *AtomicRequest) Set(objID, propID uint32, value uint64) {
	if _, ok := r.props[objID]; !ok {
		r.objIDs = append(r.objIDs, objID)
	}
	r.props[objID] = append(r.props[objID], Property{ID: propID, Value: value})
}

// Empty reports whether no writes are queued.
func (r *AtomicRequest) Empty() bool {
	return len(r.objIDs) == 0
}

// AtomicCommit submits the request. The kernel applies either all of it or
// none of it.
func (n *Node) AtomicCommit(req *AtomicRequest, flags uint32) error {
	if req.Empty() {
		return nil
	}

	var (
		objs       []uint32
		countProps []uint32
		propIDs    []uint32
		propValues []uint64
	)
	for _, objID := range req.objIDs {
		props := req.props[objID]
		objs = append(objs, objID)
		countProps = append(countProps, uint32(len(props)))
		for _, p := range props {
			propIDs = append(propIDs, p.ID)
			propValues = append(propValues, p.Value)
		}
	}

	atomic := sysAtomic{
		flags:         flags,
		countObjs:     uint32(len(objs)),
		objsPtr:       uint64(uintptr(unsafe.Pointer(&objs[0]))),
		countPropsPtr: uint64(uintptr(unsafe.Pointer(&countProps[0]))),
		propsPtr:      uint64(uintptr(unsafe.Pointer(&propIDs[0]))),
		propValuesPtr: uint64(uintptr(unsafe.Pointer(&propValues[0]))),
	}

	if err := ioctlWithRetry(n.fd, ioctlModeAtomic, uintptr(unsafe.Pointer(&atomic))); err != nil {
		return fmt.Errorf("drm: atomic commit: %w", err)
	}
	runtime.KeepAlive(objs)
	runtime.KeepAlive(countProps)
	runtime.KeepAlive(propIDs)
	runtime.KeepAlive(propValues)
	return nil
}
