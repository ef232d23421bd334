//go:build linux

package kms

// PlaneType classifies a hardware compositing layer.
type PlaneType int

const (
	PlaneTypeOverlay PlaneType = iota
	PlaneTypePrimary
	PlaneTypeCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlaneTypePrimary:
		return "primary"
	case PlaneTypeCursor:
		return "cursor"
	default:
		return "overlay"
	}
}

// Plane is an immutable handle for one compositing layer.
type Plane struct {
	id            uint32
	typ           PlaneType
	possibleCrtcs uint32
	fake          bool
}

// NewPlane creates a plane handle. possibleCrtcs is the kernel bitmask of
// CRTC indexes the plane can scan out to.
func NewPlane(id uint32, typ PlaneType, possibleCrtcs uint32) *Plane {
	return &Plane{id: id, typ: typ, possibleCrtcs: possibleCrtcs}
}

// NewFakePlane creates a placeholder plane usable only with crtc, for
// backends that lack a real plane of the requested type. The caller picks an
// id unique within the device's plane list.
func NewFakePlane(id uint32, typ PlaneType, crtc *Crtc) *Plane {
	return &Plane{
		id:            id,
		typ:           typ,
		possibleCrtcs: 1 << uint(crtc.Index()),
		fake:          true,
	}
}

func (p *Plane) ID() uint32            { return p.id }
func (p *Plane) Type() PlaneType       { return p.typ }
func (p *Plane) PossibleCrtcs() uint32 { return p.possibleCrtcs }
func (p *Plane) Fake() bool            { return p.fake }

// IsUsableWith reports whether the plane can scan out to crtc.
func (p *Plane) IsUsableWith(crtc *Crtc) bool {
	return p.possibleCrtcs&(1<<uint(crtc.Index())) != 0
}
