//go:build linux

package kms

// Crtc is an immutable handle for one scanout pipeline.
type Crtc struct {
	id    uint32
	index int
}

// NewCrtc creates a CRTC handle. index is the CRTC's position in the
// device's resource list; plane possible-CRTC bitmasks are indexed by it.
func NewCrtc(id uint32, index int) *Crtc {
	return &Crtc{id: id, index: index}
}

func (c *Crtc) ID() uint32 { return c.id }
func (c *Crtc) Index() int { return c.index }
