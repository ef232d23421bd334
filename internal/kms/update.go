//go:build linux

package kms

import "time"

// UpdateFlag is a bit set controlling how an update is committed.
type UpdateFlag uint32

const (
	UpdateFlagNone UpdateFlag = 0

	// UpdateFlagTestOnly validates the update without touching hardware.
	UpdateFlagTestOnly UpdateFlag = 1 << 0

	// UpdateFlagAllowModeset permits full mode switches, which may blank
	// outputs momentarily.
	UpdateFlagAllowModeset UpdateFlag = 1 << 1
)

// ModeSet assigns a mode and a set of connectors to a CRTC. A nil Mode
// disables the CRTC.
type ModeSet struct {
	CrtcID       uint32
	ConnectorIDs []uint32
	Mode         *Mode
}

// PlaneAssignment places a framebuffer on a plane targeting a CRTC.
type PlaneAssignment struct {
	PlaneID       uint32
	CrtcID        uint32
	FramebufferID uint32

	// Destination rectangle on the CRTC.
	X, Y          int32
	Width, Height uint32

	// Source rectangle in the framebuffer, 16.16 fixed point.
	SrcX, SrcY          uint32
	SrcWidth, SrcHeight uint32
}

// Update is an ordered description of state changes to submit as one commit.
// It is built by a caller, then interpreted by the backend inside the impl
// context; the core never looks at its contents.
type Update struct {
	modeSets         []ModeSet
	planeAssignments []PlaneAssignment
}

func NewUpdate() *Update {
	return &Update{}
}

// SetMode queues a mode set for crtcID driving the given connectors.
func (u *Update) SetMode(crtcID uint32, connectorIDs []uint32, mode *Mode) *Update {
	u.modeSets = append(u.modeSets, ModeSet{
		CrtcID:       crtcID,
		ConnectorIDs: connectorIDs,
		Mode:         mode,
	})
	return u
}

// AssignPlane queues a plane assignment.
func (u *Update) AssignPlane(assignment PlaneAssignment) *Update {
	u.planeAssignments = append(u.planeAssignments, assignment)
	return u
}

// ModeSets returns the queued mode sets in submission order.
func (u *Update) ModeSets() []ModeSet { return u.modeSets }

// PlaneAssignments returns the queued plane assignments in submission order.
func (u *Update) PlaneAssignments() []PlaneAssignment { return u.planeAssignments }

// IsEmpty reports whether the update carries no operations.
func (u *Update) IsEmpty() bool {
	return len(u.modeSets) == 0 && len(u.planeAssignments) == 0
}

// Feedback describes the outcome of a committed update.
type Feedback struct {
	// CompletedAt is when the commit returned from the kernel.
	CompletedAt time.Time

	// TestOnly is set when the update was only validated.
	TestOnly bool
}

// ChangeSet reports what a state refresh found to differ.
type ChangeSet uint32

const (
	ChangeNone     ChangeSet = 0
	ChangeTopology ChangeSet = 1 << 0
	ChangeGamma    ChangeSet = 1 << 1
)
