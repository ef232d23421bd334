//go:build linux

package kms

import "fmt"

// ConnectorStatus mirrors the kernel's connection states.
type ConnectorStatus uint32

const (
	ConnectorStatusConnected    ConnectorStatus = 1
	ConnectorStatusDisconnected ConnectorStatus = 2
	ConnectorStatusUnknown      ConnectorStatus = 3
)

func (s ConnectorStatus) String() string {
	switch s {
	case ConnectorStatusConnected:
		return "connected"
	case ConnectorStatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectorType mirrors the kernel's connector type ids.
type ConnectorType uint32

const (
	ConnectorTypeUnknown ConnectorType = iota
	ConnectorTypeVGA
	ConnectorTypeDVII
	ConnectorTypeDVID
	ConnectorTypeDVIA
	ConnectorTypeComposite
	ConnectorTypeSVideo
	ConnectorTypeLVDS
	ConnectorTypeComponent
	ConnectorTypeDIN
	ConnectorTypeDisplayPort
	ConnectorTypeHDMIA
	ConnectorTypeHDMIB
	ConnectorTypeTV
	ConnectorTypeEDP
	ConnectorTypeVirtual
	ConnectorTypeDSI
	ConnectorTypeDPI
	ConnectorTypeWriteback
	ConnectorTypeSPI
	ConnectorTypeUSB
)

var connectorTypeNames = map[ConnectorType]string{
	ConnectorTypeUnknown:     "Unknown",
	ConnectorTypeVGA:         "VGA",
	ConnectorTypeDVII:        "DVI-I",
	ConnectorTypeDVID:        "DVI-D",
	ConnectorTypeDVIA:        "DVI-A",
	ConnectorTypeComposite:   "Composite",
	ConnectorTypeSVideo:      "SVIDEO",
	ConnectorTypeLVDS:        "LVDS",
	ConnectorTypeComponent:   "Component",
	ConnectorTypeDIN:         "DIN",
	ConnectorTypeDisplayPort: "DP",
	ConnectorTypeHDMIA:       "HDMI-A",
	ConnectorTypeHDMIB:       "HDMI-B",
	ConnectorTypeTV:          "TV",
	ConnectorTypeEDP:         "eDP",
	ConnectorTypeVirtual:     "Virtual",
	ConnectorTypeDSI:         "DSI",
	ConnectorTypeDPI:         "DPI",
	ConnectorTypeWriteback:   "Writeback",
	ConnectorTypeSPI:         "SPI",
	ConnectorTypeUSB:         "USB",
}

func (t ConnectorType) String() string {
	if name, ok := connectorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(t))
}

// Connector is an immutable handle for one output port at the time of a
// snapshot.
type Connector struct {
	id     uint32
	typ    ConnectorType
	typeID uint32
	status ConnectorStatus
	modes  []*Mode
}

// NewConnector creates a connector handle. typeID distinguishes multiple
// connectors of the same type (HDMI-A-1, HDMI-A-2).
func NewConnector(id uint32, typ ConnectorType, typeID uint32, status ConnectorStatus, modes []*Mode) *Connector {
	return &Connector{id: id, typ: typ, typeID: typeID, status: status, modes: modes}
}

func (c *Connector) ID() uint32              { return c.id }
func (c *Connector) Type() ConnectorType     { return c.typ }
func (c *Connector) Status() ConnectorStatus { return c.status }

// Name returns the conventional connector name, e.g. "HDMI-A-1".
func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", c.typ, c.typeID)
}

// Modes returns the monitor-reported modes. Read-only.
func (c *Connector) Modes() []*Mode { return c.modes }
