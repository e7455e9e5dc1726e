package models

import (
	"time"

	"github.com/google/uuid"
)

// InterfaceType is the parser's classification of an interface, per the
// glossary entry "Interface classification".
type InterfaceType string

const (
	IfaceISP         InterfaceType = "isp"
	IfaceTrunk       InterfaceType = "trunk"
	IfaceAccess      InterfaceType = "access"
	IfaceServerLink  InterfaceType = "server_link"
	IfaceBranchLink  InterfaceType = "branch_link"
	IfaceManagement  InterfaceType = "management"
	IfaceLoopback    InterfaceType = "loopback"
	IfaceVoice       InterfaceType = "voice"
	IfaceCamera      InterfaceType = "camera"
	IfaceOther       InterfaceType = "other"
)

// Interface is a child entity of Device, keyed by (device_id, if_index).
type Interface struct {
	ID       uuid.UUID
	DeviceID uuid.UUID
	IfIndex  int

	IfName    string
	IfDescr   string
	IfAlias   string
	IfType    string
	AdminUp   bool
	OperUp    bool
	Speed     uint64
	MTU       int
	PhysAddr  string

	InterfaceType     InterfaceType
	ISPProvider       string
	IsCritical        bool
	ParserConfidence  float64

	ConnectedToDeviceID    *uuid.UUID
	ConnectedToInterfaceID *uuid.UUID
	LLDPNeighborName       string
	LLDPNeighborPort       string

	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMonitoredCritical reports whether this interface participates in
// critical-interface accounting. Loopback interfaces are recorded but
// always excluded (spec §3 invariant).
func (i *Interface) IsMonitoredCritical() bool {
	return i.IsCritical && i.InterfaceType != IfaceLoopback
}

// InterfaceSummary is the cached per-interface 24h rollup row populated
// by §4.K from TS-store range queries.
type InterfaceSummary struct {
	InterfaceID  uuid.UUID
	AvgInMbps    float64
	MaxOutMbps   float64
	TotalGB      float64
	ErrorCount   int64
	DiscardCount int64
	UpdatedAt    time.Time
}

// InterfaceBaseline is one (interface, hour_of_day, day_of_week) cell
// of learned traffic baseline, used for anomaly z-scoring (§4.M).
type InterfaceBaseline struct {
	InterfaceID uuid.UUID
	HourOfDay   int // 0-23
	DayOfWeek   int // 0-6, Sunday=0
	MeanInMbps  float64
	StddevIn    float64
	MinInMbps   float64
	MaxInMbps   float64
	SampleCount int
	Confidence  float64
}
