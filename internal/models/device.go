// Package models defines the entities shared by the monitoring engine:
// devices, interfaces, alert rules/history, the monitoring profile, and
// the time-series sample shapes written to and read from the TS store.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxStatusHistory bounds the ring of recorded status-change timestamps
// kept on a device, used for flapping detection over FlapWindow.
const MaxStatusHistory = 10

// SNMPVersion identifies which SNMP credential variant a device uses.
type SNMPVersion string

const (
	SNMPv2c SNMPVersion = "v2c"
	SNMPv3  SNMPVersion = "v3"
)

// SNMPCredential is the tagged-variant credential record from spec §9:
// V2c{community} | V3{user, auth, priv, level}. Secret fields are stored
// encrypted at rest (see internal/cryptutil) and only decrypted inside
// the SNMP prober's call frame.
type SNMPCredential struct {
	Version SNMPVersion

	// V2c fields.
	CommunityEncrypted []byte

	// V3 fields.
	User               string
	AuthProto          string
	AuthKeyEncrypted   []byte
	PrivProto          string
	PrivKeyEncrypted   []byte
	SecurityLevel      string // noAuthNoPriv | authNoPriv | authPriv
}

// Device is the monitored network asset: router, switch, AP, ATM, NVR,
// or ISP uplink.
type Device struct {
	ID          uuid.UUID
	IP          string
	Hostname    string
	DisplayName string
	Vendor      string
	DeviceType  string

	BranchID     uuid.UUID
	Region       string
	Tags         []string
	CustomFields map[string]string

	Enabled    bool
	SNMPPort   int
	Credential SNMPCredential

	// State fields — mutated only by ping/SNMP workers for a transition
	// they own (§3 ownership rule).
	DownSince          *time.Time
	IsFlapping         bool
	FlapCount          int
	FlappingSince      *time.Time
	StatusChangeTimes  []time.Time // bounded ring, len <= MaxStatusHistory

	LastPingAt      time.Time
	LastRTTMillis   float64
	LastPacketLoss  float64
	SysObjectID     string
	SysDescr        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsUp reports whether the device's last processed reachability sample
// was UP, per invariant P1: DownSince == nil iff the device is up.
func (d *Device) IsUp() bool {
	return d.DownSince == nil
}

// IsISPLink implements the organizational convention from the glossary:
// a device whose IP's final octet is .5 receives stricter alert
// thresholds.
func (d *Device) IsISPLink() bool {
	return ipEndsIn5(d.IP)
}

func ipEndsIn5(ip string) bool {
	n := len(ip)
	if n < 2 {
		return false
	}
	return ip[n-2:] == ".5"
}

// PushStatusChange appends a transition timestamp to the bounded ring,
// dropping the oldest entry once MaxStatusHistory is reached.
func (d *Device) PushStatusChange(at time.Time) {
	d.StatusChangeTimes = append(d.StatusChangeTimes, at)
	if len(d.StatusChangeTimes) > MaxStatusHistory {
		d.StatusChangeTimes = d.StatusChangeTimes[len(d.StatusChangeTimes)-MaxStatusHistory:]
	}
}

// TransitionsSince counts ring entries newer than the given cutoff —
// used by the flapping detector to count transitions in the trailing
// window.
func (d *Device) TransitionsSince(cutoff time.Time) int {
	count := 0
	for _, t := range d.StatusChangeTimes {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}
