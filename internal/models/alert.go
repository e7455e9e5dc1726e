package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the alert severity ladder from spec §3.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for the "higher severity wins" dedup
// rule in §4.L.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Outranks reports whether s is strictly more severe than other.
func (s Severity) Outranks(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// AlertRule is a user-defined or built-in evaluation rule.
type AlertRule struct {
	ID          uuid.UUID
	Name        string
	Description string
	Expression  string
	Severity    Severity
	DeviceID    *uuid.UUID
	BranchID    *uuid.UUID
	Enabled     bool
}

// AlertHistory is an append-until-resolved alert instance.
type AlertHistory struct {
	ID                uuid.UUID
	DeviceID          uuid.UUID
	RuleName          string
	DedupGroup        string
	Severity          Severity
	Message           string
	Value             string
	Threshold         string
	TriggeredAt       time.Time
	ResolvedAt        *time.Time
	Acknowledged      bool
	AcknowledgedBy    string
	AcknowledgedAt    *time.Time
	NotificationsSent int
}

// IsUnresolved reports whether this alert is still active.
func (a *AlertHistory) IsUnresolved() bool {
	return a.ResolvedAt == nil
}

// MonitoringProfile is the singleton "active" configuration gate (§3,
// §9). Only one row may have IsActive = true; core treats the mode as
// a feature gate, not a behavior switch.
type MonitoringProfile struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	Settings  map[string]string
	UpdatedAt time.Time
}
