package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// severityRank orders severities for upgrade-only comparisons
var severityRank = map[AlertSeverity]int{
	AlertSeverityInfo:     0,
	AlertSeverityWarning:  1,
	AlertSeverityCritical: 2,
}

// MoreSevere reports whether s outranks other
func (s AlertSeverity) MoreSevere(other AlertSeverity) bool {
	return severityRank[s] > severityRank[other]
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// AlertType identifies the kind of excursion an alert tracks.
// At most one active/acknowledged alert exists per (unit, type).
type AlertType string

const (
	AlertTypeTemperature AlertType = "temperature_excursion"
	AlertTypeHumidity    AlertType = "humidity_excursion"
	AlertTypeOffline     AlertType = "offline"
)

// Alert represents one excursion episode for a unit
type Alert struct {
	ID               string        `json:"id"`
	UnitID           string        `json:"unit_id"`
	OrganizationID   string        `json:"organization_id"`
	Type             AlertType     `json:"type"`
	Severity         AlertSeverity `json:"severity"`
	Status           AlertStatus   `json:"status"`
	Message          string        `json:"message,omitempty"`
	EscalationLevel  int           `json:"escalation_level"`
	TriggeredAt      time.Time     `json:"triggered_at"`
	LastObservedAt   time.Time     `json:"last_observed_at"`
	LastEscalatedAt  *time.Time    `json:"last_escalated_at,omitempty"`
	AcknowledgedBy   string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgeNotes string        `json:"acknowledge_notes,omitempty"`
	ResolvedBy       string        `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	Resolution       string        `json:"resolution,omitempty"`
	CorrectiveAction string        `json:"corrective_action,omitempty"`
}

// Open reports whether the alert still accepts updates and escalation
func (a *Alert) Open() bool {
	return a.Status == AlertStatusActive || a.Status == AlertStatusAcknowledged
}

// EscalationRule controls how alerts of one severity escalate over time
type EscalationRule struct {
	MaxLevel               int           `json:"max_level"`
	EscalateAfter          time.Duration `json:"escalate_after"`
	SendSMS                bool          `json:"send_sms"`
	ContactPriorityByLevel []int         `json:"contact_priority_by_level"`
}

// PriorityCeilingAll notifies every active contact regardless of priority
const PriorityCeilingAll = -1

// PriorityCeiling returns the contact priority ceiling for a level.
// Levels beyond the configured table fall back to the last entry.
func (r EscalationRule) PriorityCeiling(level int) int {
	if len(r.ContactPriorityByLevel) == 0 {
		return PriorityCeilingAll
	}
	if level >= len(r.ContactPriorityByLevel) {
		return r.ContactPriorityByLevel[len(r.ContactPriorityByLevel)-1]
	}
	if level < 0 {
		level = 0
	}
	return r.ContactPriorityByLevel[level]
}
