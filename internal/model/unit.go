package model

import "time"

// UnitClassification is the tracker's current view of one unit
type UnitClassification string

const (
	UnitNormal   UnitClassification = "normal"
	UnitWarning  UnitClassification = "warning"
	UnitCritical UnitClassification = "critical"
	UnitOffline  UnitClassification = "offline"
)

// Unit is a monitored refrigeration asset. Owned by the CRUD layer;
// this core only reads the hierarchy for rule resolution.
type Unit struct {
	ID             string `json:"id"`
	SiteID         string `json:"site_id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

// UnitState holds the per-unit evaluation state. Mutated only by the
// tracker, under the per-unit lock.
type UnitState struct {
	UnitID          string             `json:"unit_id"`
	Classification  UnitClassification `json:"classification"`
	LastReadingAt   time.Time          `json:"last_reading_at"`
	LastEvaluatedAt time.Time          `json:"last_evaluated_at"`
	FailureCount    int                `json:"failure_count"`
}
