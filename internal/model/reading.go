package model

import "time"

// ReadingSource distinguishes sensor pushes from operator manual logs
type ReadingSource string

const (
	ReadingSourceSensor ReadingSource = "sensor"
	ReadingSourceManual ReadingSource = "manual"
)

// Reading is one decoded measurement for a unit
type Reading struct {
	UnitID      string        `json:"unit_id"`
	Temperature float64       `json:"temperature"`
	Humidity    *float64      `json:"humidity,omitempty"`
	Battery     *float64      `json:"battery,omitempty"`
	Source      ReadingSource `json:"source"`
	RecordedAt  time.Time     `json:"recorded_at"`
}
