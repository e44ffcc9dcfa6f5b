package model

import (
	"math"
	"time"
)

// Position is a WGS84 coordinate.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is on the globe.
func (p Position) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// RealTimeData is one telemetry sample of a train.
type RealTimeData struct {
	EventID     string    `json:"event_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	TrainID     string    `json:"train_id"`
	Position    Position  `json:"position"`
	Speed       float64   `json:"speed"`
	Direction   float64   `json:"direction"` // degrees
	SectionID   string    `json:"section_id"`
	Delay       int       `json:"delay"` // seconds
	Status      string    `json:"status"`
	NextSignal  string    `json:"next_signal"`
	NextStation string    `json:"next_station"`
}

// Validate returns the first violated invariant, or nil.
func (r *RealTimeData) Validate() error {
	what := "telemetry " + r.TrainID
	switch {
	case r.TrainID == "":
		return invalid("telemetry", "train_id is required")
	case r.SectionID == "":
		return invalid(what, "section_id is required")
	case r.Timestamp.IsZero():
		return invalid(what, "timestamp is required")
	case !r.Position.Valid():
		return invalid(what, "position (%.5f, %.5f) is off the globe", r.Position.Latitude, r.Position.Longitude)
	case r.Speed < 0 || math.IsNaN(r.Speed):
		return invalid(what, "speed must not be negative")
	case r.Direction < 0 || r.Direction >= 360:
		return invalid(what, "direction must be in [0, 360)")
	}
	return nil
}

// WeatherData is one weather reading for a section.
type WeatherData struct {
	Timestamp   time.Time        `json:"timestamp"`
	SectionID   string           `json:"section_id"`
	Condition   WeatherCondition `json:"condition"`
	Temperature float64          `json:"temperature"` // celsius
	Visibility  float64          `json:"visibility"`  // km
	WindSpeed   float64          `json:"wind_speed"`  // km/h
	Rainfall    *float64         `json:"rainfall,omitempty"`
}

// Validate returns the first violated invariant, or nil.
func (w *WeatherData) Validate() error {
	what := "weather " + w.SectionID
	switch {
	case w.SectionID == "":
		return invalid("weather", "section_id is required")
	case w.Timestamp.IsZero():
		return invalid(what, "timestamp is required")
	case !w.Condition.Valid():
		return invalid(what, "unknown condition %q", w.Condition)
	case w.Visibility < 0 || w.WindSpeed < 0:
		return invalid(what, "visibility and wind_speed must not be negative")
	case w.Rainfall != nil && *w.Rainfall < 0:
		return invalid(what, "rainfall must not be negative")
	}
	return nil
}

// MaintenanceBlock takes a section out of full service for a time window.
// A nil SpeedRestriction means the section is closed.
type MaintenanceBlock struct {
	BlockID          string            `json:"block_id"`
	SectionID        string            `json:"section_id"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	Type             string            `json:"type"`
	Status           MaintenanceStatus `json:"status"`
	SpeedRestriction *float64          `json:"speed_restriction,omitempty"`
	Description      string            `json:"description"`
}

// Validate returns the first violated invariant, or nil.
func (b *MaintenanceBlock) Validate() error {
	what := "maintenance block " + b.BlockID
	switch {
	case b.BlockID == "":
		return invalid("maintenance block", "block_id is required")
	case b.SectionID == "":
		return invalid(what, "section_id is required")
	case !b.EndTime.After(b.StartTime):
		return invalid(what, "end_time must be after start_time")
	case !b.Status.Valid():
		return invalid(what, "unknown status %q", b.Status)
	case b.SpeedRestriction != nil && !(*b.SpeedRestriction > 0):
		return invalid(what, "speed_restriction must be positive")
	}
	return nil
}

// Enforced reports whether the block constrains traffic at all.
func (b *MaintenanceBlock) Enforced() bool { return b.Status != MaintenanceNone }

// Closure reports whether the block closes the section.
func (b *MaintenanceBlock) Closure() bool { return b.SpeedRestriction == nil }

// Active reports whether the block is enforced at instant at.
func (b *MaintenanceBlock) Active(at time.Time) bool {
	return b.Enforced() && !at.Before(b.StartTime) && at.Before(b.EndTime)
}

// Overlaps reports whether the enforced block intersects [from, to).
func (b *MaintenanceBlock) Overlaps(from, to time.Time) bool {
	return b.Enforced() && b.StartTime.Before(to) && from.Before(b.EndTime)
}

// OperationalMetrics is an aggregate of a section's traffic at a point in time.
type OperationalMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	SectionID           string    `json:"section_id"`
	TrainsInSection     int       `json:"trains_in_section"`
	AverageSpeed        float64   `json:"average_speed"`
	TotalDelay          int       `json:"total_delay"`
	CapacityUtilization float64   `json:"capacity_utilization"`
	ConflictCount       int       `json:"conflict_count"`
	ResolutionTime      float64   `json:"resolution_time"`
}

// SystemMetrics is the network-wide aggregate of operational metrics.
type SystemMetrics struct {
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	AvgDelay          float64   `json:"avg_delay"`
	AvgUtilization    float64   `json:"avg_utilization"`
	TotalConflicts    int       `json:"total_conflicts"`
	AvgResolutionTime float64   `json:"avg_resolution_time"`
	Samples           int       `json:"samples"`
}
