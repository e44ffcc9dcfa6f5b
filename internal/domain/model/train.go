// Package model holds the railflow domain types shared by the engines,
// the store and the HTTP layer.
package model

import (
	"math"
	"time"
)

// Train is a service moving through the network.
type Train struct {
	TrainID          string        `json:"train_id"`
	TrainType        TrainType     `json:"train_type"`
	Priority         TrainPriority `json:"priority"`
	CurrentPosition  string        `json:"current_position"`
	Destination      string        `json:"destination"`
	ScheduledArrival time.Time     `json:"scheduled_arrival"`
	ActualArrival    *time.Time    `json:"actual_arrival,omitempty"`
	Delay            int           `json:"delay"`  // seconds
	Speed            float64       `json:"speed"`  // km/h
	Length           float64       `json:"length"` // metres
	Stops            []string      `json:"stops,omitempty"`
}

// Validate returns the first violated invariant, or nil.
func (t *Train) Validate() error {
	switch {
	case t.TrainID == "":
		return invalid("train", "train_id is required")
	case !t.TrainType.Valid():
		return invalid("train "+t.TrainID, "unknown train_type %q", t.TrainType)
	case !t.Priority.Valid():
		return invalid("train "+t.TrainID, "priority %d outside 1..5", t.Priority)
	case t.CurrentPosition == "" || t.Destination == "":
		return invalid("train "+t.TrainID, "current_position and destination are required")
	case !(t.Speed > 0):
		return invalid("train "+t.TrainID, "speed must be positive")
	case t.Length < 0:
		return invalid("train "+t.TrainID, "length must not be negative")
	case t.Delay < 0:
		return invalid("train "+t.TrainID, "delay must not be negative")
	}
	return nil
}

// StopsAt reports whether the train must dwell at point.
func (t *Train) StopsAt(point string) bool {
	if point == t.Destination {
		return true
	}
	for _, s := range t.Stops {
		if s == point {
			return true
		}
	}
	return false
}

// Section is a stretch of track between two points.
type Section struct {
	SectionID       string    `json:"section_id"`
	StartPoint      string    `json:"start_point"`
	EndPoint        string    `json:"end_point"`
	Length          float64   `json:"length"`    // km
	MaxSpeed        float64   `json:"max_speed"` // km/h
	Capacity        int       `json:"capacity"`
	SignalPositions []float64 `json:"signal_positions"` // km from start
	Gradient        float64   `json:"gradient"`         // percent
}

// Validate returns the first violated invariant, or nil.
func (s *Section) Validate() error {
	what := "section " + s.SectionID
	switch {
	case s.SectionID == "":
		return invalid("section", "section_id is required")
	case s.StartPoint == "" || s.EndPoint == "":
		return invalid(what, "start_point and end_point are required")
	case s.StartPoint == s.EndPoint:
		return invalid(what, "start_point equals end_point")
	case !(s.Length > 0):
		return invalid(what, "length must be positive")
	case !(s.MaxSpeed > 0):
		return invalid(what, "max_speed must be positive")
	case s.Capacity < 1:
		return invalid(what, "capacity must be at least 1")
	}
	prev := math.Inf(-1)
	for _, p := range s.SignalPositions {
		if p < 0 || p > s.Length {
			return invalid(what, "signal position %.3f outside [0, %.3f]", p, s.Length)
		}
		if p < prev {
			return invalid(what, "signal positions must be ascending")
		}
		prev = p
	}
	return nil
}

// TraversalTime is the time to run the full section at speed, capped by the
// section's max speed. A non-positive speed yields zero.
func (s *Section) TraversalTime(speed float64) time.Duration {
	v := math.Min(speed, s.MaxSpeed)
	if !(v > 0) {
		return 0
	}
	secs := s.Length * 3600 / v
	// Round up to whole seconds, tolerating float noise on exact values.
	return time.Duration(math.Ceil(secs-1e-9)) * time.Second
}

// Connects reports whether the section joins a and b in either direction.
func (s *Section) Connects(a, b string) bool {
	return (s.StartPoint == a && s.EndPoint == b) || (s.StartPoint == b && s.EndPoint == a)
}

// Other returns the end of the section opposite point, or "" if point is not an end.
func (s *Section) Other(point string) string {
	switch point {
	case s.StartPoint:
		return s.EndPoint
	case s.EndPoint:
		return s.StartPoint
	}
	return ""
}

// Reversed returns the section as seen travelling from EndPoint to
// StartPoint, with signal positions mirrored and kept ascending.
func (s *Section) Reversed() Section {
	r := *s
	r.StartPoint, r.EndPoint = s.EndPoint, s.StartPoint
	r.Gradient = -s.Gradient
	r.SignalPositions = make([]float64, len(s.SignalPositions))
	for i, p := range s.SignalPositions {
		r.SignalPositions[len(s.SignalPositions)-1-i] = s.Length - p
	}
	return r
}

// TrainMovement is the occupancy of one section by one train.
type TrainMovement struct {
	MovementID   string         `json:"movement_id"`
	Train        Train          `json:"train"`
	Section      Section        `json:"section"`
	EntryTime    time.Time      `json:"entry_time"`
	ExitTime     time.Time      `json:"exit_time"`
	PlannedSpeed float64        `json:"planned_speed"`
	ActualSpeed  *float64       `json:"actual_speed,omitempty"`
	Status       MovementStatus `json:"status"`
}

// Validate checks the movement and the train and section it carries.
func (m *TrainMovement) Validate() error {
	if err := m.Train.Validate(); err != nil {
		return err
	}
	if err := m.Section.Validate(); err != nil {
		return err
	}
	what := "movement " + m.MovementID
	switch {
	case !m.ExitTime.After(m.EntryTime):
		return invalid(what, "exit_time must be after entry_time")
	case !(m.PlannedSpeed > 0):
		return invalid(what, "planned_speed must be positive")
	case m.ActualSpeed != nil && *m.ActualSpeed < 0:
		return invalid(what, "actual_speed must not be negative")
	case m.Status != "" && !m.Status.Valid():
		return invalid(what, "unknown status %q", m.Status)
	}
	return nil
}

// Duration is the time the movement occupies its section.
func (m *TrainMovement) Duration() time.Duration { return m.ExitTime.Sub(m.EntryTime) }

// Occupies reports whether the movement holds capacity on its section.
func (m *TrainMovement) Occupies() bool {
	if m.Status == "" {
		return true
	}
	return m.Status.Occupies()
}
