package model

import "time"

// Curve is a curved stretch inside a track section.
type Curve struct {
	Radius float64 `json:"radius"` // m
	Length float64 `json:"length"` // m
}

// Signal is a lineside signal at a position along the section.
type Signal struct {
	Position float64    `json:"position"` // km from start
	Type     SignalType `json:"type"`
}

// MaintenanceRecord is one entry of a section's maintenance history.
type MaintenanceRecord struct {
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
}

// TrackSection is the infrastructure record of a section.
type TrackSection struct {
	SectionID          string              `json:"section_id"`
	TrackType          TrackType           `json:"track_type"`
	LengthKM           float64             `json:"length_km"`
	MaxSpeed           float64             `json:"max_speed"`
	Gradient           float64             `json:"gradient"`
	Curves             []Curve             `json:"curves"`
	Signals            []Signal            `json:"signals"`
	Stations           []string            `json:"stations"`
	Electrified        bool                `json:"electrified"`
	MaintenanceHistory []MaintenanceRecord `json:"maintenance_history"`
}

// Validate returns the first violated invariant, or nil.
func (t *TrackSection) Validate() error {
	what := "track section " + t.SectionID
	switch {
	case t.SectionID == "":
		return invalid("track section", "section_id is required")
	case !t.TrackType.Valid():
		return invalid(what, "unknown track_type %q", t.TrackType)
	case !(t.LengthKM > 0):
		return invalid(what, "length_km must be positive")
	case !(t.MaxSpeed > 0):
		return invalid(what, "max_speed must be positive")
	}
	for _, s := range t.Signals {
		if !s.Type.Valid() {
			return invalid(what, "unknown signal type %q", s.Type)
		}
		if s.Position < 0 || s.Position > t.LengthKM {
			return invalid(what, "signal position %.3f outside section", s.Position)
		}
	}
	for _, c := range t.Curves {
		if !(c.Radius > 0) || c.Length < 0 {
			return invalid(what, "curve radius must be positive and length not negative")
		}
	}
	return nil
}

// SignalPositions returns the signal positions in recorded order.
func (t *TrackSection) SignalPositions() []float64 {
	out := make([]float64, 0, len(t.Signals))
	for _, s := range t.Signals {
		out = append(out, s.Position)
	}
	return out
}

// RollingStock describes the physical characteristics of a train.
type RollingStock struct {
	TrainID           string   `json:"train_id"`
	Type              string   `json:"type"`
	Length            float64  `json:"length"`
	MaxSpeed          float64  `json:"max_speed"`
	Acceleration      float64  `json:"acceleration"`
	Deceleration      float64  `json:"deceleration"`
	Weight            float64  `json:"weight"`
	PowerType         string   `json:"power_type"`
	PassengerCapacity *int     `json:"passenger_capacity,omitempty"`
	CargoCapacity     *float64 `json:"cargo_capacity,omitempty"`
}

// Validate returns the first violated invariant, or nil.
func (r *RollingStock) Validate() error {
	what := "rolling stock " + r.TrainID
	switch {
	case r.TrainID == "":
		return invalid("rolling stock", "train_id is required")
	case !(r.MaxSpeed > 0):
		return invalid(what, "max_speed must be positive")
	case r.Length < 0 || r.Weight < 0:
		return invalid(what, "length and weight must not be negative")
	case r.Acceleration < 0 || r.Deceleration < 0:
		return invalid(what, "acceleration and deceleration must not be negative")
	}
	return nil
}

// TrainSchedule is the timetable of one train service.
type TrainSchedule struct {
	ScheduleID     string      `json:"schedule_id"`
	TrainID        string      `json:"train_id"`
	Route          []string    `json:"route"`
	DepartureTimes []time.Time `json:"departure_times"`
	ArrivalTimes   []time.Time `json:"arrival_times"`
	DwellTimes     []int       `json:"dwell_times"` // seconds
	Priority       int         `json:"priority"`
	ServiceType    string      `json:"service_type"`
}

// Validate returns the first violated invariant, or nil.
func (s *TrainSchedule) Validate() error {
	what := "schedule " + s.ScheduleID
	switch {
	case s.ScheduleID == "" || s.TrainID == "":
		return invalid("schedule", "schedule_id and train_id are required")
	case len(s.Route) < 2:
		return invalid(what, "route needs at least two stations")
	case len(s.DepartureTimes) != len(s.ArrivalTimes):
		return invalid(what, "departure_times and arrival_times differ in length")
	case !TrainPriority(s.Priority).Valid():
		return invalid(what, "priority %d outside 1..5", s.Priority)
	}
	for _, d := range s.DwellTimes {
		if d < 0 {
			return invalid(what, "dwell times must not be negative")
		}
	}
	return nil
}
