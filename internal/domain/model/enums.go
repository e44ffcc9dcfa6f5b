package model

// TrainType classifies a service.
type TrainType string

const (
	TrainExpress     TrainType = "express"
	TrainLocal       TrainType = "local"
	TrainFreight     TrainType = "freight"
	TrainMaintenance TrainType = "maintenance"
	TrainSpecial     TrainType = "special"
)

var trainTypeIndex = map[TrainType]int{
	TrainExpress:     0,
	TrainLocal:       1,
	TrainFreight:     2,
	TrainMaintenance: 3,
	TrainSpecial:     4,
}

// Valid reports whether t is a known train type.
func (t TrainType) Valid() bool {
	_, ok := trainTypeIndex[t]
	return ok
}

// Index is the numeric encoding used as a model feature; unknown types are -1.
func (t TrainType) Index() int {
	if i, ok := trainTypeIndex[t]; ok {
		return i
	}
	return -1
}

// TrainPriority orders trains; lower values take precedence.
type TrainPriority int

const (
	PriorityHighest TrainPriority = 1
	PriorityHigh    TrainPriority = 2
	PriorityMedium  TrainPriority = 3
	PriorityLow     TrainPriority = 4
	PriorityLowest  TrainPriority = 5
)

// Valid reports whether p is within HIGHEST..LOWEST.
func (p TrainPriority) Valid() bool { return p >= PriorityHighest && p <= PriorityLowest }

// Weight maps priority to a delay weight: HIGHEST=5 ... LOWEST=1.
func (p TrainPriority) Weight() float64 { return float64(PriorityLowest + 1 - p) }

// TrackType classifies a track section.
type TrackType string

const (
	TrackMain   TrackType = "main"
	TrackBranch TrackType = "branch"
	TrackSiding TrackType = "siding"
	TrackYard   TrackType = "yard"
)

// Valid reports whether t is a known track type.
func (t TrackType) Valid() bool {
	switch t {
	case TrackMain, TrackBranch, TrackSiding, TrackYard:
		return true
	}
	return false
}

// SignalType classifies a signal.
type SignalType string

const (
	SignalHome            SignalType = "home"
	SignalStarter         SignalType = "starter"
	SignalAdvancedStarter SignalType = "advanced_starter"
	SignalRouting         SignalType = "routing"
)

// Valid reports whether s is a known signal type.
func (s SignalType) Valid() bool {
	switch s {
	case SignalHome, SignalStarter, SignalAdvancedStarter, SignalRouting:
		return true
	}
	return false
}

// WeatherCondition is the observed weather on a section.
type WeatherCondition string

const (
	WeatherClear   WeatherCondition = "clear"
	WeatherRain    WeatherCondition = "rain"
	WeatherFog     WeatherCondition = "fog"
	WeatherStorm   WeatherCondition = "storm"
	WeatherExtreme WeatherCondition = "extreme"
)

var weatherSeverity = map[WeatherCondition]int{
	WeatherClear:   0,
	WeatherRain:    1,
	WeatherFog:     2,
	WeatherStorm:   3,
	WeatherExtreme: 4,
}

// Valid reports whether w is a known condition.
func (w WeatherCondition) Valid() bool {
	_, ok := weatherSeverity[w]
	return ok
}

// Severity is the ordinal encoding used as a model feature; unknown is -1.
func (w WeatherCondition) Severity() int {
	if s, ok := weatherSeverity[w]; ok {
		return s
	}
	return -1
}

// MaintenanceStatus tracks the lifecycle of a maintenance block.
type MaintenanceStatus string

const (
	MaintenanceNone       MaintenanceStatus = "none"
	MaintenanceScheduled  MaintenanceStatus = "scheduled"
	MaintenanceUrgent     MaintenanceStatus = "urgent"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
)

var maintenanceIndex = map[MaintenanceStatus]int{
	MaintenanceNone:       0,
	MaintenanceScheduled:  1,
	MaintenanceUrgent:     2,
	MaintenanceInProgress: 3,
}

// Valid reports whether s is a known status.
func (s MaintenanceStatus) Valid() bool {
	_, ok := maintenanceIndex[s]
	return ok
}

// Index is the ordinal encoding used as a model feature; unknown is -1.
func (s MaintenanceStatus) Index() int {
	if i, ok := maintenanceIndex[s]; ok {
		return i
	}
	return -1
}

// MovementStatus is the lifecycle state of a train movement.
type MovementStatus string

const (
	MovementScheduled  MovementStatus = "scheduled"
	MovementInProgress MovementStatus = "in_progress"
	MovementCompleted  MovementStatus = "completed"
	MovementHeld       MovementStatus = "held"
	MovementCancelled  MovementStatus = "cancelled"
)

// Valid reports whether s is a known movement status.
func (s MovementStatus) Valid() bool {
	switch s {
	case MovementScheduled, MovementInProgress, MovementCompleted, MovementHeld, MovementCancelled:
		return true
	}
	return false
}

// Occupies reports whether a movement in this state holds track capacity.
func (s MovementStatus) Occupies() bool {
	return s != MovementCompleted && s != MovementCancelled
}
