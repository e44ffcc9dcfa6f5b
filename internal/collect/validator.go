// Package collect gathers telemetry and weather from external sources and
// turns raw observations into operational metrics.
package collect

import (
	"time"

	"github.com/okian/railflow/internal/domain/model"
)

// ValidateCoordinates reports whether lat/lon lie on the globe.
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ValidateSpeed reports whether speed is within [0, max].
func ValidateSpeed(speed, max float64) bool {
	return speed >= 0 && speed <= max
}

// ValidateTimeSequence reports whether times never go backwards.
func ValidateTimeSequence(times []time.Time) bool {
	for i := 1; i < len(times); i++ {
		if times[i].Before(times[i-1]) {
			return false
		}
	}
	return true
}

// ValidateMaintenanceBlock reports whether the block has an ordered window
// and a positive speed restriction when one is set.
func ValidateMaintenanceBlock(b model.MaintenanceBlock) bool {
	return b.StartTime.Before(b.EndTime) && (b.SpeedRestriction == nil || *b.SpeedRestriction > 0)
}
