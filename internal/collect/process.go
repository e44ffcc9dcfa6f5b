package collect

import (
	"errors"
	"math"
	"time"

	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
)

// ErrMaxSpeed is returned when normalising against a non-positive maximum.
var ErrMaxSpeed = errors.New("max speed must be positive")

// NormalizeSpeeds divides every speed by max.
func NormalizeSpeeds(speeds []float64, max float64) ([]float64, error) {
	if !(max > 0) {
		return nil, ErrMaxSpeed
	}
	out := make([]float64, len(speeds))
	for i, v := range speeds {
		out[i] = v / max
	}
	return out, nil
}

// CalculateDelay returns actual minus scheduled in whole seconds. Early
// arrivals are negative.
func CalculateDelay(scheduled, actual time.Time) int {
	return int(actual.Sub(scheduled) / time.Second)
}

// Impact summarises the maintenance in force on a section.
type Impact struct {
	ActiveBlocks      int       `json:"active_blocks"`
	SpeedRestrictions []float64 `json:"speed_restrictions"`
	AffectedSeconds   float64   `json:"affected_duration"`
	Closed            bool      `json:"closed"`
}

// MaintenanceImpact reports the blocks active on sectionID at now and how
// long they still run.
func MaintenanceImpact(blocks []model.MaintenanceBlock, sectionID string, now time.Time) Impact {
	imp := Impact{SpeedRestrictions: []float64{}}
	for i := range blocks {
		b := &blocks[i]
		if b.SectionID != sectionID || !b.Active(now) {
			continue
		}
		imp.ActiveBlocks++
		if b.Closure() {
			imp.Closed = true
		} else {
			imp.SpeedRestrictions = append(imp.SpeedRestrictions, *b.SpeedRestriction)
		}
		imp.AffectedSeconds += b.EndTime.Sub(now).Seconds()
	}
	return imp
}

// SectionMetrics aggregates the samples of sectionID within [now-window, now]
// together with the conflicts reported on it. ok is false when the section
// had no samples in the window.
func SectionMetrics(data []model.RealTimeData, sectionID string, window time.Duration, now time.Time, conflicts []conflict.Conflict) (model.OperationalMetrics, bool) {
	from := now.Add(-window)
	var (
		total, inSection int
		speedSum         float64
		delay            int
		trains           = map[string]struct{}{}
	)
	for i := range data {
		d := &data[i]
		if d.Timestamp.Before(from) || d.Timestamp.After(now) {
			continue
		}
		total++
		if d.SectionID != sectionID {
			continue
		}
		inSection++
		speedSum += d.Speed
		delay += d.Delay
		trains[d.TrainID] = struct{}{}
	}
	if inSection == 0 {
		return model.OperationalMetrics{}, false
	}

	m := model.OperationalMetrics{
		Timestamp:           now,
		SectionID:           sectionID,
		TrainsInSection:     len(trains),
		AverageSpeed:        speedSum / float64(inSection),
		TotalDelay:          delay,
		CapacityUtilization: float64(inSection) / float64(total),
	}
	var resolution float64
	for _, c := range conflicts {
		if c.SectionID != sectionID {
			continue
		}
		m.ConflictCount++
		resolution += math.Max(0, c.WindowEnd.Sub(c.WindowStart).Seconds())
	}
	if m.ConflictCount > 0 {
		m.ResolutionTime = resolution / float64(m.ConflictCount)
	}
	return m, true
}
