// Package repository defines the persistence contract of railflow. The
// memory and postgres subpackages implement it.
package repository

import (
	"context"
	"time"

	"github.com/okian/railflow/internal/domain/model"
)

// TrackSectionRepository stores infrastructure records.
type TrackSectionRepository interface {
	// InsertTrackSection returns ErrAlreadyExists when the id is taken.
	InsertTrackSection(ctx context.Context, s model.TrackSection) error
	// GetTrackSection returns ErrNotFound for unknown ids.
	GetTrackSection(ctx context.Context, sectionID string) (model.TrackSection, error)
	// UpdateTrackSection replaces a stored section. Returns ErrNotFound
	// when the section was never inserted.
	UpdateTrackSection(ctx context.Context, s model.TrackSection) error
	// ListTrackSections returns every section ordered by id.
	ListTrackSections(ctx context.Context) ([]model.TrackSection, error)
}

// RollingStockRepository stores the physical description of trains.
type RollingStockRepository interface {
	UpsertRollingStock(ctx context.Context, r model.RollingStock) error
	GetRollingStock(ctx context.Context, trainID string) (model.RollingStock, error)
}

// ScheduleRepository stores timetables.
type ScheduleRepository interface {
	UpsertSchedule(ctx context.Context, s model.TrainSchedule) error
	// SchedulesForTrain returns the train's schedules ordered by schedule id.
	SchedulesForTrain(ctx context.Context, trainID string) ([]model.TrainSchedule, error)
}

// TelemetryRepository stores real-time samples.
// Range queries include both bounds and are ordered by timestamp.
type TelemetryRepository interface {
	InsertRealTime(ctx context.Context, d model.RealTimeData) error
	RealTimeForTrain(ctx context.Context, trainID string, from, to time.Time) ([]model.RealTimeData, error)
	RealTimeForSection(ctx context.Context, sectionID string, from, to time.Time) ([]model.RealTimeData, error)
	// LatestRealTime returns the newest sample of a train or ErrNotFound.
	LatestRealTime(ctx context.Context, trainID string) (model.RealTimeData, error)
}

// WeatherRepository stores weather readings.
type WeatherRepository interface {
	InsertWeather(ctx context.Context, w model.WeatherData) error
	WeatherForSection(ctx context.Context, sectionID string, from, to time.Time) ([]model.WeatherData, error)
}

// MaintenanceRepository stores maintenance blocks.
type MaintenanceRepository interface {
	// InsertMaintenance returns ErrAlreadyExists when the block id is taken.
	InsertMaintenance(ctx context.Context, b model.MaintenanceBlock) error
	// ActiveMaintenance returns blocks with start <= at <= end, by start time.
	ActiveMaintenance(ctx context.Context, sectionID string, at time.Time) ([]model.MaintenanceBlock, error)
	// MaintenanceInRange returns blocks with start <= to and end >= from, by
	// start time. An empty sectionID matches every section.
	MaintenanceInRange(ctx context.Context, sectionID string, from, to time.Time) ([]model.MaintenanceBlock, error)
}

// MetricsRepository stores operational metrics.
type MetricsRepository interface {
	InsertMetrics(ctx context.Context, m model.OperationalMetrics) error
	MetricsForSection(ctx context.Context, sectionID string, from, to time.Time) ([]model.OperationalMetrics, error)
	// MetricsInRange returns the metrics of every section within the range.
	MetricsInRange(ctx context.Context, from, to time.Time) ([]model.OperationalMetrics, error)
	// SystemMetrics aggregates every metric within the range. Samples is
	// zero when nothing matched.
	SystemMetrics(ctx context.Context, from, to time.Time) (model.SystemMetrics, error)
}

// Store is the full persistence contract.
type Store interface {
	TrackSectionRepository
	RollingStockRepository
	ScheduleRepository
	TelemetryRepository
	WeatherRepository
	MaintenanceRepository
	MetricsRepository

	Ping(ctx context.Context) error
	Close() error
}
