package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	repository "github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/pkg/logger"
	"github.com/okian/railflow/pkg/metrics"
)

var (
	// ErrCollect wraps failures of an external source.
	ErrCollect = errors.New("collect failed")
	// ErrNoSource is returned when no source is configured for the request.
	ErrNoSource = errors.New("no source configured")
)

// TelemetrySource fetches the current state of a train.
type TelemetrySource interface {
	FetchRealTime(ctx context.Context, trainID string) (model.RealTimeData, error)
}

// WeatherSource fetches the current weather for a section.
type WeatherSource interface {
	FetchWeather(ctx context.Context, sectionID string) (model.WeatherData, error)
}

// Recorder persists collected observations.
type Recorder interface {
	RecordRealTime(ctx context.Context, data model.RealTimeData) error
	RecordWeather(ctx context.Context, data model.WeatherData) error
}

// Reference is the recorded state a fetched sample is checked against.
// Lookups that return repository.ErrNotFound skip the check they feed.
type Reference interface {
	GetTrackSection(ctx context.Context, sectionID string) (model.TrackSection, error)
	LatestRealTime(ctx context.Context, trainID string) (model.RealTimeData, error)
	SchedulesForTrain(ctx context.Context, trainID string) ([]model.TrainSchedule, error)
}

// Collector pulls from sources, validates, stamps and records.
type Collector struct {
	telemetry TelemetrySource
	weather   WeatherSource
	recorder  Recorder
	ref       Reference
	now       func() time.Time
	log       logger.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithTelemetrySource sets the train telemetry source.
func WithTelemetrySource(s TelemetrySource) Option { return func(c *Collector) { c.telemetry = s } }

// WithWeatherSource sets the weather source.
func WithWeatherSource(s WeatherSource) Option { return func(c *Collector) { c.weather = s } }

// WithReference checks telemetry against recorded sections, samples and
// timetables.
func WithReference(r Reference) Option { return func(c *Collector) { c.ref = r } }

// WithClock sets the time used to stamp observations without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCollector creates a collector that records into rec.
func NewCollector(rec Recorder, opts ...Option) *Collector {
	c := &Collector{recorder: rec, now: time.Now, log: logger.New(io.Discard)}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("collector")
	return c
}

// CollectRealTime fetches, validates and records the current state of trainID.
func (c *Collector) CollectRealTime(ctx context.Context, trainID string) (model.RealTimeData, error) {
	if c.telemetry == nil {
		return model.RealTimeData{}, fmt.Errorf("telemetry: %w", ErrNoSource)
	}
	data, err := c.telemetry.FetchRealTime(ctx, trainID)
	if err != nil {
		c.log.Warn(ctx, "telemetry fetch failed", logger.String("train_id", trainID), logger.Error(err))
		return model.RealTimeData{}, fmt.Errorf("%w: telemetry for %s: %w", ErrCollect, trainID, err)
	}
	if data.TrainID == "" {
		data.TrainID = trainID
	}
	if data.TrainID != trainID {
		return model.RealTimeData{}, fmt.Errorf("%w: source answered for train %s, asked %s", ErrCollect, data.TrainID, trainID)
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = c.now().UTC()
	}
	if !ValidateCoordinates(data.Position.Latitude, data.Position.Longitude) {
		return model.RealTimeData{}, fmt.Errorf("%w: telemetry for %s: position (%.5f, %.5f) is off the globe",
			ErrCollect, trainID, data.Position.Latitude, data.Position.Longitude)
	}
	if err := data.Validate(); err != nil {
		return model.RealTimeData{}, fmt.Errorf("%w: telemetry for %s: %w", ErrCollect, trainID, err)
	}
	if c.ref != nil {
		if err := c.checkTelemetry(ctx, &data); err != nil {
			return model.RealTimeData{}, err
		}
	}
	if err := c.recorder.RecordRealTime(ctx, data); err != nil {
		return model.RealTimeData{}, fmt.Errorf("record telemetry: %w", err)
	}
	c.log.Debug(ctx, "telemetry collected",
		logger.String("train_id", trainID),
		logger.String("section_id", data.SectionID),
		logger.Float64("speed", data.Speed))
	return data, nil
}

// CollectWeather fetches, validates and records the weather on sectionID.
func (c *Collector) CollectWeather(ctx context.Context, sectionID string) (model.WeatherData, error) {
	if c.weather == nil {
		return model.WeatherData{}, fmt.Errorf("weather: %w", ErrNoSource)
	}
	data, err := c.weather.FetchWeather(ctx, sectionID)
	if err != nil {
		c.log.Warn(ctx, "weather fetch failed", logger.String("section_id", sectionID), logger.Error(err))
		return model.WeatherData{}, fmt.Errorf("%w: weather for %s: %w", ErrCollect, sectionID, err)
	}
	if data.SectionID == "" {
		data.SectionID = sectionID
	}
	if data.SectionID != sectionID {
		return model.WeatherData{}, fmt.Errorf("%w: source answered for section %s, asked %s", ErrCollect, data.SectionID, sectionID)
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = c.now().UTC()
	}
	if err := data.Validate(); err != nil {
		return model.WeatherData{}, fmt.Errorf("%w: weather for %s: %w", ErrCollect, sectionID, err)
	}
	if err := c.recorder.RecordWeather(ctx, data); err != nil {
		return model.WeatherData{}, fmt.Errorf("record weather: %w", err)
	}
	c.log.Debug(ctx, "weather collected",
		logger.String("section_id", sectionID),
		logger.String("condition", string(data.Condition)))
	return data, nil
}

// checkTelemetry rejects samples above the line speed or older than the last
// recorded sample of the train. A sample without a delay takes the lateness
// against the timetabled arrival at its next station.
func (c *Collector) checkTelemetry(ctx context.Context, data *model.RealTimeData) error {
	ts, err := c.ref.GetTrackSection(ctx, data.SectionID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return fmt.Errorf("look up section %s: %w", data.SectionID, err)
	default:
		if !ValidateSpeed(data.Speed, ts.MaxSpeed) {
			metrics.RecordTelemetryRejected("overspeed")
			return fmt.Errorf("%w: train %s at %.1f km/h on section %s limited to %.1f",
				ErrCollect, data.TrainID, data.Speed, data.SectionID, ts.MaxSpeed)
		}
		if ratio, err := NormalizeSpeeds([]float64{data.Speed}, ts.MaxSpeed); err == nil {
			metrics.RecordSpeedRatio(ratio[0])
		}
	}

	last, err := c.ref.LatestRealTime(ctx, data.TrainID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return fmt.Errorf("look up latest telemetry for %s: %w", data.TrainID, err)
	case !ValidateTimeSequence([]time.Time{last.Timestamp, data.Timestamp}):
		metrics.RecordTelemetryRejected("out_of_order")
		return fmt.Errorf("%w: telemetry for %s at %s is older than the recorded %s",
			ErrCollect, data.TrainID, data.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
	}

	if data.Delay != 0 || data.NextStation == "" {
		return nil
	}
	schedules, err := c.ref.SchedulesForTrain(ctx, data.TrainID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up schedules for %s: %w", data.TrainID, err)
	}
	if arrival, ok := nextArrival(schedules, data.NextStation, data.Timestamp); ok {
		data.Delay = max(0, CalculateDelay(arrival, data.Timestamp))
	}
	return nil
}

// nextArrival returns the earliest timetabled arrival at station that is not
// more than a day away from at.
func nextArrival(schedules []model.TrainSchedule, station string, at time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, s := range schedules {
		for i, stop := range s.Route {
			if stop != station || i >= len(s.ArrivalTimes) {
				continue
			}
			arr := s.ArrivalTimes[i]
			if d := at.Sub(arr); d > 24*time.Hour || d < -24*time.Hour {
				continue
			}
			if !found || arr.Before(best) {
				best, found = arr, true
			}
		}
	}
	return best, found
}
