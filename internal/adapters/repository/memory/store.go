// Package memory is an in-process implementation of repository.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/pkg/metrics"
)

var _ repository.Store = (*Store)(nil)

// Store keeps every collection in maps and B-tree time indexes.
type Store struct {
	mu  sync.RWMutex
	seq uint64

	sections  map[string]model.TrackSection
	stock     map[string]model.RollingStock
	schedules map[string]model.TrainSchedule

	telemetryByTrain   *series[model.RealTimeData]
	telemetryBySection *series[model.RealTimeData]
	weather            *series[model.WeatherData]
	blocks             map[string]struct{}
	blocksBySection    *series[model.MaintenanceBlock]
	metricsBySection   *series[model.OperationalMetrics]
	metricsAll         *series[model.OperationalMetrics]

	metricsUpdateInterval time.Duration
	closed                bool
	wg                    sync.WaitGroup
	stopChan              chan struct{}
}

// NewStore constructs an empty store and starts its metrics updater.
func NewStore(ctx context.Context, opts ...Option) *Store {
	s := &Store{
		sections:              make(map[string]model.TrackSection),
		stock:                 make(map[string]model.RollingStock),
		schedules:             make(map[string]model.TrainSchedule),
		telemetryByTrain:      newSeries[model.RealTimeData](),
		telemetryBySection:    newSeries[model.RealTimeData](),
		weather:               newSeries[model.WeatherData](),
		blocks:                make(map[string]struct{}),
		blocksBySection:       newSeries[model.MaintenanceBlock](),
		metricsBySection:      newSeries[model.OperationalMetrics](),
		metricsAll:            newSeries[model.OperationalMetrics](),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// startMetricsUpdater publishes collection sizes until ctx ends or Close.
func (s *Store) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *Store) updateMetrics() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metrics.UpdateStoreRecords("track_sections", len(s.sections))
	metrics.UpdateStoreRecords("rolling_stock", len(s.stock))
	metrics.UpdateStoreRecords("schedules", len(s.schedules))
	metrics.UpdateStoreRecords("real_time_data", s.telemetryByTrain.len())
	metrics.UpdateStoreRecords("weather_data", s.weather.len())
	metrics.UpdateStoreRecords("maintenance_blocks", len(s.blocks))
	metrics.UpdateStoreRecords("operational_metrics", s.metricsAll.len())
}

// Close stops the metrics updater. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stopChan)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.ErrClosed
	}
	return nil
}

// read runs fn under the read lock after checking ctx and the closed flag.
func (s *Store) read(ctx context.Context, op string, fn func() error) (err error) {
	start := time.Now()
	defer func() { repository.Observe(op, start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.ErrClosed
	}
	return fn()
}

func (s *Store) write(ctx context.Context, op string, fn func() error) (err error) {
	start := time.Now()
	defer func() { repository.Observe(op, start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrClosed
	}
	s.seq++
	return fn()
}

func (s *Store) InsertTrackSection(ctx context.Context, ts model.TrackSection) error {
	return s.write(ctx, "insert_track_section", func() error {
		if _, ok := s.sections[ts.SectionID]; ok {
			return fmt.Errorf("track section %s: %w", ts.SectionID, repository.ErrAlreadyExists)
		}
		s.sections[ts.SectionID] = ts
		return nil
	})
}

func (s *Store) GetTrackSection(ctx context.Context, sectionID string) (model.TrackSection, error) {
	var out model.TrackSection
	err := s.read(ctx, "get_track_section", func() error {
		ts, ok := s.sections[sectionID]
		if !ok {
			return fmt.Errorf("track section %s: %w", sectionID, repository.ErrNotFound)
		}
		out = ts
		return nil
	})
	return out, err
}

func (s *Store) UpdateTrackSection(ctx context.Context, ts model.TrackSection) error {
	return s.write(ctx, "update_track_section", func() error {
		if _, ok := s.sections[ts.SectionID]; !ok {
			return fmt.Errorf("track section %s: %w", ts.SectionID, repository.ErrNotFound)
		}
		s.sections[ts.SectionID] = ts
		return nil
	})
}

func (s *Store) ListTrackSections(ctx context.Context) ([]model.TrackSection, error) {
	var out []model.TrackSection
	err := s.read(ctx, "list_track_sections", func() error {
		out = make([]model.TrackSection, 0, len(s.sections))
		for _, ts := range s.sections {
			out = append(out, ts)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
		return nil
	})
	return out, err
}

func (s *Store) UpsertRollingStock(ctx context.Context, r model.RollingStock) error {
	return s.write(ctx, "upsert_rolling_stock", func() error {
		s.stock[r.TrainID] = r
		return nil
	})
}

func (s *Store) GetRollingStock(ctx context.Context, trainID string) (model.RollingStock, error) {
	var out model.RollingStock
	err := s.read(ctx, "get_rolling_stock", func() error {
		r, ok := s.stock[trainID]
		if !ok {
			return fmt.Errorf("rolling stock %s: %w", trainID, repository.ErrNotFound)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Store) UpsertSchedule(ctx context.Context, sc model.TrainSchedule) error {
	return s.write(ctx, "upsert_schedule", func() error {
		s.schedules[sc.ScheduleID] = sc
		return nil
	})
}

func (s *Store) SchedulesForTrain(ctx context.Context, trainID string) ([]model.TrainSchedule, error) {
	var out []model.TrainSchedule
	err := s.read(ctx, "schedules_for_train", func() error {
		out = []model.TrainSchedule{}
		for _, sc := range s.schedules {
			if sc.TrainID == trainID {
				out = append(out, sc)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
		return nil
	})
	return out, err
}

func (s *Store) InsertRealTime(ctx context.Context, d model.RealTimeData) error {
	return s.write(ctx, "insert_real_time", func() error {
		s.telemetryByTrain.add(d.TrainID, d.Timestamp, s.seq, d)
		s.telemetryBySection.add(d.SectionID, d.Timestamp, s.seq, d)
		return nil
	})
}

func (s *Store) RealTimeForTrain(ctx context.Context, trainID string, from, to time.Time) ([]model.RealTimeData, error) {
	var out []model.RealTimeData
	err := s.read(ctx, "real_time_for_train", func() error {
		out = s.telemetryByTrain.between(trainID, from, to)
		return nil
	})
	return out, err
}

func (s *Store) RealTimeForSection(ctx context.Context, sectionID string, from, to time.Time) ([]model.RealTimeData, error) {
	var out []model.RealTimeData
	err := s.read(ctx, "real_time_for_section", func() error {
		out = s.telemetryBySection.between(sectionID, from, to)
		return nil
	})
	return out, err
}

func (s *Store) LatestRealTime(ctx context.Context, trainID string) (model.RealTimeData, error) {
	var out model.RealTimeData
	err := s.read(ctx, "latest_real_time", func() error {
		d, ok := s.telemetryByTrain.latest(trainID)
		if !ok {
			return fmt.Errorf("telemetry for %s: %w", trainID, repository.ErrNotFound)
		}
		out = d
		return nil
	})
	return out, err
}

func (s *Store) InsertWeather(ctx context.Context, w model.WeatherData) error {
	return s.write(ctx, "insert_weather", func() error {
		s.weather.add(w.SectionID, w.Timestamp, s.seq, w)
		return nil
	})
}

func (s *Store) WeatherForSection(ctx context.Context, sectionID string, from, to time.Time) ([]model.WeatherData, error) {
	var out []model.WeatherData
	err := s.read(ctx, "weather_for_section", func() error {
		out = s.weather.between(sectionID, from, to)
		return nil
	})
	return out, err
}

func (s *Store) InsertMaintenance(ctx context.Context, b model.MaintenanceBlock) error {
	return s.write(ctx, "insert_maintenance", func() error {
		if _, ok := s.blocks[b.BlockID]; ok {
			return fmt.Errorf("maintenance block %s: %w", b.BlockID, repository.ErrAlreadyExists)
		}
		s.blocks[b.BlockID] = struct{}{}
		s.blocksBySection.add(b.SectionID, b.StartTime, s.seq, b)
		return nil
	})
}

func (s *Store) ActiveMaintenance(ctx context.Context, sectionID string, at time.Time) ([]model.MaintenanceBlock, error) {
	var out []model.MaintenanceBlock
	err := s.read(ctx, "active_maintenance", func() error {
		out = []model.MaintenanceBlock{}
		for _, b := range s.blocksBySection.between(sectionID, time.Time{}, at) {
			if !b.EndTime.Before(at) {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) MaintenanceInRange(ctx context.Context, sectionID string, from, to time.Time) ([]model.MaintenanceBlock, error) {
	var out []model.MaintenanceBlock
	err := s.read(ctx, "maintenance_in_range", func() error {
		out = []model.MaintenanceBlock{}
		keep := func(b model.MaintenanceBlock) bool {
			return !b.StartTime.After(to) && !b.EndTime.Before(from)
		}
		if sectionID != "" {
			for _, b := range s.blocksBySection.between(sectionID, time.Time{}, to) {
				if keep(b) {
					out = append(out, b)
				}
			}
			return nil
		}
		s.blocksBySection.tree.Ascend(func(p point[model.MaintenanceBlock]) bool {
			if keep(p.val) {
				out = append(out, p.val)
			}
			return true
		})
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].StartTime.Equal(out[j].StartTime) {
				return out[i].StartTime.Before(out[j].StartTime)
			}
			return out[i].BlockID < out[j].BlockID
		})
		return nil
	})
	return out, err
}

func (s *Store) InsertMetrics(ctx context.Context, m model.OperationalMetrics) error {
	return s.write(ctx, "insert_metrics", func() error {
		s.metricsBySection.add(m.SectionID, m.Timestamp, s.seq, m)
		s.metricsAll.add("", m.Timestamp, s.seq, m)
		return nil
	})
}

func (s *Store) MetricsForSection(ctx context.Context, sectionID string, from, to time.Time) ([]model.OperationalMetrics, error) {
	var out []model.OperationalMetrics
	err := s.read(ctx, "metrics_for_section", func() error {
		out = s.metricsBySection.between(sectionID, from, to)
		return nil
	})
	return out, err
}

func (s *Store) MetricsInRange(ctx context.Context, from, to time.Time) ([]model.OperationalMetrics, error) {
	var out []model.OperationalMetrics
	err := s.read(ctx, "metrics_in_range", func() error {
		out = s.metricsAll.between("", from, to)
		return nil
	})
	return out, err
}

func (s *Store) SystemMetrics(ctx context.Context, from, to time.Time) (model.SystemMetrics, error) {
	rows, err := s.MetricsInRange(ctx, from, to)
	if err != nil {
		return model.SystemMetrics{}, err
	}
	return repository.Aggregate(from, to, rows), nil
}
