package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/domain/model"
)

var _ repository.Store = (*Store)(nil)

// Store is a repository.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool. The pool is closed by Close.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn, applies the schema and returns the store.
func Open(ctx context.Context, dsn string, opts PoolOptions) (*Store, error) {
	pool, err := NewPool(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func observe(op string, start time.Time, err *error) {
	repository.Observe(op, start, *err)
}

func (s *Store) InsertTrackSection(ctx context.Context, ts model.TrackSection) (err error) {
	defer observe("insert_track_section", time.Now(), &err)
	args, err := trackSectionArgs(ts)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO track_sections (section_id, track_type, length_km, max_speed, gradient,
			curves, signals, stations, electrified, maintenance_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("track section %s: %w", ts.SectionID, repository.ErrAlreadyExists)
	}
	return err
}

func (s *Store) GetTrackSection(ctx context.Context, sectionID string) (ts model.TrackSection, err error) {
	defer observe("get_track_section", time.Now(), &err)
	row := s.pool.QueryRow(ctx, selectTrackSection+` WHERE section_id = $1`, sectionID)
	ts, err = scanTrackSection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ts, fmt.Errorf("track section %s: %w", sectionID, repository.ErrNotFound)
	}
	return ts, err
}

func (s *Store) UpdateTrackSection(ctx context.Context, ts model.TrackSection) (err error) {
	defer observe("update_track_section", time.Now(), &err)
	args, err := trackSectionArgs(ts)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE track_sections SET track_type = $2, length_km = $3, max_speed = $4, gradient = $5,
			curves = $6, signals = $7, stations = $8, electrified = $9, maintenance_history = $10
		WHERE section_id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("track section %s: %w", ts.SectionID, repository.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTrackSections(ctx context.Context) (out []model.TrackSection, err error) {
	defer observe("list_track_sections", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectTrackSection+` ORDER BY section_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.TrackSection, error) {
		return scanTrackSection(r)
	})
}

const selectTrackSection = `
	SELECT section_id, track_type, length_km, max_speed, gradient,
		curves, signals, stations, electrified, maintenance_history
	FROM track_sections`

func trackSectionArgs(ts model.TrackSection) ([]any, error) {
	curves, err := json.Marshal(ts.Curves)
	if err != nil {
		return nil, err
	}
	signals, err := json.Marshal(ts.Signals)
	if err != nil {
		return nil, err
	}
	stations, err := json.Marshal(ts.Stations)
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(ts.MaintenanceHistory)
	if err != nil {
		return nil, err
	}
	return []any{ts.SectionID, string(ts.TrackType), ts.LengthKM, ts.MaxSpeed, ts.Gradient,
		curves, signals, stations, ts.Electrified, history}, nil
}

func scanTrackSection(row pgx.Row) (model.TrackSection, error) {
	var (
		ts                                 model.TrackSection
		trackType                          string
		curves, signals, stations, history []byte
	)
	if err := row.Scan(&ts.SectionID, &trackType, &ts.LengthKM, &ts.MaxSpeed, &ts.Gradient,
		&curves, &signals, &stations, &ts.Electrified, &history); err != nil {
		return model.TrackSection{}, err
	}
	ts.TrackType = model.TrackType(trackType)
	for _, f := range []struct {
		raw []byte
		dst any
	}{{curves, &ts.Curves}, {signals, &ts.Signals}, {stations, &ts.Stations}, {history, &ts.MaintenanceHistory}} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return model.TrackSection{}, fmt.Errorf("decode track section %s: %w", ts.SectionID, err)
		}
	}
	return ts, nil
}

func (s *Store) UpsertRollingStock(ctx context.Context, r model.RollingStock) (err error) {
	defer observe("upsert_rolling_stock", time.Now(), &err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rolling_stock (train_id, type, length, max_speed, acceleration, deceleration,
			weight, power_type, passenger_capacity, cargo_capacity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (train_id) DO UPDATE SET type = EXCLUDED.type, length = EXCLUDED.length,
			max_speed = EXCLUDED.max_speed, acceleration = EXCLUDED.acceleration,
			deceleration = EXCLUDED.deceleration, weight = EXCLUDED.weight,
			power_type = EXCLUDED.power_type, passenger_capacity = EXCLUDED.passenger_capacity,
			cargo_capacity = EXCLUDED.cargo_capacity`,
		r.TrainID, r.Type, r.Length, r.MaxSpeed, r.Acceleration, r.Deceleration,
		r.Weight, r.PowerType, r.PassengerCapacity, r.CargoCapacity)
	return err
}

func (s *Store) GetRollingStock(ctx context.Context, trainID string) (r model.RollingStock, err error) {
	defer observe("get_rolling_stock", time.Now(), &err)
	err = s.pool.QueryRow(ctx, `
		SELECT train_id, type, length, max_speed, acceleration, deceleration,
			weight, power_type, passenger_capacity, cargo_capacity
		FROM rolling_stock WHERE train_id = $1`, trainID).
		Scan(&r.TrainID, &r.Type, &r.Length, &r.MaxSpeed, &r.Acceleration, &r.Deceleration,
			&r.Weight, &r.PowerType, &r.PassengerCapacity, &r.CargoCapacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("rolling stock %s: %w", trainID, repository.ErrNotFound)
	}
	return r, err
}

func (s *Store) UpsertSchedule(ctx context.Context, sc model.TrainSchedule) (err error) {
	defer observe("upsert_schedule", time.Now(), &err)
	route, _ := json.Marshal(sc.Route)
	deps, _ := json.Marshal(sc.DepartureTimes)
	arrs, _ := json.Marshal(sc.ArrivalTimes)
	dwell, _ := json.Marshal(sc.DwellTimes)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO schedules (schedule_id, train_id, route, departure_times, arrival_times,
			dwell_times, priority, service_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (schedule_id) DO UPDATE SET train_id = EXCLUDED.train_id, route = EXCLUDED.route,
			departure_times = EXCLUDED.departure_times, arrival_times = EXCLUDED.arrival_times,
			dwell_times = EXCLUDED.dwell_times, priority = EXCLUDED.priority,
			service_type = EXCLUDED.service_type`,
		sc.ScheduleID, sc.TrainID, route, deps, arrs, dwell, sc.Priority, sc.ServiceType)
	return err
}

func (s *Store) SchedulesForTrain(ctx context.Context, trainID string) (out []model.TrainSchedule, err error) {
	defer observe("schedules_for_train", time.Now(), &err)
	rows, err := s.pool.Query(ctx, `
		SELECT schedule_id, train_id, route, departure_times, arrival_times, dwell_times,
			priority, service_type
		FROM schedules WHERE train_id = $1 ORDER BY schedule_id`, trainID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.TrainSchedule, error) {
		var (
			sc                       model.TrainSchedule
			route, deps, arrs, dwell []byte
		)
		if err := r.Scan(&sc.ScheduleID, &sc.TrainID, &route, &deps, &arrs, &dwell,
			&sc.Priority, &sc.ServiceType); err != nil {
			return sc, err
		}
		for _, f := range []struct {
			raw []byte
			dst any
		}{{route, &sc.Route}, {deps, &sc.DepartureTimes}, {arrs, &sc.ArrivalTimes}, {dwell, &sc.DwellTimes}} {
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return sc, fmt.Errorf("decode schedule %s: %w", sc.ScheduleID, err)
			}
		}
		return sc, nil
	})
}

const selectRealTime = `
	SELECT event_id, ts, train_id, latitude, longitude, speed, direction, section_id,
		delay, status, next_signal, next_station
	FROM real_time_data`

func scanRealTime(row pgx.CollectableRow) (model.RealTimeData, error) {
	var d model.RealTimeData
	err := row.Scan(&d.EventID, &d.Timestamp, &d.TrainID, &d.Position.Latitude, &d.Position.Longitude,
		&d.Speed, &d.Direction, &d.SectionID, &d.Delay, &d.Status, &d.NextSignal, &d.NextStation)
	d.Timestamp = d.Timestamp.UTC()
	return d, err
}

func (s *Store) InsertRealTime(ctx context.Context, d model.RealTimeData) (err error) {
	defer observe("insert_real_time", time.Now(), &err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO real_time_data (event_id, ts, train_id, latitude, longitude, speed, direction,
			section_id, delay, status, next_signal, next_station)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.EventID, d.Timestamp, d.TrainID, d.Position.Latitude, d.Position.Longitude, d.Speed,
		d.Direction, d.SectionID, d.Delay, d.Status, d.NextSignal, d.NextStation)
	return err
}

func (s *Store) RealTimeForTrain(ctx context.Context, trainID string, from, to time.Time) (out []model.RealTimeData, err error) {
	defer observe("real_time_for_train", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectRealTime+`
		WHERE train_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts, id`, trainID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRealTime)
}

func (s *Store) RealTimeForSection(ctx context.Context, sectionID string, from, to time.Time) (out []model.RealTimeData, err error) {
	defer observe("real_time_for_section", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectRealTime+`
		WHERE section_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts, id`, sectionID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRealTime)
}

func (s *Store) LatestRealTime(ctx context.Context, trainID string) (d model.RealTimeData, err error) {
	defer observe("latest_real_time", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectRealTime+`
		WHERE train_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`, trainID)
	if err != nil {
		return d, err
	}
	d, err = pgx.CollectExactlyOneRow(rows, scanRealTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, fmt.Errorf("telemetry for %s: %w", trainID, repository.ErrNotFound)
	}
	return d, err
}

func (s *Store) InsertWeather(ctx context.Context, w model.WeatherData) (err error) {
	defer observe("insert_weather", time.Now(), &err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO weather_data (ts, section_id, condition, temperature, visibility, wind_speed, rainfall)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.Timestamp, w.SectionID, string(w.Condition), w.Temperature, w.Visibility, w.WindSpeed, w.Rainfall)
	return err
}

func (s *Store) WeatherForSection(ctx context.Context, sectionID string, from, to time.Time) (out []model.WeatherData, err error) {
	defer observe("weather_for_section", time.Now(), &err)
	rows, err := s.pool.Query(ctx, `
		SELECT ts, section_id, condition, temperature, visibility, wind_speed, rainfall
		FROM weather_data WHERE section_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts, id`,
		sectionID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.WeatherData, error) {
		var (
			w    model.WeatherData
			cond string
		)
		err := r.Scan(&w.Timestamp, &w.SectionID, &cond, &w.Temperature, &w.Visibility, &w.WindSpeed, &w.Rainfall)
		w.Timestamp = w.Timestamp.UTC()
		w.Condition = model.WeatherCondition(cond)
		return w, err
	})
}

const selectMaintenance = `
	SELECT block_id, section_id, start_time, end_time, type, status, speed_restriction, description
	FROM maintenance_blocks`

func scanMaintenance(r pgx.CollectableRow) (model.MaintenanceBlock, error) {
	var (
		b      model.MaintenanceBlock
		status string
	)
	err := r.Scan(&b.BlockID, &b.SectionID, &b.StartTime, &b.EndTime, &b.Type, &status,
		&b.SpeedRestriction, &b.Description)
	b.StartTime, b.EndTime = b.StartTime.UTC(), b.EndTime.UTC()
	b.Status = model.MaintenanceStatus(status)
	return b, err
}

func (s *Store) InsertMaintenance(ctx context.Context, b model.MaintenanceBlock) (err error) {
	defer observe("insert_maintenance", time.Now(), &err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO maintenance_blocks (block_id, section_id, start_time, end_time, type, status,
			speed_restriction, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.BlockID, b.SectionID, b.StartTime, b.EndTime, b.Type, string(b.Status), b.SpeedRestriction, b.Description)
	if isUniqueViolation(err) {
		return fmt.Errorf("maintenance block %s: %w", b.BlockID, repository.ErrAlreadyExists)
	}
	return err
}

func (s *Store) ActiveMaintenance(ctx context.Context, sectionID string, at time.Time) (out []model.MaintenanceBlock, err error) {
	defer observe("active_maintenance", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectMaintenance+`
		WHERE section_id = $1 AND start_time <= $2 AND end_time >= $2
		ORDER BY start_time, block_id`, sectionID, at)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMaintenance)
}

func (s *Store) MaintenanceInRange(ctx context.Context, sectionID string, from, to time.Time) (out []model.MaintenanceBlock, err error) {
	defer observe("maintenance_in_range", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectMaintenance+`
		WHERE ($1 = '' OR section_id = $1) AND start_time <= $3 AND end_time >= $2
		ORDER BY start_time, block_id`, sectionID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMaintenance)
}

const selectMetrics = `
	SELECT ts, section_id, trains_in_section, average_speed, total_delay,
		capacity_utilization, conflict_count, resolution_time
	FROM operational_metrics`

func scanMetrics(r pgx.CollectableRow) (model.OperationalMetrics, error) {
	var m model.OperationalMetrics
	err := r.Scan(&m.Timestamp, &m.SectionID, &m.TrainsInSection, &m.AverageSpeed, &m.TotalDelay,
		&m.CapacityUtilization, &m.ConflictCount, &m.ResolutionTime)
	m.Timestamp = m.Timestamp.UTC()
	return m, err
}

func (s *Store) InsertMetrics(ctx context.Context, m model.OperationalMetrics) (err error) {
	defer observe("insert_metrics", time.Now(), &err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO operational_metrics (ts, section_id, trains_in_section, average_speed, total_delay,
			capacity_utilization, conflict_count, resolution_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.Timestamp, m.SectionID, m.TrainsInSection, m.AverageSpeed, m.TotalDelay,
		m.CapacityUtilization, m.ConflictCount, m.ResolutionTime)
	return err
}

func (s *Store) MetricsForSection(ctx context.Context, sectionID string, from, to time.Time) (out []model.OperationalMetrics, err error) {
	defer observe("metrics_for_section", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectMetrics+`
		WHERE section_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts, id`, sectionID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMetrics)
}

func (s *Store) MetricsInRange(ctx context.Context, from, to time.Time) (out []model.OperationalMetrics, err error) {
	defer observe("metrics_in_range", time.Now(), &err)
	rows, err := s.pool.Query(ctx, selectMetrics+`
		WHERE ts >= $1 AND ts <= $2 ORDER BY ts, id`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMetrics)
}

// SystemMetrics aggregates in the database.
func (s *Store) SystemMetrics(ctx context.Context, from, to time.Time) (sm model.SystemMetrics, err error) {
	defer observe("system_metrics", time.Now(), &err)
	sm = model.SystemMetrics{From: from, To: to}
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(total_delay), 0), COALESCE(AVG(capacity_utilization), 0),
			COALESCE(SUM(conflict_count), 0), COALESCE(AVG(resolution_time), 0)
		FROM operational_metrics WHERE ts >= $1 AND ts <= $2`, from, to).
		Scan(&sm.Samples, &sm.AvgDelay, &sm.AvgUtilization, &sm.TotalConflicts, &sm.AvgResolutionTime)
	return sm, err
}
