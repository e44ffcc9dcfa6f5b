// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/railflow/internal/adapters/feed"
	eventqueue "github.com/okian/railflow/internal/adapters/mq/queue"
	workerpool "github.com/okian/railflow/internal/adapters/mq/worker"
	"github.com/okian/railflow/internal/adapters/network"
	repository "github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/adapters/repository/memory"
	"github.com/okian/railflow/internal/adapters/repository/postgres"
	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/config"
	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/dedupe"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/pattern"
	"github.com/okian/railflow/internal/domain/prediction"
	"github.com/okian/railflow/internal/domain/schedule"
	"github.com/okian/railflow/pkg/logger"
	"github.com/okian/railflow/pkg/metrics"
)

// retrainLookback bounds the operational metrics the pattern retrainer reads.
const retrainLookback = 7 * 24 * time.Hour

const storePingTimeout = 2 * time.Second

// Service implements the API dependencies for the traffic control system.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config
	now func() time.Time

	// Core components
	store      repository.Store
	storeKind  string
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	collector  *collect.Collector

	telemetrySrc collect.TelemetrySource
	weatherSrc   collect.WeatherSource

	engine    *schedule.Engine
	detector  *conflict.Detector
	predictor *prediction.DelayPredictor
	analyzer  *pattern.Analyzer

	// Seeded network topology, used when a request names no sections.
	sections []model.Section

	fleetMu sync.RWMutex
	fleet   map[string]model.RealTimeData

	conflictMu sync.Mutex
	conflicts  []conflict.Conflict

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int

	// State
	injected repository.Store
	started  bool
	stopping bool
	cancel   context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// Logging
	logger logger.Logger
}

var (
	_ collect.Recorder    = (*Service)(nil)
	_ workerpool.Recorder = (*Service)(nil)
)

// New constructs a Service. Domain engines are ready immediately; the store,
// queue and workers are created by Start. Without WithLogger the global
// logger must be initialized.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:   config.New(),
		now:   time.Now,
		fleet: make(map[string]model.RealTimeData),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.workerCount == 0 {
		s.workerCount = s.cfg.WorkerCount
	}
	if s.queueSize == 0 {
		s.queueSize = s.cfg.QueueSize
	}
	if s.dedupeSize == 0 {
		s.dedupeSize = s.cfg.DedupeSize
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.engine = schedule.NewEngine(
		schedule.WithSafetyBuffer(s.cfg.SafetyBuffer()),
		schedule.WithMinStoppingTime(s.cfg.MinStoppingTime()),
		schedule.WithMaxDelayThreshold(s.cfg.MaxDelayThreshold()),
		schedule.WithTimeWindow(s.cfg.TimeWindow()),
		schedule.WithMaxTrains(s.cfg.MaxTrains),
		schedule.WithMaxSections(s.cfg.MaxSections),
		schedule.WithClock(s.now),
	)
	s.detector = s.engine.Detector()
	s.predictor = prediction.NewDelayPredictor(prediction.WithClock(s.now))
	s.analyzer = pattern.NewAnalyzer(
		pattern.WithSequenceLength(s.cfg.SequenceLength),
		pattern.WithContamination(s.cfg.AnomalyContamination),
		pattern.WithClock(s.now),
	)
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting traffic control service...")

	if err := s.openStore(ctx); err != nil {
		return err
	}
	if err := s.seedNetwork(ctx); err != nil {
		_ = s.store.Close()
		s.store = nil
		return err
	}
	if err := s.buildCollector(); err != nil {
		_ = s.store.Close()
		s.store = nil
		return err
	}

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))

	// Components outlive the start request; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.stopCh = make(chan struct{})

	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s, workerpool.WithLogger(s.logger))
	s.workerPool.Start(runCtx)

	if every := s.cfg.ModelUpdateFrequency(); every > 0 {
		s.wg.Add(1)
		go s.retrainLoop(runCtx, every)
	}

	s.started = true
	s.logger.Info(ctx, "traffic control service started",
		logger.String("store", s.storeKind),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("sections", len(s.sections)),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) error {
	switch {
	case s.injected != nil:
		s.store = s.injected
		s.storeKind = "injected"
	case s.cfg.DatabaseURL != "":
		pg, err := postgres.Open(ctx, s.cfg.DatabaseURL, postgres.PoolOptions{MaxConns: int32(s.cfg.PGMaxConns)}) //nolint:gosec // bounded by config validation
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		s.store = pg
		s.storeKind = "postgres"
	default:
		s.store = memory.NewStore(ctx)
		s.storeKind = "memory"
	}
	return nil
}

func (s *Service) seedNetwork(ctx context.Context) error {
	if s.cfg.NetworkFile == "" {
		return nil
	}
	n, err := network.Load(s.cfg.NetworkFile)
	if err != nil {
		return fmt.Errorf("load network: %w", err)
	}
	for _, ts := range n.TrackSections {
		if err := s.store.InsertTrackSection(ctx, ts); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			return fmt.Errorf("seed section %s: %w", ts.SectionID, err)
		}
	}
	for _, rs := range n.RollingStock {
		if err := s.store.UpsertRollingStock(ctx, rs); err != nil {
			return fmt.Errorf("seed rolling stock %s: %w", rs.TrainID, err)
		}
	}
	s.sections = n.Sections
	s.logger.Info(ctx, "network seeded",
		logger.String("file", s.cfg.NetworkFile),
		logger.Int("sections", len(n.Sections)),
		logger.Int("rollingStock", len(n.RollingStock)),
	)
	return nil
}

func (s *Service) buildCollector() error {
	opts := []collect.Option{collect.WithClock(s.now), collect.WithLogger(s.logger)}
	timeout := feed.WithTimeout(s.cfg.FeedTimeout())

	telemetry := s.telemetrySrc
	if telemetry == nil && s.cfg.TelemetryFeedURL != "" {
		c, err := feed.NewClient(s.cfg.TelemetryFeedURL, timeout)
		if err != nil {
			return err
		}
		telemetry = c
	}
	if telemetry != nil {
		opts = append(opts, collect.WithTelemetrySource(telemetry))
	}

	weather := s.weatherSrc
	if weather == nil && s.cfg.WeatherFeedURL != "" {
		c, err := feed.NewClient(s.cfg.WeatherFeedURL, timeout)
		if err != nil {
			return err
		}
		weather = c
	}
	if weather != nil {
		opts = append(opts, collect.WithWeatherSource(weather))
	}

	opts = append(opts, collect.WithReference(s.store))
	s.collector = collect.NewCollector(s, opts...)
	return nil
}

// Stop gracefully shuts down the service. Queued telemetry is drained first;
// workers keep recording while the lock is released.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	pool := s.workerPool
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping traffic control service...")

	// Stop worker pool; it closes the queue and drains it.
	if err := pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}

	// Signal background loops to stop
	close(s.stopCh)
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing store", logger.Error(err))
	}
	s.store = nil
	s.started = false
	s.stopping = false
	s.logger.Info(ctx, "traffic control service stopped")
}

// repo returns the running store.
func (s *Service) repo() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
// Returns true if the event was already seen, false if it was newly recorded.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordTelemetryDuplicate()
	}
	return seen
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Enqueue submits telemetry for asynchronous recording. It returns false on
// backpressure or when the service is not running.
func (s *Service) Enqueue(ctx context.Context, d model.RealTimeData) bool { //nolint:gocritic // hugeParam: queued by value
	s.mu.RLock()
	q := s.eventQueue
	started := s.started
	s.mu.RUnlock()
	if !started {
		metrics.RecordTelemetryRejected("not_started")
		return false
	}

	if !q.Enqueue(ctx, d) {
		metrics.RecordTelemetryRejected("backpressure")
		s.logger.Debug(ctx, "telemetry rejected",
			logger.String("eventID", d.EventID),
			logger.String("trainID", d.TrainID),
		)
		return false
	}
	metrics.RecordTelemetryAccepted()
	metrics.UpdateQueueSize(q.Len(ctx), q.Capacity())
	return true
}

// RecordRealTime persists one telemetry sample and refreshes the live fleet
// view. Workers and the collector call it.
func (s *Service) RecordRealTime(ctx context.Context, d model.RealTimeData) error { //nolint:gocritic // hugeParam: recorded by value
	store, err := s.repo()
	if err != nil {
		return err
	}
	if err := store.InsertRealTime(ctx, d); err != nil {
		return err
	}

	s.fleetMu.Lock()
	if cur, ok := s.fleet[d.TrainID]; !ok || !d.Timestamp.Before(cur.Timestamp) {
		s.fleet[d.TrainID] = d
	}
	tracked := len(s.fleet)
	s.fleetMu.Unlock()
	metrics.UpdateTrainsTracked(tracked)
	return nil
}

// RecordWeather validates and persists a weather reading.
func (s *Service) RecordWeather(ctx context.Context, w model.WeatherData) error {
	store, err := s.repo()
	if err != nil {
		return err
	}
	if w.Timestamp.IsZero() {
		w.Timestamp = s.now().UTC()
	}
	if err := w.Validate(); err != nil {
		return err
	}
	return store.InsertWeather(ctx, w)
}

// WeatherHistory lists a section's weather readings in [from, to].
func (s *Service) WeatherHistory(ctx context.Context, sectionID string, from, to time.Time) ([]model.WeatherData, error) {
	store, err := s.repo()
	if err != nil {
		return nil, err
	}
	return store.WeatherForSection(ctx, sectionID, from, to)
}

// CollectRealTime pulls the current position of a train from the feed.
func (s *Service) CollectRealTime(ctx context.Context, trainID string) (model.RealTimeData, error) {
	if _, err := s.repo(); err != nil {
		return model.RealTimeData{}, err
	}
	return s.collector.CollectRealTime(ctx, trainID)
}

// CollectWeather pulls the current weather of a section from the feed.
func (s *Service) CollectWeather(ctx context.Context, sectionID string) (model.WeatherData, error) {
	if _, err := s.repo(); err != nil {
		return model.WeatherData{}, err
	}
	return s.collector.CollectWeather(ctx, sectionID)
}

// FleetPosition returns the latest known sample of a train, from the live
// view first and the store otherwise.
func (s *Service) FleetPosition(ctx context.Context, trainID string) (model.RealTimeData, error) {
	s.fleetMu.RLock()
	d, ok := s.fleet[trainID]
	s.fleetMu.RUnlock()
	if ok {
		return d, nil
	}
	store, err := s.repo()
	if err != nil {
		return model.RealTimeData{}, err
	}
	return store.LatestRealTime(ctx, trainID)
}

// TrainHistory lists a train's telemetry in [from, to].
func (s *Service) TrainHistory(ctx context.Context, trainID string, from, to time.Time) ([]model.RealTimeData, error) {
	store, err := s.repo()
	if err != nil {
		return nil, err
	}
	return store.RealTimeForTrain(ctx, trainID, from, to)
}

// SectionHistory lists telemetry observed on a section in [from, to].
func (s *Service) SectionHistory(ctx context.Context, sectionID string, from, to time.Time) ([]model.RealTimeData, error) {
	store, err := s.repo()
	if err != nil {
		return nil, err
	}
	return store.RealTimeForSection(ctx, sectionID, from, to)
}

// PutTrackSection validates and inserts a new track section.
func (s *Service) PutTrackSection(ctx context.Context, ts model.TrackSection) error { //nolint:gocritic // hugeParam: stored by value
	store, err := s.repo()
	if err != nil {
		return err
	}
	if err := ts.Validate(); err != nil {
		return err
	}
	return store.InsertTrackSection(ctx, ts)
}

// GetTrackSection returns one track section.
func (s *Service) GetTrackSection(ctx context.Context, sectionID string) (model.TrackSection, error) {
	store, err := s.repo()
	if err != nil {
		return model.TrackSection{}, err
	}
	return store.GetTrackSection(ctx, sectionID)
}

// ListTrackSections returns every track section ordered by id.
func (s *Service) ListTrackSections(ctx context.Context) ([]model.TrackSection, error) {
	store, err := s.repo()
	if err != nil {
		return nil, err
	}
	return store.ListTrackSections(ctx)
}

// UpdateTrackSection merges a JSON patch onto the stored section. Fields
// absent from the patch keep their value; the id cannot change.
func (s *Service) UpdateTrackSection(ctx context.Context, sectionID string, patch []byte) (model.TrackSection, error) {
	store, err := s.repo()
	if err != nil {
		return model.TrackSection{}, err
	}
	ts, err := store.GetTrackSection(ctx, sectionID)
	if err != nil {
		return model.TrackSection{}, err
	}
	if err := json.Unmarshal(patch, &ts); err != nil {
		return model.TrackSection{}, fmt.Errorf("%w: decode patch: %v", model.ErrInvalid, err) //nolint:errorlint // decode detail only
	}
	if ts.SectionID != sectionID {
		return model.TrackSection{}, fmt.Errorf("%w: section_id cannot change", model.ErrInvalid)
	}
	if err := ts.Validate(); err != nil {
		return model.TrackSection{}, err
	}
	if err := store.UpdateTrackSection(ctx, ts); err != nil {
		return model.TrackSection{}, err
	}
	return ts, nil
}

// AddMaintenanceBlock validates and stores a maintenance block.
func (s *Service) AddMaintenanceBlock(ctx context.Context, b model.MaintenanceBlock) error { //nolint:gocritic // hugeParam: stored by value
	store, err := s.repo()
	if err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if !collect.ValidateMaintenanceBlock(b) {
		return fmt.Errorf("%w: maintenance block %s has an empty window or a non-positive restriction", model.ErrInvalid, b.BlockID)
	}
	return store.InsertMaintenance(ctx, b)
}

// ActiveMaintenance lists the blocks of a section covering instant at.
func (s *Service) ActiveMaintenance(ctx context.Context, sectionID string, at time.Time) ([]model.MaintenanceBlock, error) {
	store, err := s.repo()
	if err != nil {
		return nil, err
	}
	return store.ActiveMaintenance(ctx, sectionID, at)
}

// MaintenanceImpact summarises the blocks in force on a section at instant at.
func (s *Service) MaintenanceImpact(ctx context.Context, sectionID string, at time.Time) (collect.Impact, error) {
	blocks, err := s.ActiveMaintenance(ctx, sectionID, at)
	if err != nil {
		return collect.Impact{}, err
	}
	return collect.MaintenanceImpact(blocks, sectionID, at), nil
}

// PutSchedule validates and stores a timetable, replacing one with the same id.
// Arrival and departure times must each run forward along the route.
func (s *Service) PutSchedule(ctx context.Context, ts model.TrainSchedule) error {
	store, err := s.repo()
	if err != nil {
		return err
	}
	if err := ts.Validate(); err != nil {
		return err
	}
	if !collect.ValidateTimeSequence(ts.ArrivalTimes) || !collect.ValidateTimeSequence(ts.DepartureTimes) {
		return fmt.Errorf("%w: schedule %s runs backwards in time", model.ErrInvalid, ts.ScheduleID)
	}
	return store.UpsertSchedule(ctx, ts)
}

// TrainSchedules lists the timetables of a train by schedule id.
func (s *Service) TrainSchedules(ctx context.Context, trainID string) ([]model.TrainSchedule, error) {
	store, err := s.repo()
	if err != nil {
		return nil, err
	}
	return store.SchedulesForTrain(ctx, trainID)
}

// SystemMetrics aggregates the stored operational metrics in [from, to].
func (s *Service) SystemMetrics(ctx context.Context, from, to time.Time) (model.SystemMetrics, error) {
	store, err := s.repo()
	if err != nil {
		return model.SystemMetrics{}, err
	}
	return store.SystemMetrics(ctx, from, to)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"dedupeSize":   s.dedupeSize,
		"delayModel":   s.predictor.Status(),
		"patternModel": s.analyzer.Status(),
		"sections":     len(s.sections),
	}

	s.fleetMu.RLock()
	stats["trainsTracked"] = len(s.fleet)
	s.fleetMu.RUnlock()

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["store"] = s.storeKind
		stats["queueLength"] = queueLen
		stats["processed"] = s.workerPool.Processed()
		stats["failed"] = s.workerPool.Failed()
		stats["dedupeEntries"] = s.deduper.Size()
		stats["dedupeEvictions"] = s.deduper.Evictions()

		pctx, cancel := context.WithTimeout(ctx, storePingTimeout)
		if err := s.store.Ping(pctx); err != nil {
			stats["storeHealthy"] = false
			stats["storeError"] = err.Error()
		} else {
			stats["storeHealthy"] = true
		}
		cancel()

		// Update metrics
		metrics.UpdateQueueSize(queueLen, s.eventQueue.Capacity())
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
