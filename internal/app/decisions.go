package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	repository "github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/pattern"
	"github.com/okian/railflow/internal/domain/prediction"
	"github.com/okian/railflow/internal/domain/schedule"
	"github.com/okian/railflow/pkg/logger"
	"github.com/okian/railflow/pkg/metrics"
)

// OptimizeSchedule plans the requested trains. Without sections the seeded
// network is used; stored maintenance blocks inside the planning window are
// added to the ones in the request.
func (s *Service) OptimizeSchedule(ctx context.Context, req schedule.Request) (*schedule.Plan, error) {
	if len(req.Sections) == 0 {
		req.Sections = s.sections
	}
	if store, err := s.repo(); err == nil {
		start := req.Start
		if start.IsZero() {
			start = s.now()
		}
		stored, err := store.MaintenanceInRange(ctx, "", start, start.Add(s.cfg.TimeWindow()))
		if err != nil {
			return nil, fmt.Errorf("load maintenance: %w", err)
		}
		req.MaintenanceBlocks = mergeBlocks(req.MaintenanceBlocks, stored)
		if req.Trains, err = capToRollingStock(ctx, store, req.Trains); err != nil {
			return nil, err
		}
	}

	began := time.Now()
	plan, err := s.engine.Optimize(ctx, req)
	elapsed := float64(time.Since(began).Microseconds()) / 1000
	if err != nil {
		metrics.RecordOptimization("error", elapsed)
		return nil, err
	}
	metrics.RecordOptimization("ok", elapsed)
	for _, d := range plan.TrainDelays {
		metrics.RecordPlannedDelay(float64(d))
	}
	for _, r := range plan.Recommendations {
		metrics.RecordRecommendation(string(r.Action))
	}
	s.logger.Info(ctx, "schedule optimized",
		logger.Int("trains", len(req.Trains)),
		logger.Int("movements", len(plan.Movements)),
		logger.Int("recommendations", len(plan.Recommendations)),
		logger.Int("unscheduled", len(plan.Unscheduled)),
		logger.Int("totalDelay", plan.TotalDelay),
	)
	return plan, nil
}

// mergeBlocks appends stored blocks whose id the request does not carry.
func mergeBlocks(req, stored []model.MaintenanceBlock) []model.MaintenanceBlock {
	if len(stored) == 0 {
		return req
	}
	seen := make(map[string]struct{}, len(req))
	for _, b := range req {
		seen[b.BlockID] = struct{}{}
	}
	out := append([]model.MaintenanceBlock(nil), req...)
	for _, b := range stored {
		if _, ok := seen[b.BlockID]; !ok {
			out = append(out, b)
		}
	}
	return out
}

// DetectConflicts checks movements against each other and the given blocks.
// Detected conflicts feed the per-section operational metrics.
func (s *Service) DetectConflicts(ctx context.Context, movements []model.TrainMovement, blocks []model.MaintenanceBlock) ([]conflict.Conflict, error) {
	out, err := s.detector.Detect(ctx, movements, blocks)
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		metrics.RecordConflict(string(c.Kind))
	}
	s.rememberConflicts(out)
	if len(out) > 0 {
		s.logger.Info(ctx, "conflicts detected",
			logger.Int("movements", len(movements)),
			logger.Int("conflicts", len(out)),
		)
	}
	return out, nil
}

func (s *Service) rememberConflicts(cs []conflict.Conflict) {
	cutoff := s.now().Add(-s.cfg.TimeWindow())
	s.conflictMu.Lock()
	defer s.conflictMu.Unlock()
	kept := s.conflicts[:0]
	for _, c := range s.conflicts {
		if c.WindowEnd.After(cutoff) {
			kept = append(kept, c)
		}
	}
	s.conflicts = append(kept, cs...)
}

func (s *Service) conflictsFor(sectionID string, from, to time.Time) []conflict.Conflict {
	s.conflictMu.Lock()
	defer s.conflictMu.Unlock()
	var out []conflict.Conflict
	for _, c := range s.conflicts {
		if c.SectionID == sectionID && !c.WindowStart.After(to) && !c.WindowEnd.Before(from) {
			out = append(out, c)
		}
	}
	return out
}

// PredictDelays predicts the delay in seconds of each passage.
func (s *Service) PredictDelays(_ context.Context, features []prediction.Features) ([]float64, error) {
	out, err := s.predictor.Predict(features)
	if err != nil {
		return nil, err
	}
	metrics.RecordPrediction("delay", len(out))
	return out, nil
}

// TrainDelayModel fits the delay predictor and returns the sample count.
func (s *Service) TrainDelayModel(ctx context.Context, records []prediction.Record) (int, error) {
	n, err := s.predictor.Fit(records)
	if err != nil {
		metrics.RecordModelTraining("delay", "error")
		return 0, err
	}
	metrics.RecordModelTraining("delay", "ok")
	s.logger.Info(ctx, "delay model trained", logger.Int("samples", n))
	return n, nil
}

// AnalyzePattern forecasts congestion and flags anomalous windows.
func (s *Service) AnalyzePattern(_ context.Context, points []pattern.Point) (pattern.Analysis, error) {
	res, err := s.analyzer.Analyze(points)
	if err != nil {
		return pattern.Analysis{}, err
	}
	metrics.RecordPrediction("pattern", 1)
	metrics.RecordAnomalies(res.Anomalies)
	return res, nil
}

// TrainPatternModel fits the pattern analyzer and returns the window count.
func (s *Service) TrainPatternModel(ctx context.Context, points []pattern.Point) (int, error) {
	n, err := s.analyzer.Fit(points)
	if err != nil {
		metrics.RecordModelTraining("pattern", "error")
		return 0, err
	}
	metrics.RecordModelTraining("pattern", "ok")
	s.logger.Info(ctx, "pattern model trained", logger.Int("sequences", n))
	return n, nil
}

// SectionMetrics aggregates the section's telemetry over the trailing window,
// persists the result and returns it. Utilization is measured against all
// telemetry in the same window on the stored, seeded and currently occupied
// sections.
func (s *Service) SectionMetrics(ctx context.Context, sectionID string, window time.Duration) (model.OperationalMetrics, error) {
	store, err := s.repo()
	if err != nil {
		return model.OperationalMetrics{}, err
	}
	if window <= 0 {
		return model.OperationalMetrics{}, fmt.Errorf("%w: window must be positive", model.ErrInvalid)
	}
	now := s.now().UTC()
	from := now.Add(-window)

	ids := map[string]struct{}{sectionID: {}}
	known, err := store.ListTrackSections(ctx)
	if err != nil {
		return model.OperationalMetrics{}, err
	}
	for _, ts := range known {
		ids[ts.SectionID] = struct{}{}
	}
	for _, sec := range s.sections {
		ids[sec.SectionID] = struct{}{}
	}
	s.fleetMu.RLock()
	for _, d := range s.fleet {
		ids[d.SectionID] = struct{}{}
	}
	s.fleetMu.RUnlock()
	var data []model.RealTimeData
	for id := range ids {
		rows, err := store.RealTimeForSection(ctx, id, from, now)
		if err != nil {
			return model.OperationalMetrics{}, err
		}
		data = append(data, rows...)
	}

	m, ok := collect.SectionMetrics(data, sectionID, window, now, s.conflictsFor(sectionID, from, now))
	if !ok {
		return model.OperationalMetrics{}, fmt.Errorf("section %s: %w", sectionID, ErrNoSamples)
	}
	if err := store.InsertMetrics(ctx, m); err != nil {
		return model.OperationalMetrics{}, err
	}
	return m, nil
}

// capToRollingStock returns trains with each speed limited to the maximum
// of the train's recorded rolling stock. Trains without a record keep theirs.
func capToRollingStock(ctx context.Context, store repository.RollingStockRepository, trains []model.Train) ([]model.Train, error) {
	out := make([]model.Train, len(trains))
	copy(out, trains)
	for i := range out {
		rs, err := store.GetRollingStock(ctx, out[i].TrainID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			continue
		case err != nil:
			return nil, fmt.Errorf("load rolling stock %s: %w", out[i].TrainID, err)
		}
		if rs.MaxSpeed > 0 && out[i].Speed > rs.MaxSpeed {
			out[i].Speed = rs.MaxSpeed
		}
	}
	return out, nil
}

// Retrain refits the pattern analyzer from stored operational metrics.
// Each section's rows form their own series, one time step per row, with
// congestion taken from capacity utilization. Windows never span sections and
// sections too short for a window are skipped. Too little history leaves the
// current model untouched.
func (s *Service) Retrain(ctx context.Context) (int, error) {
	store, err := s.repo()
	if err != nil {
		return 0, err
	}
	now := s.now()
	rows, err := store.MetricsInRange(ctx, now.Add(-retrainLookback), now)
	if err != nil {
		return 0, err
	}
	var (
		order     []string
		bySection = make(map[string][]pattern.Point)
	)
	for _, r := range rows {
		if _, ok := bySection[r.SectionID]; !ok {
			order = append(order, r.SectionID)
		}
		bySection[r.SectionID] = append(bySection[r.SectionID], pattern.Point{
			Timestamp:       r.Timestamp,
			TrainCount:      float64(r.TrainsInSection),
			AvgSpeed:        r.AverageSpeed,
			CongestionLevel: r.CapacityUtilization,
		})
	}

	var (
		seqs    []pattern.Sequence
		targets []float64
	)
	for _, id := range order {
		points := bySection[id]
		sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
		ws, ts, err := s.analyzer.PrepareSequences(points)
		if errors.Is(err, pattern.ErrInsufficientData) {
			continue
		}
		if err != nil {
			metrics.RecordModelTraining("pattern", "error")
			return 0, err
		}
		seqs = append(seqs, ws...)
		targets = append(targets, ts...)
	}

	err = s.analyzer.Train(seqs, targets)
	switch {
	case errors.Is(err, pattern.ErrInsufficientData):
		metrics.RecordModelTraining("pattern", "skipped")
		return 0, err
	case err != nil:
		metrics.RecordModelTraining("pattern", "error")
		return 0, err
	}
	metrics.RecordModelTraining("pattern", "ok")
	return len(seqs), nil
}

func (s *Service) retrainLoop(ctx context.Context, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			n, err := s.Retrain(ctx)
			switch {
			case errors.Is(err, pattern.ErrInsufficientData):
				s.logger.Debug(ctx, "pattern retrain skipped", logger.Error(err))
			case err != nil:
				s.logger.Warn(ctx, "pattern retrain failed", logger.Error(err))
			default:
				s.logger.Info(ctx, "pattern model retrained", logger.Int("sequences", n))
			}
		}
	}
}
