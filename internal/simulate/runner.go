package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/railflow/pkg/logger"
)

// Run generates telemetry, submits it and returns the outcome with the
// service's own /stats snapshot.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting railflow simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("trains", cfg.Trains),
		logger.Int("samplesPerTrain", cfg.SamplesPerTrain),
		logger.Any("sections", cfg.Sections),
		logger.Float64("duplicateRate", cfg.DuplicateRate),
		logger.Int("workers", cfg.Workers))

	c := newClient(cfg)
	if err := checkHealth(ctx, c); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	start := cfg.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(time.Second)
	}
	samples, dups := generate(cfg, start)
	stats.Generated = len(samples)
	stats.Duplicates = dups

	submitAll(ctx, cfg, c, samples, stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("simulation interrupted: %w", err)
	}

	svc, err := fetchStats(ctx, c)
	if err != nil {
		log.Warn(ctx, "failed to read service stats", logger.Error(err))
	}
	stats.Service = svc

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	report(ctx, log, stats)
	return stats, nil
}

func checkHealth(ctx context.Context, c *client) error {
	resp, err := c.get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func fetchStats(ctx context.Context, c *client) (map[string]any, error) {
	resp, err := c.get(ctx, "/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func report(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "simulation finished",
		logger.Int("generated", stats.Generated),
		logger.Int("injectedDuplicates", stats.Duplicates),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("backpressure", stats.Backpressure),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration),
		logger.Float64("samplesPerSecond", perSecond),
		logger.Any("service", stats.Service))
}
