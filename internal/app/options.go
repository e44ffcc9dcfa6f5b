package service

import (
	"time"

	repository "github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/config"
	"github.com/okian/railflow/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the process configuration. Later options override it.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the telemetry queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStore injects a store instead of the one selected by configuration.
// The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.injected = store
		}
	}
}

// WithTelemetrySource overrides the configured telemetry feed.
func WithTelemetrySource(src collect.TelemetrySource) Option {
	return func(s *Service) { s.telemetrySrc = src }
}

// WithWeatherSource overrides the configured weather feed.
func WithWeatherSource(src collect.WeatherSource) Option {
	return func(s *Service) { s.weatherSrc = src }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
