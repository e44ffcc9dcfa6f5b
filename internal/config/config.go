// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Durations are configured as integer seconds or milliseconds and exposed
//     as time.Duration through accessor methods.
//   - All loaders accept context.Context as the first parameter.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8000".
	Addr string `koanf:"addr"`
	// CORSAllowedOrigins lists origins allowed to call the API from a browser.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// DatabaseURL is a PostgreSQL DSN. Empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`
	PGMaxConns  int    `koanf:"pg_max_conns"`

	// NetworkFile optionally points to a YAML network description used to
	// seed track sections and rolling stock at startup.
	NetworkFile string `koanf:"network_file"`

	// External feeds used by the collector. Empty disables the feed.
	TelemetryFeedURL string `koanf:"telemetry_feed_url"`
	WeatherFeedURL   string `koanf:"weather_feed_url"`
	FeedTimeoutMS    int    `koanf:"feed_timeout_ms"`

	// Ingestion pipeline.
	QueueSize   int `koanf:"queue_size"`
	WorkerCount int `koanf:"worker_count"`
	DedupeSize  int `koanf:"dedupe_size"`

	// Model limits.
	MaxTrains       int `koanf:"max_trains"`
	MaxSections     int `koanf:"max_sections"`
	TimeWindowHours int `koanf:"time_window_hours"`

	// Optimization parameters (seconds).
	SafetyBufferS      int `koanf:"safety_buffer_s"`
	MinStoppingTimeS   int `koanf:"min_stopping_time_s"`
	MaxDelayThresholdS int `koanf:"max_delay_threshold_s"`

	// Machine learning parameters.
	PredictionHorizonS    int     `koanf:"prediction_horizon_s"`
	ModelUpdateFrequencyS int     `koanf:"model_update_frequency_s"`
	SequenceLength        int     `koanf:"sequence_length"`
	AnomalyContamination  float64 `koanf:"anomaly_contamination"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":8000",
		CORSAllowedOrigins:    []string{"*"},
		PGMaxConns:            8,
		FeedTimeoutMS:         5000,
		QueueSize:             50_000,
		WorkerCount:           runtime.NumCPU() * 2,
		DedupeSize:            200_000,
		MaxTrains:             100,
		MaxSections:           50,
		TimeWindowHours:       24,
		SafetyBufferS:         300,
		MinStoppingTimeS:      60,
		MaxDelayThresholdS:    1800,
		PredictionHorizonS:    3600,
		ModelUpdateFrequencyS: 3600,
		SequenceLength:        24,
		AnomalyContamination:  0.1,
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MaxTrains < 1:
		return fmt.Errorf("%w: max_trains must be positive", ErrInvalidConfig)
	case c.MaxSections < 1:
		return fmt.Errorf("%w: max_sections must be positive", ErrInvalidConfig)
	case c.TimeWindowHours < 1:
		return fmt.Errorf("%w: time_window_hours must be positive", ErrInvalidConfig)
	case c.SafetyBufferS < 0 || c.MinStoppingTimeS < 0 || c.MaxDelayThresholdS < 0:
		return fmt.Errorf("%w: optimization parameters must not be negative", ErrInvalidConfig)
	case c.SequenceLength < 2:
		return fmt.Errorf("%w: sequence_length must be at least 2", ErrInvalidConfig)
	case c.AnomalyContamination <= 0 || c.AnomalyContamination >= 0.5:
		return fmt.Errorf("%w: anomaly_contamination must be in (0, 0.5)", ErrInvalidConfig)
	}
	return nil
}

// TimeWindow is the planning horizon of the optimizer.
func (c *Config) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowHours) * time.Hour
}

func (c *Config) SafetyBuffer() time.Duration {
	return time.Duration(c.SafetyBufferS) * time.Second
}

func (c *Config) MinStoppingTime() time.Duration {
	return time.Duration(c.MinStoppingTimeS) * time.Second
}

func (c *Config) MaxDelayThreshold() time.Duration {
	return time.Duration(c.MaxDelayThresholdS) * time.Second
}

func (c *Config) PredictionHorizon() time.Duration {
	return time.Duration(c.PredictionHorizonS) * time.Second
}

func (c *Config) ModelUpdateFrequency() time.Duration {
	return time.Duration(c.ModelUpdateFrequencyS) * time.Second
}

func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.FeedTimeoutMS) * time.Millisecond
}
