// Package simulate drives a running railflow service with synthetic telemetry.
package simulate

import (
	"errors"
	"time"
)

// ErrConfig is returned for unusable simulator settings.
var ErrConfig = errors.New("invalid simulator config")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL         string        // Base URL of the service
	Trains          int           // Number of simulated trains
	SamplesPerTrain int           // Telemetry samples per train
	Sections        []string      // Sections each train walks through, in order
	DuplicateRate   float64       // Share of samples re-sent with the same event id
	Interval        time.Duration // Spacing between samples of one train
	Start           time.Time     // Timestamp of the first sample; zero means now
	Seed            uint64        // Seed for the sample generator
	Workers         int           // Number of concurrent submitters
	Timeout         time.Duration // HTTP request timeout
	Verbose         bool          // Log every rejected request
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrConfig, errors.New("base url is required"))
	case c.Trains <= 0 || c.SamplesPerTrain <= 0:
		return errors.Join(ErrConfig, errors.New("trains and samples must be positive"))
	case len(c.Sections) == 0:
		return errors.Join(ErrConfig, errors.New("at least one section is required"))
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return errors.Join(ErrConfig, errors.New("duplicate rate must be in [0, 1]"))
	case c.Workers <= 0:
		return errors.Join(ErrConfig, errors.New("workers must be positive"))
	}
	return nil
}

// Stats holds the outcome of a run.
type Stats struct {
	Generated    int
	Duplicates   int // injected duplicates
	Submitted    int
	Accepted     int
	Duplicate    int // acknowledged as duplicate
	Backpressure int
	Failed       int

	Service map[string]any // final /stats snapshot

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// ackResponse mirrors the service's telemetry acknowledgement.
type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	EventID   string `json:"event_id"`
}
