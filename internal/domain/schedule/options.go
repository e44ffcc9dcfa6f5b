package schedule

import "time"

// Defaults for the engine's operating envelope.
const (
	DefaultSafetyBuffer      = 300 * time.Second
	DefaultMinStoppingTime   = 60 * time.Second
	DefaultMaxDelayThreshold = 1800 * time.Second
	DefaultTimeWindow        = 24 * time.Hour
	DefaultMaxTrains         = 100
	DefaultMaxSections       = 50
)

// Option configures an Engine.
type Option func(*Engine)

// WithSafetyBuffer sets the clearance between trains on a section.
func WithSafetyBuffer(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.buffer = d
		}
	}
}

// WithMinStoppingTime sets the dwell at stops and at the destination.
func WithMinStoppingTime(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.minStop = d
		}
	}
}

// WithMaxDelayThreshold sets the delay above which a train is escalated.
func WithMaxDelayThreshold(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxDelay = d
		}
	}
}

// WithTimeWindow sets the planning horizon.
func WithTimeWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithMaxTrains caps the trains accepted per request.
func WithMaxTrains(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTrains = n
		}
	}
}

// WithMaxSections caps the sections accepted per request.
func WithMaxSections(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSections = n
		}
	}
}

// WithClock sets the time source used when a request has no start.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
