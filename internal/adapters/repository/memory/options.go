package memory

import "time"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
