package conflict

import "time"

// DefaultSafetyBuffer is the clearance required after a train leaves a section.
const DefaultSafetyBuffer = 300 * time.Second

// Option configures a Detector.
type Option func(*Detector)

// WithSafetyBuffer sets the safety buffer. Negative values are ignored.
func WithSafetyBuffer(d time.Duration) Option {
	return func(det *Detector) {
		if d >= 0 {
			det.buffer = d
		}
	}
}
