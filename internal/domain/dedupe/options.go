package dedupe

// Option configures the in-memory deduper.
type Option func(*window)

// WithMaxSize sets how many ids are remembered before the oldest is evicted.
// Zero or a negative value keeps every id.
func WithMaxSize(maxSize int) Option {
	return func(w *window) {
		w.maxSize = maxSize
	}
}
