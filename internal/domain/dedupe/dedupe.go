// Package dedupe tracks telemetry event ids so each event is ingested once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// DefaultMaxSize bounds the number of remembered ids.
const DefaultMaxSize = 200000

// Deduper remembers event ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded and records it
	// when it was not. The check and the write are atomic.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a rejected event can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
	Evictions() int64
}

// window remembers ids in arrival order and evicts the oldest once full.
// A non-positive maxSize disables eviction.
type window struct {
	mu        sync.Mutex
	maxSize   int
	order     *list.List
	index     map[string]*list.Element
	evictions int64
}

// NewInMemoryDeduper creates a deduper bounded by WithMaxSize.
func NewInMemoryDeduper(opts ...Option) Deduper {
	w := &window{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(w)
	}
	w.order = list.New()
	w.index = make(map[string]*list.Element)
	return w
}

func (w *window) SeenAndRecord(_ context.Context, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.index[id]; ok {
		return true
	}
	if w.maxSize > 0 && w.order.Len() >= w.maxSize {
		oldest := w.order.Front()
		delete(w.index, oldest.Value.(string))
		w.order.Remove(oldest)
		w.evictions++
	}
	w.index[id] = w.order.PushBack(id)
	return false
}

func (w *window) Unrecord(_ context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[id]; ok {
		w.order.Remove(el)
		delete(w.index, id)
	}
}

func (w *window) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.order.Len())
}

func (w *window) Evictions() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.evictions
}
