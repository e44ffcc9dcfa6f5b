package memory

import (
	"math"
	"time"

	"github.com/google/btree"
)

const treeDegree = 32

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// point is one timestamped value filed under a key. seq keeps inserts with
// equal timestamps in arrival order.
type point[T any] struct {
	key string
	at  time.Time
	seq uint64
	val T
}

func pointLess[T any](a, b point[T]) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

// series is a B-tree ordered by (key, time, seq).
type series[T any] struct {
	tree *btree.BTreeG[point[T]]
}

func newSeries[T any]() *series[T] {
	return &series[T]{tree: btree.NewG(treeDegree, pointLess[T])}
}

func (s *series[T]) add(key string, at time.Time, seq uint64, v T) {
	s.tree.ReplaceOrInsert(point[T]{key: key, at: at, seq: seq, val: v})
}

// between returns the values of key with from <= at <= to.
func (s *series[T]) between(key string, from, to time.Time) []T {
	out := []T{}
	if to.Before(from) {
		return out
	}
	lo := point[T]{key: key, at: from}
	hi := point[T]{key: key, at: to, seq: math.MaxUint64}
	s.tree.AscendGreaterOrEqual(lo, func(p point[T]) bool {
		if pointLess(hi, p) {
			return false
		}
		out = append(out, p.val)
		return true
	})
	return out
}

// latest returns the newest value of key.
func (s *series[T]) latest(key string) (T, bool) {
	var (
		found T
		ok    bool
	)
	pivot := point[T]{key: key, at: farFuture, seq: math.MaxUint64}
	s.tree.DescendLessOrEqual(pivot, func(p point[T]) bool {
		if p.key == key {
			found, ok = p.val, true
		}
		return false
	})
	return found, ok
}

func (s *series[T]) len() int { return s.tree.Len() }
