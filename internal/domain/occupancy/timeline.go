// Package occupancy keeps per-section reservation timelines and answers the
// capacity questions the scheduler and conflict detector ask of them.
package occupancy

import (
	"sort"
	"time"

	"github.com/google/btree"
)

const degree = 16

// Reservation is a train holding a section over [Start, End).
type Reservation struct {
	ID      string
	TrainID string
	Start   time.Time
	End     time.Time
}

func less(a, b Reservation) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

// Timeline is an ordered set of reservations on one section.
// It is not safe for concurrent use.
type Timeline struct {
	tree *btree.BTreeG[Reservation]
	byID map[string]Reservation
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		tree: btree.NewG[Reservation](degree, less),
		byID: make(map[string]Reservation),
	}
}

// Insert adds r, replacing any reservation with the same ID.
func (t *Timeline) Insert(r Reservation) {
	if old, ok := t.byID[r.ID]; ok {
		t.tree.Delete(old)
	}
	t.byID[r.ID] = r
	t.tree.ReplaceOrInsert(r)
}

// Remove deletes the reservation with id and reports whether it existed.
func (t *Timeline) Remove(id string) bool {
	old, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	t.tree.Delete(old)
	return true
}

// Len returns the number of reservations.
func (t *Timeline) Len() int { return t.tree.Len() }

// All returns every reservation ordered by start.
func (t *Timeline) All() []Reservation {
	out := make([]Reservation, 0, t.tree.Len())
	t.tree.Ascend(func(r Reservation) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Overlapping returns reservations intersecting [from, to), ordered by start.
func (t *Timeline) Overlapping(from, to time.Time) []Reservation {
	return t.overlapping(from, to, 0)
}

func (t *Timeline) overlapping(from, to time.Time, pad time.Duration) []Reservation {
	var out []Reservation
	t.tree.Ascend(func(r Reservation) bool {
		if !r.Start.Before(to) {
			return false
		}
		if r.End.Add(pad).After(from) {
			out = append(out, r)
		}
		return true
	})
	return out
}

// MaxConcurrent returns the peak number of reservations held simultaneously
// inside [from, to).
func (t *Timeline) MaxConcurrent(from, to time.Time) int {
	return peak(t.overlapping(from, to, 0), from, to, 0)
}

type edge struct {
	at    time.Time
	delta int
}

// peak sweeps the clipped, padded intervals of rs. Ends sort before starts at
// the same instant because intervals are half-open.
func peak(rs []Reservation, from, to time.Time, pad time.Duration) int {
	if len(rs) == 0 {
		return 0
	}
	edges := make([]edge, 0, 2*len(rs))
	for _, r := range rs {
		start, end := r.Start, r.End.Add(pad)
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if !start.Before(end) {
			continue
		}
		edges = append(edges, edge{start, 1}, edge{end, -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].at.Equal(edges[j].at) {
			return edges[i].at.Before(edges[j].at)
		}
		return edges[i].delta < edges[j].delta
	})
	cur, best := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > best {
			best = cur
		}
	}
	return best
}

// EarliestSlot returns the earliest t >= from at which [t, t+dur) can be
// reserved. Every reservation, the new one included, is padded by headway at
// its end and concurrent padded occupancy must stay within capacity. The new
// entry must also be at least headway away from every other entry.
func (t *Timeline) EarliestSlot(from time.Time, dur time.Duration, capacity int, headway time.Duration) time.Time {
	if capacity < 1 {
		capacity = 1
	}
	all := t.All()
	candidates := []time.Time{from}
	for _, r := range all {
		for _, c := range []time.Time{r.End.Add(headway), r.Start.Add(headway)} {
			if c.After(from) {
				candidates = append(candidates, c)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

	for _, c := range candidates {
		if t.fits(all, c, dur, capacity, headway) {
			return c
		}
	}
	// Unreachable: the last padded end always fits.
	return candidates[len(candidates)-1]
}

func (t *Timeline) fits(all []Reservation, at time.Time, dur time.Duration, capacity int, headway time.Duration) bool {
	if headway > 0 {
		for _, r := range all {
			d := at.Sub(r.Start)
			if d < 0 {
				d = -d
			}
			if d < headway {
				return false
			}
		}
	}
	end := at.Add(dur + headway)
	return peak(t.overlapping(at, end, headway), at, end, headway)+1 <= capacity
}
