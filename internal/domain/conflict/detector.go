// Package conflict finds unsafe interactions between planned train movements
// and between movements and maintenance blocks.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/occupancy"
)

// Kind names the rule a conflict violates.
type Kind string

const (
	KindHeadway     Kind = "headway"
	KindCapacity    Kind = "capacity"
	KindSignal      Kind = "signal"
	KindMaintenance Kind = "maintenance"
)

// Conflict is one detected violation. SecondMovementID is empty for
// maintenance conflicts.
type Conflict struct {
	FirstMovementID  string    `json:"first_movement_id"`
	SecondMovementID string    `json:"second_movement_id,omitempty"`
	SectionID        string    `json:"section_id"`
	Kind             Kind      `json:"kind"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Detail           string    `json:"detail"`
}

// Detector checks movements against the safety rules.
type Detector struct {
	buffer time.Duration
}

// NewDetector creates a detector.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{buffer: DefaultSafetyBuffer}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SafetyBuffer returns the buffer applied after every exit.
func (d *Detector) SafetyBuffer() time.Duration { return d.buffer }

// Detect checks every pair of occupying movements once, in input order, then
// every movement against the maintenance blocks.
func (d *Detector) Detect(ctx context.Context, movements []model.TrainMovement, blocks []model.MaintenanceBlock) ([]Conflict, error) {
	if err := validate(movements, blocks); err != nil {
		return nil, err
	}
	active := occupying(movements)
	index := d.index(active)

	var out []Conflict
	for i := range active {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(active); j++ {
			if c, ok := d.pair(active[i], active[j], index); ok {
				out = append(out, c)
			}
		}
	}
	for _, m := range active {
		out = append(out, maintenance(m, blocks)...)
	}
	return out, nil
}

// Against checks candidate against others only. Others are assumed valid and
// conflicts among them are not reported.
func (d *Detector) Against(ctx context.Context, candidate model.TrainMovement, others []model.TrainMovement, blocks []model.MaintenanceBlock) ([]Conflict, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if !candidate.Occupies() {
		return nil, nil
	}
	active := make([]*model.TrainMovement, 0, len(others)+1)
	for _, m := range occupying(others) {
		if candidate.MovementID != "" && m.MovementID == candidate.MovementID {
			continue
		}
		if m.Section.SectionID == candidate.Section.SectionID {
			active = append(active, m)
		}
	}
	active = append(active, &candidate)
	index := d.index(active)

	var out []Conflict
	for _, m := range active[:len(active)-1] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c, ok := d.pair(m, &candidate, index); ok {
			out = append(out, c)
		}
	}
	return append(out, maintenance(&candidate, blocks)...), nil
}

func validate(movements []model.TrainMovement, blocks []model.MaintenanceBlock) error {
	for i := range movements {
		if err := movements[i].Validate(); err != nil {
			return fmt.Errorf("movement %d: %w", i, err)
		}
	}
	for i := range blocks {
		if err := blocks[i].Validate(); err != nil {
			return fmt.Errorf("maintenance block %d: %w", i, err)
		}
	}
	return nil
}

// occupying keeps movements that hold their section. A non-empty MovementID
// is kept at its first occurrence only, so a repeated movement is one train.
func occupying(movements []model.TrainMovement) []*model.TrainMovement {
	out := make([]*model.TrainMovement, 0, len(movements))
	seen := make(map[string]struct{}, len(movements))
	for i := range movements {
		m := &movements[i]
		if !m.Occupies() {
			continue
		}
		if m.MovementID != "" {
			if _, dup := seen[m.MovementID]; dup {
				continue
			}
			seen[m.MovementID] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}

// index builds buffered occupancy timelines per section.
func (d *Detector) index(active []*model.TrainMovement) map[string]*occupancy.Timeline {
	idx := make(map[string]*occupancy.Timeline)
	for n, m := range active {
		tl, ok := idx[m.Section.SectionID]
		if !ok {
			tl = occupancy.NewTimeline()
			idx[m.Section.SectionID] = tl
		}
		tl.Insert(occupancy.Reservation{
			ID:      fmt.Sprintf("%d/%s", n, m.MovementID),
			TrainID: m.Train.TrainID,
			Start:   m.EntryTime,
			End:     m.ExitTime.Add(d.buffer),
		})
	}
	return idx
}

func (d *Detector) pair(a, b *model.TrainMovement, index map[string]*occupancy.Timeline) (Conflict, bool) {
	if a.Section.SectionID != b.Section.SectionID {
		return Conflict{}, false
	}
	if a.MovementID != "" && a.MovementID == b.MovementID {
		return Conflict{}, false
	}
	c := Conflict{FirstMovementID: a.MovementID, SecondMovementID: b.MovementID, SectionID: a.Section.SectionID}

	lo, hi, ok := intersect(a.EntryTime, a.ExitTime.Add(d.buffer), b.EntryTime, b.ExitTime.Add(d.buffer))
	if !ok {
		return Conflict{}, false
	}
	gap := a.EntryTime.Sub(b.EntryTime)
	if gap < 0 {
		gap = -gap
	}
	if gap < d.buffer {
		c.Kind, c.WindowStart, c.WindowEnd = KindHeadway, lo, hi
		c.Detail = fmt.Sprintf("entries %s apart, below safety buffer %s", gap, d.buffer)
		return c, true
	}

	capacity := a.Section.Capacity
	if b.Section.Capacity < capacity {
		capacity = b.Section.Capacity
	}
	if peak := index[c.SectionID].MaxConcurrent(lo, hi); peak > capacity {
		c.Kind, c.WindowStart, c.WindowEnd = KindCapacity, lo, hi
		c.Detail = fmt.Sprintf("%d trains on a section with capacity %d", peak, capacity)
		return c, true
	}

	if capacity >= 2 && a.Section.StartPoint == b.Section.StartPoint {
		if from, to, block, same := sharedBlock(a, b); same {
			c.Kind, c.WindowStart, c.WindowEnd = KindSignal, from, to
			c.Detail = fmt.Sprintf("trains %s and %s share signal block %d", a.Train.TrainID, b.Train.TrainID, block)
			return c, true
		}
	}
	return Conflict{}, false
}

func maintenance(m *model.TrainMovement, blocks []model.MaintenanceBlock) []Conflict {
	var out []Conflict
	for i := range blocks {
		b := &blocks[i]
		if b.SectionID != m.Section.SectionID || !b.Overlaps(m.EntryTime, m.ExitTime) {
			continue
		}
		var detail string
		switch {
		case b.Closure():
			detail = fmt.Sprintf("block %s closes the section", b.BlockID)
		case *b.SpeedRestriction < m.PlannedSpeed:
			detail = fmt.Sprintf("block %s limits speed to %.0f km/h, planned %.0f km/h",
				b.BlockID, *b.SpeedRestriction, m.PlannedSpeed)
		default:
			continue
		}
		lo, hi, _ := intersect(m.EntryTime, m.ExitTime, b.StartTime, b.EndTime)
		out = append(out, Conflict{
			FirstMovementID: m.MovementID,
			SectionID:       m.Section.SectionID,
			Kind:            KindMaintenance,
			WindowStart:     lo,
			WindowEnd:       hi,
			Detail:          detail,
		})
	}
	return out
}

func intersect(aFrom, aTo, bFrom, bTo time.Time) (time.Time, time.Time, bool) {
	lo, hi := aFrom, aTo
	if bFrom.After(lo) {
		lo = bFrom
	}
	if bTo.Before(hi) {
		hi = bTo
	}
	return lo, hi, lo.Before(hi)
}

// sharedBlock reports the first interval in which both trains are inside the
// same signal block. Trains move at constant speed across the section, so
// block membership only changes when a train passes a signal.
func sharedBlock(a, b *model.TrainMovement) (time.Time, time.Time, int, bool) {
	lo, hi, ok := intersect(a.EntryTime, a.ExitTime, b.EntryTime, b.ExitTime)
	if !ok {
		return time.Time{}, time.Time{}, 0, false
	}
	signals := a.Section.SignalPositions
	length := a.Section.Length

	cuts := []time.Time{lo, hi}
	for _, m := range []*model.TrainMovement{a, b} {
		for _, s := range signals {
			t := m.EntryTime.Add(time.Duration(float64(m.Duration()) * s / length))
			if t.After(lo) && t.Before(hi) {
				cuts = append(cuts, t)
			}
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })

	for k := 0; k+1 < len(cuts); k++ {
		from, to := cuts[k], cuts[k+1]
		if !from.Before(to) {
			continue
		}
		mid := from.Add(to.Sub(from) / 2)
		ba, bb := blockAt(a, mid, signals), blockAt(b, mid, signals)
		if ba == bb {
			return from, to, ba, true
		}
	}
	return time.Time{}, time.Time{}, 0, false
}

func blockAt(m *model.TrainMovement, at time.Time, signals []float64) int {
	frac := float64(at.Sub(m.EntryTime)) / float64(m.Duration())
	pos := frac * m.Section.Length
	return sort.SearchFloat64s(signals, pos)
}
