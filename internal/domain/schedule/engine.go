// Package schedule plans train movements over a set of sections so that
// higher-priority trains are delayed least and no safety rule is broken.
package schedule

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/occupancy"
)

// Action is the kind of decision-support recommendation.
type Action string

const (
	ActionHold             Action = "hold"
	ActionSpeedRestriction Action = "speed_restriction"
	ActionEscalate         Action = "escalate"
	ActionNoRoute          Action = "no_route"
	ActionOutsideWindow    Action = "outside_window"
)

// Recommendation is advice for the section controller. The engine never
// actuates anything.
type Recommendation struct {
	ID             string   `json:"id"`
	TrainID        string   `json:"train_id"`
	SectionID      string   `json:"section_id,omitempty"`
	Action         Action   `json:"action"`
	Seconds        int      `json:"seconds,omitempty"`
	SpeedLimit     float64  `json:"speed_limit,omitempty"`
	BlockingTrains []string `json:"blocking_trains,omitempty"`
	Message        string   `json:"message"`
}

// Request is the input of one optimization run. A zero Start means now.
type Request struct {
	Trains            []model.Train            `json:"trains"`
	Sections          []model.Section          `json:"sections"`
	CurrentMovements  []model.TrainMovement    `json:"current_movements"`
	MaintenanceBlocks []model.MaintenanceBlock `json:"maintenance_blocks,omitempty"`
	Start             time.Time                `json:"start,omitempty"`
	// GridStep, in seconds, asks for the time-space occupancy grid of the
	// plan sampled at that step. Zero leaves the grid out.
	GridStep int `json:"grid_step,omitempty"`
}

// MaxGridRows bounds the rows of a plan's time-space grid.
const MaxGridRows = 1440

// Plan is the optimized movement schedule.
type Plan struct {
	Start           time.Time             `json:"start"`
	Movements       []model.TrainMovement `json:"movements"`
	Recommendations []Recommendation      `json:"recommendations"`
	TrainDelays     map[string]int        `json:"train_delays"`
	TotalDelay      int                   `json:"total_delay"`
	WeightedDelay   float64               `json:"weighted_delay"`
	Unscheduled     []string              `json:"unscheduled"`
	Grid            *occupancy.Grid       `json:"grid,omitempty"`
}

// Engine is a greedy priority scheduler over per-section occupancy timelines.
// Trains are placed one at a time in priority order; each section entry is the
// earliest slot that satisfies capacity, headway, signal and maintenance rules.
type Engine struct {
	buffer      time.Duration
	minStop     time.Duration
	maxDelay    time.Duration
	window      time.Duration
	maxTrains   int
	maxSections int
	now         func() time.Time
	detector    *conflict.Detector
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		buffer:      DefaultSafetyBuffer,
		minStop:     DefaultMinStoppingTime,
		maxDelay:    DefaultMaxDelayThreshold,
		window:      DefaultTimeWindow,
		maxTrains:   DefaultMaxTrains,
		maxSections: DefaultMaxSections,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.detector = conflict.NewDetector(conflict.WithSafetyBuffer(e.buffer))
	return e
}

// Detector returns the conflict detector sharing the engine's safety buffer.
func (e *Engine) Detector() *conflict.Detector { return e.detector }

// run holds the state of a single Optimize call.
type run struct {
	e         *Engine
	req       Request
	start     time.Time
	deadline  time.Time
	timelines map[string]*occupancy.Timeline
	placed    map[string][]model.TrainMovement // by section id
	plan      *Plan
}

// Optimize plans every train in req.
func (e *Engine) Optimize(ctx context.Context, req Request) (*Plan, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	start := req.Start
	if start.IsZero() {
		start = e.now()
	}
	r := &run{
		e:         e,
		req:       req,
		start:     start,
		deadline:  start.Add(e.window),
		timelines: make(map[string]*occupancy.Timeline),
		placed:    make(map[string][]model.TrainMovement),
		plan: &Plan{
			Start:           start,
			Movements:       []model.TrainMovement{},
			Recommendations: []Recommendation{},
			TrainDelays:     make(map[string]int),
			Unscheduled:     []string{},
		},
	}
	ready := r.reserveCurrent()

	trains := append([]model.Train(nil), req.Trains...)
	sort.SliceStable(trains, func(i, j int) bool {
		a, b := trains[i], trains[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.ScheduledArrival.Equal(b.ScheduledArrival) {
			return a.ScheduledArrival.Before(b.ScheduledArrival)
		}
		return a.TrainID < b.TrainID
	})

	g := newGraph(req.Sections)
	for i := range trains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tr := &trains[i]
		at := start
		if t, ok := ready[tr.TrainID]; ok && t.After(at) {
			at = t
		}
		if err := r.planTrain(ctx, g, tr, at); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(r.plan.Movements, func(i, j int) bool {
		return r.plan.Movements[i].EntryTime.Before(r.plan.Movements[j].EntryTime)
	})
	if req.GridStep > 0 {
		all := append(append([]model.TrainMovement(nil), req.CurrentMovements...), r.plan.Movements...)
		grid, err := CreateTimeSpaceGrid(req.Sections, all, start, e.window, time.Duration(req.GridStep)*time.Second)
		if err != nil {
			return nil, err
		}
		r.plan.Grid = grid
	}
	return r.plan, nil
}

func (e *Engine) check(req Request) error {
	if len(req.Trains) > e.maxTrains {
		return fmt.Errorf("%w: %d trains, max %d", ErrLimitExceeded, len(req.Trains), e.maxTrains)
	}
	if len(req.Sections) > e.maxSections {
		return fmt.Errorf("%w: %d sections, max %d", ErrLimitExceeded, len(req.Sections), e.maxSections)
	}
	switch step := time.Duration(req.GridStep) * time.Second; {
	case req.GridStep < 0:
		return fmt.Errorf("%w: grid_step must not be negative", model.ErrInvalid)
	case step > 0 && e.window/step > MaxGridRows:
		return fmt.Errorf("%w: grid_step %ds gives more than %d rows", ErrLimitExceeded, req.GridStep, MaxGridRows)
	}
	seen := make(map[string]bool, len(req.Trains))
	for i := range req.Trains {
		t := &req.Trains[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.TrainID] {
			return fmt.Errorf("%w: duplicate train_id %q", model.ErrInvalid, t.TrainID)
		}
		seen[t.TrainID] = true
	}
	seen = make(map[string]bool, len(req.Sections))
	for i := range req.Sections {
		s := &req.Sections[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.SectionID] {
			return fmt.Errorf("%w: duplicate section_id %q", model.ErrInvalid, s.SectionID)
		}
		seen[s.SectionID] = true
	}
	seen = make(map[string]bool, len(req.CurrentMovements))
	for i := range req.CurrentMovements {
		m := &req.CurrentMovements[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if m.MovementID != "" && seen[m.MovementID] {
			return fmt.Errorf("%w: duplicate movement_id %q", model.ErrInvalid, m.MovementID)
		}
		seen[m.MovementID] = true
	}
	for i := range req.MaintenanceBlocks {
		if err := req.MaintenanceBlocks[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// reserveCurrent books the occupancy of movements already under way and
// returns, per train, the time its last current movement ends.
func (r *run) reserveCurrent() map[string]time.Time {
	ready := make(map[string]time.Time)
	for _, m := range r.req.CurrentMovements {
		if !m.Occupies() {
			continue
		}
		if m.MovementID == "" {
			m.MovementID = uuid.NewString()
		}
		r.commit(m)
		if m.ExitTime.After(ready[m.Train.TrainID]) {
			ready[m.Train.TrainID] = m.ExitTime
		}
	}
	return ready
}

func (r *run) timeline(sectionID string) *occupancy.Timeline {
	tl, ok := r.timelines[sectionID]
	if !ok {
		tl = occupancy.NewTimeline()
		r.timelines[sectionID] = tl
	}
	return tl
}

func (r *run) commit(m model.TrainMovement) {
	r.timeline(m.Section.SectionID).Insert(occupancy.Reservation{
		ID: m.MovementID, TrainID: m.Train.TrainID, Start: m.EntryTime, End: m.ExitTime,
	})
	r.placed[m.Section.SectionID] = append(r.placed[m.Section.SectionID], m)
}

func (r *run) recommend(rec Recommendation) {
	rec.ID = uuid.NewString()
	r.plan.Recommendations = append(r.plan.Recommendations, rec)
}

func (r *run) unschedule(tr *model.Train, action Action, sectionID, msg string) {
	r.plan.Unscheduled = append(r.plan.Unscheduled, tr.TrainID)
	r.recommend(Recommendation{TrainID: tr.TrainID, SectionID: sectionID, Action: action, Message: msg})
}

func (r *run) planTrain(ctx context.Context, g graph, tr *model.Train, ready time.Time) error {
	hops, ok := g.route(tr.CurrentPosition, tr.Destination, tr.Speed)
	if !ok {
		r.unschedule(tr, ActionNoRoute, "",
			fmt.Sprintf("no route from %s to %s", tr.CurrentPosition, tr.Destination))
		return nil
	}

	var (
		moves []model.TrainMovement
		recs  []Recommendation
	)
	at := ready
	for _, h := range hops {
		p, err := r.place(ctx, tr, h.section, at)
		if err != nil {
			return err
		}
		if p.outside {
			r.unschedule(tr, ActionOutsideWindow, h.section.SectionID,
				fmt.Sprintf("no slot on %s before %s", h.section.SectionID, r.deadline.Format(time.RFC3339)))
			return nil
		}
		moves = append(moves, p.movement)
		recs = append(recs, p.recs...)
		at = p.movement.ExitTime
	}

	for _, m := range moves {
		r.commit(m)
		r.plan.Movements = append(r.plan.Movements, m)
	}
	for _, rec := range recs {
		r.recommend(rec)
	}

	delay := 0
	if at.After(tr.ScheduledArrival) {
		delay = int(math.Ceil(at.Sub(tr.ScheduledArrival).Seconds()))
	}
	r.plan.TrainDelays[tr.TrainID] = delay
	r.plan.TotalDelay += delay
	r.plan.WeightedDelay += float64(delay) * tr.Priority.Weight()
	if time.Duration(delay)*time.Second > r.e.maxDelay {
		r.recommend(Recommendation{
			TrainID: tr.TrainID,
			Action:  ActionEscalate,
			Seconds: delay,
			Message: fmt.Sprintf("planned delay %ds exceeds threshold %ds", delay, int(r.e.maxDelay.Seconds())),
		})
	}
	return nil
}

type placement struct {
	movement model.TrainMovement
	recs     []Recommendation
	outside  bool
}

// place finds the earliest safe entry to section for tr at or after ready.
// Every adjustment moves entry strictly forward, so the loop ends at the
// planning deadline at the latest.
func (r *run) place(ctx context.Context, tr *model.Train, section model.Section, ready time.Time) (placement, error) {
	tl := r.timeline(section.SectionID)
	dwell := time.Duration(0)
	if tr.StopsAt(section.EndPoint) {
		dwell = r.e.minStop
	}
	base := math.Min(tr.Speed, section.MaxSpeed)
	entry := ready

	for {
		if err := ctx.Err(); err != nil {
			return placement{}, err
		}
		if entry.After(r.deadline) {
			return placement{outside: true}, nil
		}

		speed, restriction := r.speedFor(section, entry, base, dwell)
		dur := section.TraversalTime(speed) + dwell
		exit := entry.Add(dur)

		if b := r.closure(section.SectionID, entry, exit); b != nil {
			entry = b.EndTime
			continue
		}
		if slot := tl.EarliestSlot(entry, dur, section.Capacity, r.e.buffer); slot.After(entry) {
			entry = slot
			continue
		}

		m := model.TrainMovement{
			MovementID:   uuid.NewString(),
			Train:        *tr,
			Section:      section,
			EntryTime:    entry,
			ExitTime:     exit,
			PlannedSpeed: speed,
			Status:       model.MovementScheduled,
		}
		conflicts, err := r.e.detector.Against(ctx, m, r.placed[section.SectionID], r.req.MaintenanceBlocks)
		if err != nil {
			return placement{}, err
		}
		if len(conflicts) > 0 {
			entry = r.bump(entry, section.SectionID, conflicts)
			continue
		}

		p := placement{movement: m}
		if entry.After(ready) {
			p.recs = append(p.recs, r.hold(tr, section.SectionID, ready, entry))
		}
		if restriction != nil {
			p.recs = append(p.recs, Recommendation{
				TrainID:    tr.TrainID,
				SectionID:  section.SectionID,
				Action:     ActionSpeedRestriction,
				SpeedLimit: speed,
				Message: fmt.Sprintf("run %s at %.0f km/h for maintenance block %s",
					section.SectionID, speed, restriction.BlockID),
			})
		}
		return p, nil
	}
}

// speedFor lowers base until no enforced speed restriction overlapping the
// resulting occupancy is below it.
func (r *run) speedFor(section model.Section, entry time.Time, base float64, dwell time.Duration) (float64, *model.MaintenanceBlock) {
	speed := base
	var by *model.MaintenanceBlock
	for {
		exit := entry.Add(section.TraversalTime(speed) + dwell)
		lowered := false
		for i := range r.req.MaintenanceBlocks {
			b := &r.req.MaintenanceBlocks[i]
			if b.SectionID != section.SectionID || b.Closure() || !b.Overlaps(entry, exit) {
				continue
			}
			if *b.SpeedRestriction < speed {
				speed, by, lowered = *b.SpeedRestriction, b, true
			}
		}
		if !lowered {
			return speed, by
		}
	}
}

func (r *run) closure(sectionID string, entry, exit time.Time) *model.MaintenanceBlock {
	var found *model.MaintenanceBlock
	for i := range r.req.MaintenanceBlocks {
		b := &r.req.MaintenanceBlocks[i]
		if b.SectionID == sectionID && b.Closure() && b.Overlaps(entry, exit) {
			if found == nil || b.EndTime.After(found.EndTime) {
				found = b
			}
		}
	}
	return found
}

// bump returns the next entry worth trying after the given conflicts.
func (r *run) bump(entry time.Time, sectionID string, conflicts []conflict.Conflict) time.Time {
	next := entry
	for _, c := range conflicts {
		other, ok := r.find(sectionID, c.FirstMovementID)
		if !ok {
			continue
		}
		t := other.ExitTime.Add(r.e.buffer)
		if c.Kind == conflict.KindHeadway {
			t = other.EntryTime.Add(r.e.buffer)
		}
		if t.After(next) {
			next = t
		}
	}
	if !next.After(entry) {
		next = entry.Add(time.Second)
	}
	return next
}

func (r *run) find(sectionID, movementID string) (model.TrainMovement, bool) {
	for _, m := range r.placed[sectionID] {
		if m.MovementID == movementID {
			return m, true
		}
	}
	return model.TrainMovement{}, false
}

func (r *run) hold(tr *model.Train, sectionID string, ready, entry time.Time) Recommendation {
	var blocking []string
	seen := map[string]bool{tr.TrainID: true}
	for _, res := range r.timeline(sectionID).Overlapping(ready.Add(-r.e.buffer), entry) {
		if !seen[res.TrainID] {
			seen[res.TrainID] = true
			blocking = append(blocking, res.TrainID)
		}
	}
	wait := int(math.Ceil(entry.Sub(ready).Seconds()))
	return Recommendation{
		TrainID:        tr.TrainID,
		SectionID:      sectionID,
		Action:         ActionHold,
		Seconds:        wait,
		BlockingTrains: blocking,
		Message:        fmt.Sprintf("hold %s for %ds before entering %s", tr.TrainID, wait, sectionID),
	}
}

// CreateTimeSpaceGrid samples the occupancy of movements on sections from
// from over window in buckets of step.
func CreateTimeSpaceGrid(sections []model.Section, movements []model.TrainMovement, from time.Time, window, step time.Duration) (*occupancy.Grid, error) {
	timelines := make(map[string]*occupancy.Timeline)
	for i, m := range movements {
		if !m.Occupies() {
			continue
		}
		tl, ok := timelines[m.Section.SectionID]
		if !ok {
			tl = occupancy.NewTimeline()
			timelines[m.Section.SectionID] = tl
		}
		tl.Insert(occupancy.Reservation{
			ID: fmt.Sprintf("%d/%s", i, m.MovementID), TrainID: m.Train.TrainID,
			Start: m.EntryTime, End: m.ExitTime,
		})
	}
	ids := make([]string, len(sections))
	for i := range sections {
		ids[i] = sections[i].SectionID
	}
	return occupancy.NewGrid(ids, timelines, from, window, step)
}
