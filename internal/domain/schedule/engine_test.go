package schedule_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/schedule"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

// line is A -AB- B -BC- C, 10 km each at 100 km/h: six minutes per section.
func line(capacity int) []model.Section {
	return []model.Section{
		{SectionID: "AB", StartPoint: "A", EndPoint: "B", Length: 10, MaxSpeed: 100, Capacity: capacity},
		{SectionID: "BC", StartPoint: "B", EndPoint: "C", Length: 10, MaxSpeed: 100, Capacity: capacity},
	}
}

func train(id string, p model.TrainPriority, from, to string, arrive int) model.Train {
	return model.Train{
		TrainID: id, TrainType: model.TrainExpress, Priority: p,
		CurrentPosition: from, Destination: to, ScheduledArrival: at(arrive), Speed: 100, Length: 150,
	}
}

func speed(v float64) *float64 { return &v }

func movementsOf(plan *schedule.Plan, trainID string) []model.TrainMovement {
	var out []model.TrainMovement
	for _, m := range plan.Movements {
		if m.Train.TrainID == trainID {
			out = append(out, m)
		}
	}
	return out
}

func recsOf(plan *schedule.Plan, trainID string, action schedule.Action) []schedule.Recommendation {
	var out []schedule.Recommendation
	for _, r := range plan.Recommendations {
		if r.TrainID == trainID && r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

func TestOptimizeSingleTrain(t *testing.T) {
	Convey("Given an engine and a two-section line", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine()

		Convey("When one train runs end to end", func() {
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:   []model.Train{train("IC1", model.PriorityHigh, "A", "C", 20)},
				Sections: line(1),
				Start:    t0,
			})

			Convey("Then it runs unhindered and dwells at the destination", func() {
				So(err, ShouldBeNil)
				ms := movementsOf(plan, "IC1")
				So(len(ms), ShouldEqual, 2)
				So(ms[0].Section.SectionID, ShouldEqual, "AB")
				So(ms[0].EntryTime, ShouldEqual, at(0))
				So(ms[0].ExitTime, ShouldEqual, at(6))
				So(ms[1].Section.SectionID, ShouldEqual, "BC")
				So(ms[1].ExitTime, ShouldEqual, at(13))
				So(ms[1].PlannedSpeed, ShouldEqual, 100)
				So(plan.TrainDelays["IC1"], ShouldEqual, 0)
				So(plan.TotalDelay, ShouldEqual, 0)
				So(plan.Unscheduled, ShouldBeEmpty)
			})
		})

		Convey("When a train runs against the section direction", func() {
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:   []model.Train{train("UP", model.PriorityHigh, "C", "A", 20)},
				Sections: line(1),
				Start:    t0,
			})

			Convey("Then its movements carry reversed sections", func() {
				So(err, ShouldBeNil)
				ms := movementsOf(plan, "UP")
				So(len(ms), ShouldEqual, 2)
				So(ms[0].Section.SectionID, ShouldEqual, "BC")
				So(ms[0].Section.StartPoint, ShouldEqual, "C")
				So(ms[1].Section.EndPoint, ShouldEqual, "A")
			})
		})

		Convey("When no start is given", func() {
			clocked := schedule.NewEngine(schedule.WithClock(func() time.Time { return at(30) }))
			plan, err := clocked.Optimize(ctx, schedule.Request{
				Trains:   []model.Train{train("IC1", model.PriorityHigh, "A", "B", 60)},
				Sections: line(1),
			})
			So(err, ShouldBeNil)
			So(plan.Start, ShouldEqual, at(30))
			So(plan.Movements[0].EntryTime, ShouldEqual, at(30))
		})
	})
}

func TestOptimizePriority(t *testing.T) {
	Convey("Given two trains competing for a single-track line", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine()
		req := schedule.Request{
			Trains: []model.Train{
				train("FRT", model.PriorityLow, "A", "C", 20),
				train("EXP", model.PriorityHigh, "A", "C", 20),
			},
			Sections: line(1),
			Start:    t0,
		}

		Convey("When optimizing", func() {
			plan, err := e.Optimize(ctx, req)
			So(err, ShouldBeNil)

			Convey("Then the higher priority train goes first", func() {
				exp := movementsOf(plan, "EXP")
				So(exp[0].EntryTime, ShouldEqual, at(0))
				So(plan.TrainDelays["EXP"], ShouldEqual, 0)
			})

			Convey("Then the lower priority train is held behind it", func() {
				frt := movementsOf(plan, "FRT")
				So(frt[0].EntryTime, ShouldEqual, at(11))
				So(frt[1].EntryTime, ShouldEqual, at(18))
				So(plan.TrainDelays["FRT"], ShouldEqual, 300)
				So(plan.TotalDelay, ShouldEqual, 300)
				So(plan.WeightedDelay, ShouldEqual, 600)

				holds := recsOf(plan, "FRT", schedule.ActionHold)
				So(len(holds), ShouldEqual, 2)
				So(holds[0].Seconds, ShouldEqual, 660)
				So(holds[0].BlockingTrains, ShouldResemble, []string{"EXP"})
			})

			Convey("Then the plan is conflict free", func() {
				conflicts, err := e.Detector().Detect(ctx, plan.Movements, nil)
				So(err, ShouldBeNil)
				So(conflicts, ShouldBeEmpty)
			})
		})
	})
}

func TestOptimizeMaintenance(t *testing.T) {
	Convey("Given maintenance on the line", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine()
		blocks := []model.MaintenanceBlock{
			{BlockID: "close-ab", SectionID: "AB", StartTime: at(-10), EndTime: at(30), Type: "renewal", Status: model.MaintenanceInProgress},
			{BlockID: "slow-bc", SectionID: "BC", StartTime: at(0), EndTime: at(120), Type: "inspection", Status: model.MaintenanceScheduled, SpeedRestriction: speed(50)},
		}

		Convey("When a train must cross both sections", func() {
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:            []model.Train{train("IC1", model.PriorityHigh, "A", "C", 20)},
				Sections:          line(1),
				MaintenanceBlocks: blocks,
				Start:             t0,
			})
			So(err, ShouldBeNil)
			ms := movementsOf(plan, "IC1")

			Convey("Then the closure delays entry to its end", func() {
				So(ms[0].EntryTime, ShouldEqual, at(30))
				So(len(recsOf(plan, "IC1", schedule.ActionHold)), ShouldEqual, 1)
			})

			Convey("Then the restriction slows the train", func() {
				So(ms[1].PlannedSpeed, ShouldEqual, 50)
				So(ms[1].ExitTime, ShouldEqual, at(36+12+1))
				recs := recsOf(plan, "IC1", schedule.ActionSpeedRestriction)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].SpeedLimit, ShouldEqual, 50)
			})

			Convey("Then the plan respects the blocks", func() {
				conflicts, err := e.Detector().Detect(ctx, plan.Movements, blocks)
				So(err, ShouldBeNil)
				So(conflicts, ShouldBeEmpty)
			})
		})

		Convey("When the closure outlasts the planning window", func() {
			short := schedule.NewEngine(schedule.WithTimeWindow(10 * time.Minute))
			plan, err := short.Optimize(ctx, schedule.Request{
				Trains:            []model.Train{train("IC1", model.PriorityHigh, "A", "C", 20)},
				Sections:          line(1),
				MaintenanceBlocks: blocks,
				Start:             t0,
			})

			Convey("Then the train is left unscheduled", func() {
				So(err, ShouldBeNil)
				So(plan.Unscheduled, ShouldResemble, []string{"IC1"})
				So(plan.Movements, ShouldBeEmpty)
				So(len(recsOf(plan, "IC1", schedule.ActionOutsideWindow)), ShouldEqual, 1)
			})
		})
	})
}

func TestOptimizeRecommendations(t *testing.T) {
	Convey("Given an engine with a tight delay threshold", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine(schedule.WithMaxDelayThreshold(time.Minute))

		Convey("When a train is already late", func() {
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:   []model.Train{train("IC1", model.PriorityHigh, "A", "C", 0)},
				Sections: line(1),
				Start:    t0,
			})

			Convey("Then it is escalated", func() {
				So(err, ShouldBeNil)
				So(plan.TrainDelays["IC1"], ShouldEqual, 13*60)
				esc := recsOf(plan, "IC1", schedule.ActionEscalate)
				So(len(esc), ShouldEqual, 1)
				So(esc[0].Seconds, ShouldEqual, 13*60)
				So(esc[0].ID, ShouldNotBeEmpty)
			})
		})

		Convey("When the destination is unreachable", func() {
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:   []model.Train{train("LOST", model.PriorityHigh, "A", "Z", 0)},
				Sections: line(1),
				Start:    t0,
			})

			Convey("Then it is reported without a route", func() {
				So(err, ShouldBeNil)
				So(plan.Unscheduled, ShouldResemble, []string{"LOST"})
				So(len(recsOf(plan, "LOST", schedule.ActionNoRoute)), ShouldEqual, 1)
			})
		})
	})
}

func TestOptimizeCurrentMovements(t *testing.T) {
	Convey("Given a train already occupying the first section", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine()
		sections := line(1)
		current := model.TrainMovement{
			MovementID:   "live-1",
			Train:        train("LIVE", model.PriorityLowest, "A", "B", 20),
			Section:      sections[0],
			EntryTime:    at(-5),
			ExitTime:     at(20),
			PlannedSpeed: 24,
			Status:       model.MovementInProgress,
		}

		Convey("When planning a train behind it", func() {
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:           []model.Train{train("IC1", model.PriorityHighest, "A", "C", 20)},
				Sections:         sections,
				CurrentMovements: []model.TrainMovement{current},
				Start:            t0,
			})

			Convey("Then the running train keeps its slot", func() {
				So(err, ShouldBeNil)
				ms := movementsOf(plan, "IC1")
				So(ms[0].EntryTime, ShouldEqual, at(25))

				all := append([]model.TrainMovement{current}, plan.Movements...)
				conflicts, err := e.Detector().Detect(ctx, all, nil)
				So(err, ShouldBeNil)
				So(conflicts, ShouldBeEmpty)
			})
		})

		Convey("When the running train is completed", func() {
			current.Status = model.MovementCompleted
			plan, err := e.Optimize(ctx, schedule.Request{
				Trains:           []model.Train{train("IC1", model.PriorityHighest, "A", "C", 20)},
				Sections:         sections,
				CurrentMovements: []model.TrainMovement{current},
				Start:            t0,
			})
			So(err, ShouldBeNil)
			So(movementsOf(plan, "IC1")[0].EntryTime, ShouldEqual, at(0))
		})
	})
}

func TestOptimizeValidation(t *testing.T) {
	Convey("Given an engine with small limits", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine(schedule.WithMaxTrains(1), schedule.WithMaxSections(2))

		Convey("When too many trains are submitted", func() {
			_, err := e.Optimize(ctx, schedule.Request{
				Trains:   []model.Train{train("A1", 1, "A", "C", 0), train("A2", 1, "A", "C", 0)},
				Sections: line(1),
			})
			So(errors.Is(err, schedule.ErrLimitExceeded), ShouldBeTrue)
		})

		Convey("When too many sections are submitted", func() {
			sections := append(line(1), model.Section{SectionID: "CD", StartPoint: "C", EndPoint: "D", Length: 1, MaxSpeed: 50, Capacity: 1})
			_, err := e.Optimize(ctx, schedule.Request{Sections: sections})
			So(errors.Is(err, schedule.ErrLimitExceeded), ShouldBeTrue)
		})

		Convey("When section ids repeat", func() {
			sections := line(1)
			sections[1].SectionID = "AB"
			_, err := e.Optimize(ctx, schedule.Request{Sections: sections})
			So(errors.Is(err, model.ErrInvalid), ShouldBeTrue)
		})

		Convey("When a train is invalid", func() {
			bad := train("X", 9, "A", "C", 0)
			_, err := e.Optimize(ctx, schedule.Request{Trains: []model.Train{bad}, Sections: line(1)})
			So(errors.Is(err, model.ErrInvalid), ShouldBeTrue)
		})
	})
}

func TestOptimizeBusyDoubleTrack(t *testing.T) {
	Convey("Given many trains on a signalled double-track network", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine(schedule.WithSafetyBuffer(2 * time.Minute))
		sections := []model.Section{
			{SectionID: "AB", StartPoint: "A", EndPoint: "B", Length: 12, MaxSpeed: 120, Capacity: 2, SignalPositions: []float64{0, 3, 6, 9}},
			{SectionID: "BC", StartPoint: "B", EndPoint: "C", Length: 8, MaxSpeed: 90, Capacity: 2, SignalPositions: []float64{4}},
			{SectionID: "BD", StartPoint: "B", EndPoint: "D", Length: 5, MaxSpeed: 60, Capacity: 1},
		}
		var trains []model.Train
		ends := []string{"C", "D"}
		for i := 0; i < 8; i++ {
			tr := train(fmt.Sprintf("T%02d", i), model.TrainPriority(i%5+1), "A", ends[i%2], 30)
			tr.Speed = float64(60 + 10*i)
			if i%3 == 0 {
				tr.CurrentPosition, tr.Destination = tr.Destination, "A"
			}
			trains = append(trains, tr)
		}

		Convey("When optimizing", func() {
			plan, err := e.Optimize(ctx, schedule.Request{Trains: trains, Sections: sections, Start: t0})

			Convey("Then every train is planned without conflicts", func() {
				So(err, ShouldBeNil)
				So(plan.Unscheduled, ShouldBeEmpty)
				So(len(plan.TrainDelays), ShouldEqual, len(trains))

				conflicts, err := e.Detector().Detect(ctx, plan.Movements, nil)
				So(err, ShouldBeNil)
				So(conflicts, ShouldBeEmpty)
			})

			Convey("Then movements are ordered by entry", func() {
				for i := 1; i < len(plan.Movements); i++ {
					So(plan.Movements[i].EntryTime.Before(plan.Movements[i-1].EntryTime), ShouldBeFalse)
				}
			})
		})
	})
}

func TestCreateTimeSpaceGrid(t *testing.T) {
	Convey("Given an optimized plan", t, func() {
		e := schedule.NewEngine()
		plan, err := e.Optimize(context.Background(), schedule.Request{
			Trains:   []model.Train{train("IC1", model.PriorityHigh, "A", "C", 20)},
			Sections: line(1),
			Start:    t0,
		})
		So(err, ShouldBeNil)

		Convey("When sampling it in five minute buckets", func() {
			g, err := schedule.CreateTimeSpaceGrid(line(1), plan.Movements, t0, 15*time.Minute, 5*time.Minute)

			Convey("Then occupancy follows the train", func() {
				So(err, ShouldBeNil)
				So(g.Sections, ShouldResemble, []string{"AB", "BC"})
				So(g.Cells[0], ShouldResemble, []int{1, 0})
				So(g.Cells[1], ShouldResemble, []int{1, 1})
				So(g.Cells[2], ShouldResemble, []int{0, 1})
			})
		})
	})
}

func TestOptimizeGrid(t *testing.T) {
	Convey("Given an engine with a fifteen minute window", t, func() {
		ctx := context.Background()
		e := schedule.NewEngine(schedule.WithTimeWindow(15 * time.Minute))
		req := schedule.Request{
			Trains:   []model.Train{train("IC1", model.PriorityHigh, "A", "C", 20)},
			Sections: line(1),
			Start:    t0,
		}

		Convey("When no grid step is requested", func() {
			plan, err := e.Optimize(ctx, req)
			So(err, ShouldBeNil)
			So(plan.Grid, ShouldBeNil)
		})

		Convey("When a five minute grid step is requested", func() {
			req.GridStep = 300
			plan, err := e.Optimize(ctx, req)

			Convey("Then the plan carries its occupancy grid", func() {
				So(err, ShouldBeNil)
				So(plan.Grid, ShouldNotBeNil)
				So(plan.Grid.Sections, ShouldResemble, []string{"AB", "BC"})
				So(len(plan.Grid.Cells), ShouldEqual, 3)
				So(plan.Grid.Cells[1], ShouldResemble, []int{1, 1})
			})
		})

		Convey("When the grid step is negative", func() {
			req.GridStep = -1
			_, err := e.Optimize(ctx, req)
			So(errors.Is(err, model.ErrInvalid), ShouldBeTrue)
		})

		Convey("When the grid step gives too many rows", func() {
			e := schedule.NewEngine(schedule.WithTimeWindow(48 * time.Hour))
			req.GridStep = 60
			_, err := e.Optimize(ctx, req)
			So(errors.Is(err, schedule.ErrLimitExceeded), ShouldBeTrue)
		})
	})
}
