package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	service "github.com/okian/railflow/internal/app"
	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/schedule"
	. "github.com/smartystreets/goconvey/convey"
)

const networkYAML = `
sections:
  - section_id: AB
    start_point: A
    end_point: B
    length: 10
    max_speed: 120
    capacity: 2
    signals:
      - {position: 5, type: home}
  - section_id: BC
    start_point: B
    end_point: C
    length: 6
    max_speed: 80
rolling_stock:
  - train_id: IC101
    type: emu
    length: 200
    max_speed: 160
  - train_id: RE5
    type: dmu
    length: 80
    max_speed: 60
`

// eventually polls cond for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func sample(id, train, section string, ts time.Time, speed float64, delay int) model.RealTimeData {
	return model.RealTimeData{
		EventID: id, TrainID: train, SectionID: section, Timestamp: ts,
		Position: model.Position{Latitude: 52.5, Longitude: 13.4},
		Speed:    speed, Delay: delay, Status: "running",
	}
}

type fakeTelemetry struct{ data model.RealTimeData }

func (f fakeTelemetry) FetchRealTime(_ context.Context, trainID string) (model.RealTimeData, error) {
	if trainID == "gone" {
		return model.RealTimeData{}, errors.New("no such train")
	}
	return f.data, nil
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with a small queue", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		svc := service.New(service.WithConfig(testConfig()))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When telemetry is enqueued", func() {
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("event-%d", i)
				So(svc.SeenAndRecord(ctx, id), ShouldBeFalse)
				So(svc.Enqueue(ctx, sample(id, "IC1", "AB", at(i), 80, 0)), ShouldBeTrue)
			}

			Convey("Then workers record it and the fleet view follows", func() {
				So(eventually(func() bool { return svc.GetStats()["processed"] == int64(10) }), ShouldBeTrue)

				d, err := svc.FleetPosition(ctx, "IC1")
				So(err, ShouldBeNil)
				So(d.Timestamp.Equal(at(9)), ShouldBeTrue)

				rows, err := svc.TrainHistory(ctx, "IC1", t0, at(60))
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 10)

				onAB, err := svc.SectionHistory(ctx, "AB", at(5), at(60))
				So(err, ShouldBeNil)
				So(len(onAB), ShouldEqual, 5)

				stats := svc.GetStats()
				So(stats["processed"], ShouldEqual, int64(10))
				So(stats["trainsTracked"], ShouldEqual, 1)
			})

			Convey("Then replayed ids are reported as seen", func() {
				So(svc.SeenAndRecord(ctx, "event-3"), ShouldBeTrue)
			})
		})

		Convey("An unknown train has no position", func() {
			_, err := svc.FleetPosition(ctx, "nobody")
			So(err, ShouldNotBeNil)
		})

		Convey("Collecting without a configured feed is unavailable", func() {
			_, err := svc.CollectWeather(ctx, "AB")
			So(errors.Is(err, collect.ErrNoSource), ShouldBeTrue)
		})
	})
}

func TestServiceCollect(t *testing.T) {
	Convey("Given a service with a telemetry source", t, func() {
		ctx := context.Background()
		live := sample("", "IC7", "BC", time.Time{}, 60, 120)
		svc := service.New(
			service.WithConfig(testConfig()),
			service.WithTelemetrySource(fakeTelemetry{data: live}),
			service.WithClock(fixedClock(at(15))),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Collected telemetry is stamped and becomes the fleet position", func() {
			got, err := svc.CollectRealTime(ctx, "IC7")
			So(err, ShouldBeNil)
			So(got.Timestamp.Equal(at(15)), ShouldBeTrue)

			pos, err := svc.FleetPosition(ctx, "IC7")
			So(err, ShouldBeNil)
			So(pos.SectionID, ShouldEqual, "BC")
		})

		Convey("A failing source is wrapped", func() {
			_, err := svc.CollectRealTime(ctx, "gone")
			So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
		})
	})
}

func TestServiceSectionMetrics(t *testing.T) {
	Convey("Given recorded telemetry and a detected conflict", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()), service.WithClock(fixedClock(at(30))))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		So(svc.RecordRealTime(ctx, sample("a", "IC1", "AB", at(10), 80, 60)), ShouldBeNil)
		So(svc.RecordRealTime(ctx, sample("b", "IC2", "AB", at(20), 100, 0)), ShouldBeNil)
		So(svc.RecordRealTime(ctx, sample("c", "IC3", "BC", at(25), 60, 30)), ShouldBeNil)

		single := model.Section{SectionID: "AB", StartPoint: "A", EndPoint: "B", Length: 10, MaxSpeed: 80, Capacity: 1}
		move := func(id string, from, to int) model.TrainMovement {
			return model.TrainMovement{
				MovementID: id,
				Train: model.Train{
					TrainID: "T-" + id, TrainType: model.TrainLocal, Priority: model.PriorityMedium,
					CurrentPosition: "A", Destination: "B", ScheduledArrival: at(to), Speed: 80,
				},
				Section: single, EntryTime: at(from), ExitTime: at(to), PlannedSpeed: 80,
				Status: model.MovementScheduled,
			}
		}
		found, err := svc.DetectConflicts(ctx, []model.TrainMovement{move("m1", 0, 10), move("m2", 2, 12)}, nil)
		So(err, ShouldBeNil)
		So(len(found), ShouldEqual, 1)
		So(found[0].Kind, ShouldEqual, conflict.KindHeadway)

		Convey("When the section metrics are computed", func() {
			m, err := svc.SectionMetrics(ctx, "AB", time.Hour)

			Convey("Then they aggregate the window and are persisted", func() {
				So(err, ShouldBeNil)
				So(m.TrainsInSection, ShouldEqual, 2)
				So(m.AverageSpeed, ShouldEqual, 90)
				So(m.TotalDelay, ShouldEqual, 60)
				So(m.CapacityUtilization, ShouldAlmostEqual, 2.0/3.0, 1e-9)
				So(m.ConflictCount, ShouldEqual, 1)
				So(m.ResolutionTime, ShouldBeGreaterThan, 0)

				sys, err := svc.SystemMetrics(ctx, t0, at(60))
				So(err, ShouldBeNil)
				So(sys.Samples, ShouldEqual, 1)
				So(sys.TotalConflicts, ShouldEqual, 1)
			})
		})

		Convey("A section without samples has no metrics", func() {
			_, err := svc.SectionMetrics(ctx, "ZZ", time.Hour)
			So(errors.Is(err, service.ErrNoSamples), ShouldBeTrue)
		})
	})
}

func TestServiceOptimizeSeededNetwork(t *testing.T) {
	Convey("Given a service seeded from a network file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "network.yaml")
		So(os.WriteFile(path, []byte(networkYAML), 0o600), ShouldBeNil)

		cfg := testConfig()
		cfg.NetworkFile = path
		svc := service.New(service.WithConfig(cfg), service.WithClock(fixedClock(t0)))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("The sections are stored", func() {
			ts, err := svc.GetTrackSection(ctx, "AB")
			So(err, ShouldBeNil)
			So(ts.TrackType, ShouldEqual, model.TrackMain)
			So(svc.GetStats()["sections"], ShouldEqual, 2)
		})

		Convey("A train faster than its rolling stock is planned at the stock's maximum", func() {
			plan, err := svc.OptimizeSchedule(ctx, schedule.Request{
				Trains: []model.Train{{
					TrainID: "RE5", TrainType: model.TrainLocal, Priority: model.PriorityMedium,
					CurrentPosition: "A", Destination: "B", ScheduledArrival: at(30), Speed: 140, Length: 80,
				}},
				Start: t0,
			})
			So(err, ShouldBeNil)
			So(len(plan.Movements), ShouldEqual, 1)
			So(plan.Movements[0].Train.Speed, ShouldEqual, 60)
			So(plan.Movements[0].PlannedSpeed, ShouldBeLessThanOrEqualTo, 60)
		})

		Convey("When BC is closed by a stored block", func() {
			So(svc.AddMaintenanceBlock(ctx, model.MaintenanceBlock{
				BlockID: "close-bc", SectionID: "BC", StartTime: t0, EndTime: at(30),
				Type: "inspection", Status: model.MaintenanceUrgent,
			}), ShouldBeNil)

			plan, err := svc.OptimizeSchedule(ctx, schedule.Request{
				Trains: []model.Train{{
					TrainID: "IC101", TrainType: model.TrainExpress, Priority: model.PriorityHigh,
					CurrentPosition: "A", Destination: "C", ScheduledArrival: at(20), Speed: 100, Length: 200,
				}},
				Start: t0,
			})

			Convey("Then the plan uses the seeded line and waits for the closure", func() {
				So(err, ShouldBeNil)
				So(plan.Unscheduled, ShouldBeEmpty)
				So(len(plan.Movements), ShouldEqual, 2)
				last := plan.Movements[1]
				So(last.Section.SectionID, ShouldEqual, "BC")
				So(last.EntryTime, ShouldHappenOnOrAfter, at(30))
				So(plan.TrainDelays["IC101"], ShouldBeGreaterThan, 0)
			})
		})
	})
}
