// Package contracttest holds the behaviour every repository.Store
// implementation must share.
package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// Factory returns an empty store and an optional cleanup.
type Factory func(t *testing.T) (repository.Store, func())

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func open(t *testing.T, newStore Factory) repository.Store {
	t.Helper()
	s, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return s
}

func section(id string) model.TrackSection {
	return model.TrackSection{
		SectionID: id,
		TrackType: model.TrackMain,
		LengthKM:  12.5,
		MaxSpeed:  160,
		Gradient:  0.4,
		Curves:    []model.Curve{{Radius: 900, Length: 300}},
		Signals:   []model.Signal{{Position: 4, Type: model.SignalHome}},
		Stations:  []string{"Alpha"},
	}
}

func sample(train, sec string, at time.Time, speed float64) model.RealTimeData {
	return model.RealTimeData{
		EventID:   train + "-" + at.Format(time.RFC3339),
		Timestamp: at,
		TrainID:   train,
		Position:  model.Position{Latitude: 48.1, Longitude: 11.5},
		Speed:     speed,
		SectionID: sec,
		Status:    "running",
	}
}

// RunStore exercises the full Store contract.
func RunStore(t *testing.T, newStore Factory) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := open(t, newStore)
		So(s.Ping(ctx), ShouldBeNil)

		Convey("Track sections are unique and updatable", func() {
			So(s.InsertTrackSection(ctx, section("AB")), ShouldBeNil)
			err := s.InsertTrackSection(ctx, section("AB"))
			So(errors.Is(err, repository.ErrAlreadyExists), ShouldBeTrue)

			got, err := s.GetTrackSection(ctx, "AB")
			So(err, ShouldBeNil)
			So(got.MaxSpeed, ShouldEqual, 160)
			So(got.Signals, ShouldResemble, []model.Signal{{Position: 4, Type: model.SignalHome}})
			So(got.Stations, ShouldResemble, []string{"Alpha"})

			upd := section("AB")
			upd.MaxSpeed = 120
			upd.Electrified = true
			So(s.UpdateTrackSection(ctx, upd), ShouldBeNil)
			got, _ = s.GetTrackSection(ctx, "AB")
			So(got.MaxSpeed, ShouldEqual, 120)
			So(got.Electrified, ShouldBeTrue)

			So(errors.Is(s.UpdateTrackSection(ctx, section("ZZ")), repository.ErrNotFound), ShouldBeTrue)
			_, err = s.GetTrackSection(ctx, "ZZ")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			So(s.InsertTrackSection(ctx, section("AA")), ShouldBeNil)
			all, err := s.ListTrackSections(ctx)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 2)
			So(all[0].SectionID, ShouldEqual, "AA")
		})

		Convey("Rolling stock and schedules are upserted", func() {
			seats := 400
			So(s.UpsertRollingStock(ctx, model.RollingStock{TrainID: "IC1", MaxSpeed: 200, PassengerCapacity: &seats}), ShouldBeNil)
			So(s.UpsertRollingStock(ctx, model.RollingStock{TrainID: "IC1", MaxSpeed: 230, PassengerCapacity: &seats}), ShouldBeNil)
			r, err := s.GetRollingStock(ctx, "IC1")
			So(err, ShouldBeNil)
			So(r.MaxSpeed, ShouldEqual, 230)
			So(*r.PassengerCapacity, ShouldEqual, 400)
			_, err = s.GetRollingStock(ctx, "nope")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			sc := model.TrainSchedule{
				ScheduleID:     "s2",
				TrainID:        "IC1",
				Route:          []string{"A", "B"},
				DepartureTimes: []time.Time{t0},
				ArrivalTimes:   []time.Time{t0.Add(time.Hour)},
				DwellTimes:     []int{60},
				Priority:       2,
			}
			So(s.UpsertSchedule(ctx, sc), ShouldBeNil)
			sc.ScheduleID = "s1"
			So(s.UpsertSchedule(ctx, sc), ShouldBeNil)
			sc.ServiceType = "express"
			So(s.UpsertSchedule(ctx, sc), ShouldBeNil)
			So(s.UpsertSchedule(ctx, model.TrainSchedule{ScheduleID: "s3", TrainID: "RE9", Route: []string{"A", "B"}, Priority: 3}), ShouldBeNil)

			list, err := s.SchedulesForTrain(ctx, "IC1")
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 2)
			So(list[0].ScheduleID, ShouldEqual, "s1")
			So(list[0].ServiceType, ShouldEqual, "express")
			So(list[0].Route, ShouldResemble, []string{"A", "B"})
			So(list[0].DepartureTimes[0].Equal(t0), ShouldBeTrue)
		})

		Convey("Telemetry range queries include both bounds in time order", func() {
			So(s.InsertRealTime(ctx, sample("IC1", "AB", t0.Add(2*time.Minute), 90)), ShouldBeNil)
			So(s.InsertRealTime(ctx, sample("IC1", "AB", t0, 80)), ShouldBeNil)
			So(s.InsertRealTime(ctx, sample("IC1", "BC", t0.Add(5*time.Minute), 100)), ShouldBeNil)
			So(s.InsertRealTime(ctx, sample("RE2", "AB", t0.Add(time.Minute), 60)), ShouldBeNil)

			byTrain, err := s.RealTimeForTrain(ctx, "IC1", t0, t0.Add(2*time.Minute))
			So(err, ShouldBeNil)
			So(byTrain, ShouldHaveLength, 2)
			So(byTrain[0].Speed, ShouldEqual, 80)
			So(byTrain[1].Speed, ShouldEqual, 90)

			bySection, err := s.RealTimeForSection(ctx, "AB", t0, t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(bySection, ShouldHaveLength, 3)
			So(bySection[1].TrainID, ShouldEqual, "RE2")

			none, err := s.RealTimeForTrain(ctx, "IC1", t0.Add(time.Hour), t0.Add(2*time.Hour))
			So(err, ShouldBeNil)
			So(none, ShouldBeEmpty)

			latest, err := s.LatestRealTime(ctx, "IC1")
			So(err, ShouldBeNil)
			So(latest.SectionID, ShouldEqual, "BC")
			So(latest.Timestamp.Equal(t0.Add(5*time.Minute)), ShouldBeTrue)

			_, err = s.LatestRealTime(ctx, "ghost")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Weather is kept per section", func() {
			rain := 2.5
			So(s.InsertWeather(ctx, model.WeatherData{Timestamp: t0, SectionID: "AB", Condition: model.WeatherRain, Rainfall: &rain}), ShouldBeNil)
			So(s.InsertWeather(ctx, model.WeatherData{Timestamp: t0.Add(time.Hour), SectionID: "AB", Condition: model.WeatherFog}), ShouldBeNil)
			So(s.InsertWeather(ctx, model.WeatherData{Timestamp: t0, SectionID: "BC", Condition: model.WeatherClear}), ShouldBeNil)

			ws, err := s.WeatherForSection(ctx, "AB", t0, t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(ws, ShouldHaveLength, 2)
			So(ws[0].Condition, ShouldEqual, model.WeatherRain)
			So(*ws[0].Rainfall, ShouldEqual, 2.5)
			So(ws[1].Rainfall, ShouldBeNil)
		})

		Convey("Maintenance blocks are unique and queried by time", func() {
			limit := 40.0
			b1 := model.MaintenanceBlock{BlockID: "m1", SectionID: "AB", StartTime: t0, EndTime: t0.Add(time.Hour),
				Type: "track", Status: model.MaintenanceScheduled, SpeedRestriction: &limit}
			b2 := model.MaintenanceBlock{BlockID: "m2", SectionID: "AB", StartTime: t0.Add(2 * time.Hour), EndTime: t0.Add(3 * time.Hour),
				Type: "signal", Status: model.MaintenanceUrgent}
			b3 := model.MaintenanceBlock{BlockID: "m3", SectionID: "BC", StartTime: t0.Add(30 * time.Minute), EndTime: t0.Add(time.Hour),
				Type: "track", Status: model.MaintenanceInProgress}
			So(s.InsertMaintenance(ctx, b2), ShouldBeNil)
			So(s.InsertMaintenance(ctx, b1), ShouldBeNil)
			So(s.InsertMaintenance(ctx, b3), ShouldBeNil)
			So(errors.Is(s.InsertMaintenance(ctx, b1), repository.ErrAlreadyExists), ShouldBeTrue)

			active, err := s.ActiveMaintenance(ctx, "AB", t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(active, ShouldHaveLength, 1)
			So(active[0].BlockID, ShouldEqual, "m1")
			So(*active[0].SpeedRestriction, ShouldEqual, 40)

			idle, err := s.ActiveMaintenance(ctx, "AB", t0.Add(90*time.Minute))
			So(err, ShouldBeNil)
			So(idle, ShouldBeEmpty)

			ranged, err := s.MaintenanceInRange(ctx, "AB", t0.Add(30*time.Minute), t0.Add(4*time.Hour))
			So(err, ShouldBeNil)
			So(ranged, ShouldHaveLength, 2)
			So(ranged[0].BlockID, ShouldEqual, "m1")
			So(ranged[1].SpeedRestriction, ShouldBeNil)

			everywhere, err := s.MaintenanceInRange(ctx, "", t0, t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(everywhere, ShouldHaveLength, 2)
			So(everywhere[0].BlockID, ShouldEqual, "m1")
			So(everywhere[1].BlockID, ShouldEqual, "m3")
		})

		Convey("Operational metrics aggregate across sections", func() {
			rows := []model.OperationalMetrics{
				{Timestamp: t0, SectionID: "AB", TrainsInSection: 2, TotalDelay: 120, CapacityUtilization: 0.5, ConflictCount: 1, ResolutionTime: 60},
				{Timestamp: t0.Add(time.Minute), SectionID: "BC", TrainsInSection: 1, TotalDelay: 0, CapacityUtilization: 0.25, ConflictCount: 2, ResolutionTime: 120},
				{Timestamp: t0.Add(2 * time.Hour), SectionID: "AB", TotalDelay: 999, CapacityUtilization: 1},
			}
			for _, m := range rows {
				So(s.InsertMetrics(ctx, m), ShouldBeNil)
			}

			sec, err := s.MetricsForSection(ctx, "AB", t0, t0.Add(3*time.Hour))
			So(err, ShouldBeNil)
			So(sec, ShouldHaveLength, 2)
			So(sec[0].TrainsInSection, ShouldEqual, 2)

			all, err := s.MetricsInRange(ctx, t0, t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 2)
			So(all[1].SectionID, ShouldEqual, "BC")

			sys, err := s.SystemMetrics(ctx, t0, t0.Add(time.Hour))
			So(err, ShouldBeNil)
			So(sys.Samples, ShouldEqual, 2)
			So(sys.AvgDelay, ShouldEqual, 60)
			So(sys.AvgUtilization, ShouldEqual, 0.375)
			So(sys.TotalConflicts, ShouldEqual, 3)
			So(sys.AvgResolutionTime, ShouldEqual, 90)

			empty, err := s.SystemMetrics(ctx, t0.Add(10*time.Hour), t0.Add(11*time.Hour))
			So(err, ShouldBeNil)
			So(empty.Samples, ShouldEqual, 0)
			So(empty.AvgDelay, ShouldEqual, 0)
		})
	})
}
