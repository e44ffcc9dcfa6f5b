package collect_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeTelemetry struct {
	data model.RealTimeData
	err  error
}

func (f *fakeTelemetry) FetchRealTime(_ context.Context, _ string) (model.RealTimeData, error) {
	return f.data, f.err
}

type fakeWeather struct {
	data model.WeatherData
	err  error
}

func (f *fakeWeather) FetchWeather(_ context.Context, _ string) (model.WeatherData, error) {
	return f.data, f.err
}

type memRecorder struct {
	mu       sync.Mutex
	realtime []model.RealTimeData
	weather  []model.WeatherData
	err      error
}

func (m *memRecorder) RecordRealTime(_ context.Context, d model.RealTimeData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.realtime = append(m.realtime, d)
	return nil
}

func (m *memRecorder) RecordWeather(_ context.Context, d model.WeatherData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.weather = append(m.weather, d)
	return nil
}

type fakeReference struct {
	sections  map[string]model.TrackSection
	latest    map[string]model.RealTimeData
	schedules []model.TrainSchedule
}

func (f *fakeReference) GetTrackSection(_ context.Context, id string) (model.TrackSection, error) {
	ts, ok := f.sections[id]
	if !ok {
		return model.TrackSection{}, repository.ErrNotFound
	}
	return ts, nil
}

func (f *fakeReference) LatestRealTime(_ context.Context, trainID string) (model.RealTimeData, error) {
	d, ok := f.latest[trainID]
	if !ok {
		return model.RealTimeData{}, repository.ErrNotFound
	}
	return d, nil
}

func (f *fakeReference) SchedulesForTrain(_ context.Context, trainID string) ([]model.TrainSchedule, error) {
	var out []model.TrainSchedule
	for _, s := range f.schedules {
		if s.TrainID == trainID {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestValidators(t *testing.T) {
	Convey("Coordinates must lie on the globe", t, func() {
		So(collect.ValidateCoordinates(52.52, 13.40), ShouldBeTrue)
		So(collect.ValidateCoordinates(90, -180), ShouldBeTrue)
		So(collect.ValidateCoordinates(90.1, 0), ShouldBeFalse)
		So(collect.ValidateCoordinates(0, 180.5), ShouldBeFalse)
	})

	Convey("Speed must be within zero and the maximum", t, func() {
		So(collect.ValidateSpeed(0, 160), ShouldBeTrue)
		So(collect.ValidateSpeed(160, 160), ShouldBeTrue)
		So(collect.ValidateSpeed(-1, 160), ShouldBeFalse)
		So(collect.ValidateSpeed(161, 160), ShouldBeFalse)
	})

	Convey("Timestamps must not go backwards", t, func() {
		So(collect.ValidateTimeSequence(nil), ShouldBeTrue)
		So(collect.ValidateTimeSequence([]time.Time{t0, t0, t0.Add(time.Minute)}), ShouldBeTrue)
		So(collect.ValidateTimeSequence([]time.Time{t0.Add(time.Minute), t0}), ShouldBeFalse)
	})

	Convey("Maintenance blocks need an ordered window and positive restriction", t, func() {
		ok := 40.0
		zero := 0.0
		b := model.MaintenanceBlock{StartTime: t0, EndTime: t0.Add(time.Hour)}
		So(collect.ValidateMaintenanceBlock(b), ShouldBeTrue)
		b.SpeedRestriction = &ok
		So(collect.ValidateMaintenanceBlock(b), ShouldBeTrue)
		b.SpeedRestriction = &zero
		So(collect.ValidateMaintenanceBlock(b), ShouldBeFalse)
		b.SpeedRestriction = nil
		b.EndTime = t0
		So(collect.ValidateMaintenanceBlock(b), ShouldBeFalse)
	})
}

func TestCollector(t *testing.T) {
	ctx := context.Background()

	Convey("Given a collector with both sources", t, func() {
		rec := &memRecorder{}
		tel := &fakeTelemetry{data: model.RealTimeData{
			Position:  model.Position{Latitude: 52.5, Longitude: 13.4},
			Speed:     92,
			SectionID: "AB",
		}}
		wea := &fakeWeather{data: model.WeatherData{Condition: model.WeatherRain, Visibility: 4}}
		var buf bytes.Buffer
		c := collect.NewCollector(rec,
			collect.WithTelemetrySource(tel),
			collect.WithWeatherSource(wea),
			collect.WithClock(func() time.Time { return t0 }),
			collect.WithLogger(logger.New(&buf)),
		)

		Convey("When collecting telemetry", func() {
			d, err := c.CollectRealTime(ctx, "IC101")

			Convey("Then the sample is stamped and recorded", func() {
				So(err, ShouldBeNil)
				So(d.TrainID, ShouldEqual, "IC101")
				So(d.Timestamp, ShouldEqual, t0)
				So(rec.realtime, ShouldHaveLength, 1)
				So(buf.String(), ShouldContainSubstring, "component=collector")
			})
		})

		Convey("When the source answers for a different train", func() {
			tel.data.TrainID = "RE7"
			_, err := c.CollectRealTime(ctx, "IC101")

			Convey("Then collection fails", func() {
				So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
				So(rec.realtime, ShouldBeEmpty)
			})
		})

		Convey("When the sample is invalid", func() {
			tel.data.Speed = -5
			_, err := c.CollectRealTime(ctx, "IC101")

			Convey("Then it is rejected as a feed failure and not recorded", func() {
				So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
				So(errors.Is(err, model.ErrInvalid), ShouldBeTrue)
				So(rec.realtime, ShouldBeEmpty)
			})
		})

		Convey("When the sample is off the globe", func() {
			tel.data.Position.Latitude = 91
			_, err := c.CollectRealTime(ctx, "IC101")
			So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
			So(rec.realtime, ShouldBeEmpty)
		})

		Convey("When the weather reading is invalid", func() {
			wea.data.Condition = "hail"
			_, err := c.CollectWeather(ctx, "AB")
			So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
			So(errors.Is(err, model.ErrInvalid), ShouldBeTrue)
			So(rec.weather, ShouldBeEmpty)
		})

		Convey("When the source fails", func() {
			boom := errors.New("upstream 502")
			tel.err = boom
			_, err := c.CollectRealTime(ctx, "IC101")

			Convey("Then the error wraps both the source failure and ErrCollect", func() {
				So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When the recorder fails", func() {
			rec.err = errors.New("disk full")
			_, err := c.CollectWeather(ctx, "AB")

			Convey("Then the error surfaces", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "disk full")
			})
		})

		Convey("When collecting weather", func() {
			w, err := c.CollectWeather(ctx, "AB")

			Convey("Then the reading is stamped and recorded", func() {
				So(err, ShouldBeNil)
				So(w.SectionID, ShouldEqual, "AB")
				So(w.Timestamp, ShouldEqual, t0)
				So(rec.weather, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a collector checking against recorded state", t, func() {
		rec := &memRecorder{}
		tel := &fakeTelemetry{data: model.RealTimeData{
			Timestamp:   t0,
			Position:    model.Position{Latitude: 52.5, Longitude: 13.4},
			Speed:       92,
			SectionID:   "AB",
			NextStation: "B",
		}}
		ref := &fakeReference{
			sections: map[string]model.TrackSection{"AB": {SectionID: "AB", MaxSpeed: 100}},
			latest:   map[string]model.RealTimeData{},
			schedules: []model.TrainSchedule{{
				ScheduleID: "IC101-am", TrainID: "IC101", Route: []string{"A", "B"},
				DepartureTimes: []time.Time{t0.Add(-20 * time.Minute), t0.Add(-3 * time.Minute)},
				ArrivalTimes:   []time.Time{t0.Add(-20 * time.Minute), t0.Add(-5 * time.Minute)},
			}},
		}
		c := collect.NewCollector(rec, collect.WithTelemetrySource(tel), collect.WithReference(ref))

		Convey("When the sample carries no delay", func() {
			d, err := c.CollectRealTime(ctx, "IC101")

			Convey("Then the lateness against the timetable is filled in", func() {
				So(err, ShouldBeNil)
				So(d.Delay, ShouldEqual, 300)
				So(rec.realtime, ShouldHaveLength, 1)
			})
		})

		Convey("When the sample reports its own delay", func() {
			tel.data.Delay = 42
			d, err := c.CollectRealTime(ctx, "IC101")
			So(err, ShouldBeNil)
			So(d.Delay, ShouldEqual, 42)
		})

		Convey("When the train is ahead of its timetable", func() {
			tel.data.Timestamp = t0.Add(-10 * time.Minute)
			d, err := c.CollectRealTime(ctx, "IC101")
			So(err, ShouldBeNil)
			So(d.Delay, ShouldEqual, 0)
		})

		Convey("When the train runs above the line speed", func() {
			tel.data.Speed = 130
			_, err := c.CollectRealTime(ctx, "IC101")
			So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
			So(rec.realtime, ShouldBeEmpty)
		})

		Convey("When the section is unknown", func() {
			tel.data.SectionID = "ZZ"
			tel.data.Speed = 130
			_, err := c.CollectRealTime(ctx, "IC101")
			So(err, ShouldBeNil)
		})

		Convey("When the sample is older than the recorded one", func() {
			ref.latest["IC101"] = model.RealTimeData{TrainID: "IC101", Timestamp: t0.Add(time.Minute)}
			_, err := c.CollectRealTime(ctx, "IC101")
			So(errors.Is(err, collect.ErrCollect), ShouldBeTrue)
			So(rec.realtime, ShouldBeEmpty)
		})
	})

	Convey("Given a collector without sources", t, func() {
		c := collect.NewCollector(&memRecorder{})

		Convey("Then both collections report no source", func() {
			_, err := c.CollectRealTime(ctx, "IC101")
			So(errors.Is(err, collect.ErrNoSource), ShouldBeTrue)
			_, err = c.CollectWeather(ctx, "AB")
			So(errors.Is(err, collect.ErrNoSource), ShouldBeTrue)
		})
	})
}

func TestPreprocessing(t *testing.T) {
	Convey("NormalizeSpeeds divides by the maximum", t, func() {
		out, err := collect.NormalizeSpeeds([]float64{0, 80, 160}, 160)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, []float64{0, 0.5, 1})

		_, err = collect.NormalizeSpeeds([]float64{1}, 0)
		So(err, ShouldEqual, collect.ErrMaxSpeed)
	})

	Convey("CalculateDelay is signed whole seconds", t, func() {
		So(collect.CalculateDelay(t0, t0.Add(90*time.Second+400*time.Millisecond)), ShouldEqual, 90)
		So(collect.CalculateDelay(t0, t0.Add(-2*time.Minute)), ShouldEqual, -120)
	})

	Convey("Given maintenance on two sections", t, func() {
		limit := 60.0
		blocks := []model.MaintenanceBlock{
			{BlockID: "m1", SectionID: "AB", StartTime: t0, EndTime: t0.Add(time.Hour), Status: model.MaintenanceInProgress, SpeedRestriction: &limit},
			{BlockID: "m2", SectionID: "AB", StartTime: t0.Add(-time.Hour), EndTime: t0.Add(30 * time.Minute), Status: model.MaintenanceUrgent},
			{BlockID: "m3", SectionID: "AB", StartTime: t0, EndTime: t0.Add(time.Hour), Status: model.MaintenanceNone},
			{BlockID: "m4", SectionID: "BC", StartTime: t0, EndTime: t0.Add(time.Hour), Status: model.MaintenanceScheduled},
		}

		Convey("When computing the impact on AB at t0", func() {
			imp := collect.MaintenanceImpact(blocks, "AB", t0)

			Convey("Then only enforced active blocks count", func() {
				So(imp.ActiveBlocks, ShouldEqual, 2)
				So(imp.Closed, ShouldBeTrue)
				So(imp.SpeedRestrictions, ShouldResemble, []float64{60})
				So(imp.AffectedSeconds, ShouldEqual, 5400)
			})
		})

		Convey("When nothing is active", func() {
			imp := collect.MaintenanceImpact(blocks, "AB", t0.Add(2*time.Hour))
			So(imp.ActiveBlocks, ShouldEqual, 0)
			So(imp.SpeedRestrictions, ShouldBeEmpty)
		})
	})
}

func TestSectionMetrics(t *testing.T) {
	Convey("Given samples across two sections", t, func() {
		data := []model.RealTimeData{
			{TrainID: "IC1", SectionID: "AB", Timestamp: t0.Add(-10 * time.Minute), Speed: 100, Delay: 60},
			{TrainID: "IC1", SectionID: "AB", Timestamp: t0.Add(-5 * time.Minute), Speed: 80, Delay: 90},
			{TrainID: "RE2", SectionID: "AB", Timestamp: t0, Speed: 60, Delay: 0},
			{TrainID: "RE2", SectionID: "BC", Timestamp: t0.Add(-1 * time.Minute), Speed: 50},
			{TrainID: "IC9", SectionID: "AB", Timestamp: t0.Add(-2 * time.Hour), Speed: 10, Delay: 999},
		}
		conflicts := []conflict.Conflict{
			{SectionID: "AB", Kind: conflict.KindHeadway, WindowStart: t0, WindowEnd: t0.Add(2 * time.Minute)},
			{SectionID: "AB", Kind: conflict.KindCapacity, WindowStart: t0, WindowEnd: t0.Add(4 * time.Minute)},
			{SectionID: "BC", Kind: conflict.KindCapacity, WindowStart: t0, WindowEnd: t0.Add(time.Hour)},
		}

		Convey("When aggregating AB over the last hour", func() {
			m, ok := collect.SectionMetrics(data, "AB", time.Hour, t0, conflicts)

			Convey("Then stale samples are ignored", func() {
				So(ok, ShouldBeTrue)
				So(m.TrainsInSection, ShouldEqual, 2)
				So(m.AverageSpeed, ShouldEqual, 80)
				So(m.TotalDelay, ShouldEqual, 150)
				So(m.CapacityUtilization, ShouldEqual, 0.75)
				So(m.ConflictCount, ShouldEqual, 2)
				So(m.ResolutionTime, ShouldEqual, 180)
			})
		})

		Convey("When the section has no samples", func() {
			_, ok := collect.SectionMetrics(data, "CD", time.Hour, t0, nil)
			So(ok, ShouldBeFalse)
		})
	})
}
