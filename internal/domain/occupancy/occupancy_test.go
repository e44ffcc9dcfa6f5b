package occupancy_test

import (
	"testing"
	"time"

	"github.com/okian/railflow/internal/domain/occupancy"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func res(id string, from, to int) occupancy.Reservation {
	return occupancy.Reservation{ID: id, TrainID: "T-" + id, Start: at(from), End: at(to)}
}

func TestTimeline(t *testing.T) {
	Convey("Given a timeline with three reservations", t, func() {
		tl := occupancy.NewTimeline()
		tl.Insert(res("a", 0, 10))
		tl.Insert(res("b", 5, 15))
		tl.Insert(res("c", 20, 30))

		Convey("Then it keeps them ordered by start", func() {
			So(tl.Len(), ShouldEqual, 3)
			all := tl.All()
			So(all[0].ID, ShouldEqual, "a")
			So(all[2].ID, ShouldEqual, "c")
		})

		Convey("When re-inserting an id with new times", func() {
			tl.Insert(res("a", 40, 50))

			Convey("Then the old entry is replaced", func() {
				So(tl.Len(), ShouldEqual, 3)
				So(tl.All()[2].ID, ShouldEqual, "a")
			})
		})

		Convey("When removing", func() {
			So(tl.Remove("b"), ShouldBeTrue)
			So(tl.Remove("b"), ShouldBeFalse)
			So(tl.Len(), ShouldEqual, 2)
		})

		Convey("When querying overlap", func() {
			Convey("Then half-open windows are respected", func() {
				So(len(tl.Overlapping(at(10), at(20))), ShouldEqual, 1)
				So(len(tl.Overlapping(at(0), at(21))), ShouldEqual, 3)
				So(len(tl.Overlapping(at(15), at(20))), ShouldEqual, 0)
			})
		})

		Convey("When measuring concurrency", func() {
			So(tl.MaxConcurrent(at(0), at(30)), ShouldEqual, 2)
			So(tl.MaxConcurrent(at(10), at(30)), ShouldEqual, 1)
			So(tl.MaxConcurrent(at(16), at(19)), ShouldEqual, 0)
		})
	})
}

func TestEarliestSlot(t *testing.T) {
	Convey("Given a single-track timeline", t, func() {
		tl := occupancy.NewTimeline()

		Convey("When it is empty", func() {
			Convey("Then the requested time is free", func() {
				So(tl.EarliestSlot(at(3), 10*time.Minute, 1, 5*time.Minute), ShouldEqual, at(3))
			})
		})

		Convey("When a train holds the section", func() {
			tl.Insert(res("a", 0, 10))

			Convey("Then the next train waits for the padded exit", func() {
				So(tl.EarliestSlot(at(2), 10*time.Minute, 1, 5*time.Minute), ShouldEqual, at(15))
			})

			Convey("Then a slot that would run into a later train is skipped", func() {
				tl.Insert(res("b", 20, 30))
				// [15, 25+5) would overlap b, so the earliest fit follows b.
				So(tl.EarliestSlot(at(2), 10*time.Minute, 1, 5*time.Minute), ShouldEqual, at(35))
			})

			Convey("Then a short train fits the gap before a later train", func() {
				tl.Insert(res("b", 40, 50))
				So(tl.EarliestSlot(at(2), 10*time.Minute, 1, 5*time.Minute), ShouldEqual, at(15))
			})
		})
	})

	Convey("Given a double-track timeline", t, func() {
		tl := occupancy.NewTimeline()
		tl.Insert(res("a", 0, 30))

		Convey("Then a second train may share it after the entry headway", func() {
			So(tl.EarliestSlot(at(0), 10*time.Minute, 2, 5*time.Minute), ShouldEqual, at(5))
		})

		Convey("Then a third train must wait", func() {
			tl.Insert(res("b", 5, 30))
			So(tl.EarliestSlot(at(0), 10*time.Minute, 2, 5*time.Minute), ShouldEqual, at(35))
		})
	})
}

func TestGrid(t *testing.T) {
	Convey("Given timelines for two sections", t, func() {
		ab := occupancy.NewTimeline()
		ab.Insert(res("a", 0, 20))
		ab.Insert(res("b", 10, 20))
		timelines := map[string]*occupancy.Timeline{"AB": ab}

		Convey("When building a grid of 10 minute buckets", func() {
			g, err := occupancy.NewGrid([]string{"AB", "BC"}, timelines, t0, 30*time.Minute, 10*time.Minute)

			Convey("Then each cell holds the bucket peak", func() {
				So(err, ShouldBeNil)
				So(len(g.Cells), ShouldEqual, 3)
				So(g.Cells[0], ShouldResemble, []int{1, 0})
				So(g.Cells[1], ShouldResemble, []int{2, 0})
				So(g.Cells[2], ShouldResemble, []int{0, 0})
				So(g.Peak(0), ShouldEqual, 2)
				So(g.Peak(1), ShouldEqual, 0)
			})
		})

		Convey("When the step is zero", func() {
			_, err := occupancy.NewGrid([]string{"AB"}, timelines, t0, time.Hour, 0)
			So(err, ShouldEqual, occupancy.ErrGridShape)
		})
	})
}
