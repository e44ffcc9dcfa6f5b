package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/railflow/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a deduper with default options", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When an event id arrives for the first time", func() {
			seen := d.SeenAndRecord(ctx, "evt-1")

			Convey("Then it is recorded as new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then a repeat is reported as seen", func() {
				So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an event is unrecorded after a rejected enqueue", func() {
			d.SeenAndRecord(ctx, "evt-1")
			d.Unrecord(ctx, "evt-1")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
			})
		})

		Convey("When unrecording an unknown id", func() {
			d.Unrecord(ctx, "missing")
			So(d.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a deduper bounded to three ids", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"a", "b", "c"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("When a fourth id arrives", func() {
			d.SeenAndRecord(ctx, "d")

			Convey("Then the oldest id is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.Evictions(), ShouldEqual, 1)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			})
		})

		Convey("When a middle id is unrecorded", func() {
			d.Unrecord(ctx, "b")
			d.SeenAndRecord(ctx, "d")

			Convey("Then the freed slot is reused without eviction", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.Evictions(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i))
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 1000)
			So(d.Evictions(), ShouldEqual, 0)
			So(d.SeenAndRecord(ctx, "evt-0"), ShouldBeTrue)
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given goroutines racing on the same ids", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10000))
		const workers = 8
		const ids = 200

		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < ids; i++ {
					if !d.SeenAndRecord(context.Background(), fmt.Sprintf("evt-%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is reported new exactly once", func() {
			So(fresh, ShouldEqual, ids)
			So(d.Size(), ShouldEqual, ids)
		})
	})
}
