package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testConfig(url string) *Config {
	return &Config{
		BaseURL:         url,
		Trains:          3,
		SamplesPerTrain: 10,
		Sections:        []string{"AB", "BC"},
		DuplicateRate:   0.2,
		Interval:        30 * time.Second,
		Start:           t0,
		Seed:            7,
		Workers:         4,
		Timeout:         2 * time.Second,
	}
}

// fakeService dedupes on event id like the real intake and rejects every
// rejectEvery-th new sample with 429 when set.
type fakeService struct {
	mu          sync.Mutex
	seen        map[string]bool
	n           int
	rejectEvery int
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		w.WriteHeader(http.StatusOK)
	case "/stats":
		f.mu.Lock()
		n := len(f.seen)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": n})
	case "/telemetry":
		var d model.RealTimeData
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Validate() != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.seen[d.EventID] {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(ackResponse{Status: "duplicate", Duplicate: true, EventID: d.EventID})
			return
		}
		f.n++
		if f.rejectEvery > 0 && f.n%f.rejectEvery == 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		f.seen[d.EventID] = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ackResponse{Status: "accepted", EventID: d.EventID})
	default:
		http.NotFound(w, r)
	}
}

func TestGenerate(t *testing.T) {
	Convey("Given a simulator config", t, func() {
		cfg := testConfig("http://unused")

		Convey("Samples are valid and ordered per train", func() {
			samples, dups := generate(cfg, t0)
			So(dups, ShouldEqual, 6)
			So(samples, ShouldHaveLength, 36)
			for i := range samples {
				So(samples[i].Validate(), ShouldBeNil)
			}
			So(samples[0].Timestamp, ShouldEqual, t0)
			So(samples[9].Timestamp, ShouldEqual, t0.Add(9*30*time.Second))
			So(samples[0].SectionID, ShouldEqual, "AB")
			So(samples[9].SectionID, ShouldEqual, "BC")
		})

		Convey("Duplicates reuse event ids of generated samples", func() {
			samples, dups := generate(cfg, t0)
			ids := map[string]bool{}
			for _, s := range samples[:len(samples)-dups] {
				So(ids[s.EventID], ShouldBeFalse)
				ids[s.EventID] = true
			}
			for _, s := range samples[len(samples)-dups:] {
				So(ids[s.EventID], ShouldBeTrue)
			}
		})

		Convey("Invalid settings are rejected", func() {
			cfg.Sections = nil
			So(errors.Is(cfg.validate(), ErrConfig), ShouldBeTrue)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a service that deduplicates telemetry", t, func() {
		fake := &fakeService{seen: map[string]bool{}}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		Convey("Every unique sample is accepted once and every replay is a duplicate", func() {
			stats, err := Run(context.Background(), testConfig(srv.URL))
			So(err, ShouldBeNil)
			So(stats.Submitted, ShouldEqual, 36)
			So(stats.Accepted, ShouldEqual, 30)
			So(stats.Duplicate, ShouldEqual, 6)
			So(stats.Failed, ShouldEqual, 0)
			So(stats.Service["accepted"], ShouldEqual, float64(30))
		})

		Convey("Backpressure is counted separately", func() {
			fake.rejectEvery = 5
			cfg := testConfig(srv.URL)
			cfg.DuplicateRate = 0
			cfg.Workers = 1
			stats, err := Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(stats.Backpressure, ShouldEqual, 6)
			So(stats.Accepted, ShouldEqual, 24)
		})
	})

	Convey("An unreachable service fails the health check", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := Run(context.Background(), testConfig(url))
		So(err, ShouldNotBeNil)
	})
}
