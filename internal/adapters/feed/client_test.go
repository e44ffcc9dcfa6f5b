package feed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/railflow/internal/adapters/feed"
	"github.com/okian/railflow/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func upstream() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/trains/IC101/position", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"train_id":"IC101","section_id":"AB","speed":95.5,
			"position":{"latitude":52.5,"longitude":13.4},"timestamp":"2026-03-02T08:00:00Z"}`))
	})
	mux.HandleFunc("/sections/AB/weather", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"section_id":"AB","condition":"fog","visibility":0.4}`))
	})
	mux.HandleFunc("/trains/broken/position", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	mux.HandleFunc("/trains/slow/position", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	})
	return httptest.NewServer(mux)
}

func TestClient(t *testing.T) {
	Convey("Given an upstream feed", t, func() {
		srv := upstream()
		defer srv.Close()
		c, err := feed.NewClient(srv.URL+"/", feed.WithTimeout(50*time.Millisecond))
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("Telemetry is decoded", func() {
			d, err := c.FetchRealTime(ctx, "IC101")
			So(err, ShouldBeNil)
			So(d.SectionID, ShouldEqual, "AB")
			So(d.Speed, ShouldEqual, 95.5)
			So(d.Timestamp.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("Weather is decoded", func() {
			w, err := c.FetchWeather(ctx, "AB")
			So(err, ShouldBeNil)
			So(w.Condition, ShouldEqual, model.WeatherFog)
			So(w.Visibility, ShouldEqual, 0.4)
		})

		Convey("A 404 is returned as a StatusError", func() {
			_, err := c.FetchWeather(ctx, "ZZ")
			var se *feed.StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("A malformed body is an error", func() {
			_, err := c.FetchRealTime(ctx, "broken")
			So(err, ShouldNotBeNil)
		})

		Convey("A slow upstream hits the timeout", func() {
			_, err := c.FetchRealTime(ctx, "slow")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("An invalid base url is rejected", t, func() {
		_, err := feed.NewClient("not a url")
		So(err, ShouldNotBeNil)
	})
}
