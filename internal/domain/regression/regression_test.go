package regression_test

import (
	"errors"
	"testing"

	"github.com/okian/railflow/internal/domain/regression"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStandardScaler(t *testing.T) {
	Convey("Given a scaler", t, func() {
		s := &regression.StandardScaler{}

		Convey("When transforming before fitting", func() {
			_, err := s.Transform([][]float64{{1}})
			So(err, ShouldEqual, regression.ErrNotFitted)
		})

		Convey("When fit on two columns, one constant", func() {
			out, err := s.FitTransform([][]float64{{1, 5}, {3, 5}})

			Convey("Then columns are standardised and the constant column is centred", func() {
				So(err, ShouldBeNil)
				So(s.Mean, ShouldResemble, []float64{2, 5})
				So(s.Scale, ShouldResemble, []float64{1, 1})
				So(out, ShouldResemble, [][]float64{{-1, 0}, {1, 0}})
			})

			Convey("Then a mismatched width is rejected", func() {
				_, err := s.Transform([][]float64{{1, 2, 3}})
				So(errors.Is(err, regression.ErrShape), ShouldBeTrue)
			})
		})

		Convey("When the input is ragged", func() {
			err := s.Fit([][]float64{{1, 2}, {3}})
			So(errors.Is(err, regression.ErrShape), ShouldBeTrue)
		})
	})
}

func TestRidge(t *testing.T) {
	Convey("Given data on the plane y = 2a - b + 3", t, func() {
		X := [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {2, 3}, {4, 1}}
		y := make([]float64, len(X))
		for i, row := range X {
			y[i] = 2*row[0] - row[1] + 3
		}

		Convey("When fitting without regularisation", func() {
			r := regression.NewRidge(0)
			So(r.Fit(X, y), ShouldBeNil)

			Convey("Then the plane is recovered", func() {
				So(r.Coef[0], ShouldAlmostEqual, 2, 1e-9)
				So(r.Coef[1], ShouldAlmostEqual, -1, 1e-9)
				So(r.Intercept, ShouldAlmostEqual, 3, 1e-9)

				pred, err := r.Predict([][]float64{{10, 10}})
				So(err, ShouldBeNil)
				So(pred[0], ShouldAlmostEqual, 13, 1e-9)
			})
		})

		Convey("When fitting with strong regularisation", func() {
			r := regression.NewRidge(1000)
			So(r.Fit(X, y), ShouldBeNil)

			Convey("Then coefficients shrink towards zero", func() {
				So(r.Coef[0], ShouldBeBetween, 0, 0.2)
			})
		})

		Convey("When a column duplicates another without regularisation", func() {
			dup := [][]float64{{1, 1}, {2, 2}, {3, 3}}
			err := regression.NewRidge(0).Fit(dup, []float64{1, 2, 3})
			So(err, ShouldEqual, regression.ErrSingular)
		})

		Convey("When targets and rows disagree", func() {
			err := regression.NewRidge(1).Fit(X, y[:2])
			So(errors.Is(err, regression.ErrShape), ShouldBeTrue)
		})

		Convey("When predicting before fit", func() {
			_, err := regression.NewRidge(1).Predict(X)
			So(err, ShouldEqual, regression.ErrNotFitted)
		})
	})
}
