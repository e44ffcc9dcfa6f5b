// Package regression provides feature scaling and ridge linear regression
// for the delay and congestion models.
package regression

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFitted is returned when transforming or predicting before Fit.
	ErrNotFitted = errors.New("not fitted")
	// ErrShape is returned for empty or ragged input, or mismatched widths.
	ErrShape = errors.New("shape mismatch")
	// ErrSingular is returned when the normal equations have no unique solution.
	ErrSingular = errors.New("singular system")
)

func width(X [][]float64) (int, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return 0, fmt.Errorf("%w: empty matrix", ErrShape)
	}
	w := len(X[0])
	for i, row := range X {
		if len(row) != w {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), w)
		}
	}
	return w, nil
}

// StandardScaler centres each column on its mean and divides by its
// population standard deviation. Constant columns get scale 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit learns column means and scales from X.
func (s *StandardScaler) Fit(X [][]float64) error {
	w, err := width(X)
	if err != nil {
		return err
	}
	n := float64(len(X))
	mean := make([]float64, w)
	for _, row := range X {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	scale := make([]float64, w)
	for _, row := range X {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	s.Mean, s.Scale = mean, scale
	return nil
}

// Fitted reports whether Fit has succeeded.
func (s *StandardScaler) Fitted() bool { return len(s.Mean) > 0 }

// Transform returns a scaled copy of X.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	w, err := width(X)
	if err != nil {
		return nil, err
	}
	if w != len(s.Mean) {
		return nil, fmt.Errorf("%w: %d columns, scaler fitted on %d", ErrShape, w, len(s.Mean))
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = make([]float64, w)
		for j, v := range row {
			out[i][j] = (v - s.Mean[j]) / s.Scale[j]
		}
	}
	return out, nil
}

// FitTransform is Fit followed by Transform.
func (s *StandardScaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// Ridge is L2-regularised least squares with an unpenalised intercept.
type Ridge struct {
	Alpha     float64   `json:"alpha"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// NewRidge returns an unfitted model with regularisation strength alpha.
func NewRidge(alpha float64) *Ridge {
	if alpha < 0 {
		alpha = 0
	}
	return &Ridge{Alpha: alpha}
}

// Fitted reports whether Fit has succeeded.
func (r *Ridge) Fitted() bool { return r.Coef != nil }

// Fit solves (XcᵀXc + αI)w = Xcᵀyc on centred data.
func (r *Ridge) Fit(X [][]float64, y []float64) error {
	w, err := width(X)
	if err != nil {
		return err
	}
	if len(y) != len(X) {
		return fmt.Errorf("%w: %d rows, %d targets", ErrShape, len(X), len(y))
	}
	n := float64(len(X))
	xMean := make([]float64, w)
	yMean := 0.0
	for i, row := range X {
		for j, v := range row {
			xMean[j] += v
		}
		yMean += y[i]
	}
	for j := range xMean {
		xMean[j] /= n
	}
	yMean /= n

	// Augmented system [A | b].
	a := make([][]float64, w)
	for j := range a {
		a[j] = make([]float64, w+1)
	}
	for i, row := range X {
		yc := y[i] - yMean
		for j := 0; j < w; j++ {
			xj := row[j] - xMean[j]
			for k := j; k < w; k++ {
				a[j][k] += xj * (row[k] - xMean[k])
			}
			a[j][w] += xj * yc
		}
	}
	for j := 0; j < w; j++ {
		for k := 0; k < j; k++ {
			a[j][k] = a[k][j]
		}
		a[j][j] += r.Alpha
	}

	coef, err := solve(a)
	if err != nil {
		return err
	}
	intercept := yMean
	for j, c := range coef {
		intercept -= c * xMean[j]
	}
	r.Coef, r.Intercept = coef, intercept
	return nil
}

// Predict returns one prediction per row of X.
func (r *Ridge) Predict(X [][]float64) ([]float64, error) {
	if !r.Fitted() {
		return nil, ErrNotFitted
	}
	w, err := width(X)
	if err != nil {
		return nil, err
	}
	if w != len(r.Coef) {
		return nil, fmt.Errorf("%w: %d columns, model fitted on %d", ErrShape, w, len(r.Coef))
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v := r.Intercept
		for j, c := range r.Coef {
			v += c * row[j]
		}
		out[i] = v
	}
	return out, nil
}

// solve runs Gaussian elimination with partial pivoting on the augmented
// matrix a, which it overwrites.
func solve(a [][]float64) ([]float64, error) {
	n := len(a)
	const eps = 1e-12
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < eps {
			return nil, ErrSingular
		}
		a[col], a[pivot] = a[pivot], a[col]
		for row := col + 1; row < n; row++ {
			f := a[row][col] / a[col][col]
			for k := col; k <= n; k++ {
				a[row][k] -= f * a[col][k]
			}
		}
	}
	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		v := a[row][n]
		for k := row + 1; k < n; k++ {
			v -= a[row][k] * x[k]
		}
		x[row] = v / a[row][row]
	}
	return x, nil
}
