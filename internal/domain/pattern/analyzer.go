// Package pattern forecasts section congestion from recent traffic and flags
// traffic windows that deviate from the learned baseline.
package pattern

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/railflow/internal/domain/regression"
)

var (
	// ErrNotTrained is returned before a successful Train.
	ErrNotTrained = errors.New("pattern model not trained")
	// ErrInsufficientData is returned when there are too few points for a window.
	ErrInsufficientData = errors.New("insufficient traffic data")
	// ErrSequenceShape is returned for windows of the wrong length or width.
	ErrSequenceShape = errors.New("sequence shape mismatch")
)

// Features per time step: train_count, avg_speed, congestion_level.
const Features = 3

// Defaults for the analyzer.
const (
	DefaultSequenceLength = 24
	DefaultContamination  = 0.1
	DefaultAlpha          = 1.0
)

// Point is one time step of section traffic.
type Point struct {
	Timestamp       time.Time `json:"timestamp,omitempty"`
	TrainCount      float64   `json:"train_count"`
	AvgSpeed        float64   `json:"avg_speed"`
	CongestionLevel float64   `json:"congestion_level"`
}

func (p Point) row() []float64 { return []float64{p.TrainCount, p.AvgSpeed, p.CongestionLevel} }

// Sequence is a window of time steps, each of Features values.
type Sequence [][]float64

// Analysis is the result of Analyze.
type Analysis struct {
	PredictedPattern  float64 `json:"predicted_pattern"`
	AnomaliesDetected []bool  `json:"anomalies_detected"`
	Anomalies         int     `json:"anomalies"`
}

// Analyzer is an autoregressive ridge forecaster with a z-score anomaly
// baseline. It is safe for concurrent use.
type Analyzer struct {
	seqLen        int
	contamination float64
	alpha         float64
	now           func() time.Time

	mu        sync.RWMutex
	state     *trained
	trainedAt time.Time
}

type trained struct {
	scaler     *regression.StandardScaler
	forecaster *regression.Ridge
	mean       [Features]float64
	std        [Features]float64
	threshold  float64
	samples    int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSequenceLength sets the window length; values below 2 are ignored.
func WithSequenceLength(n int) Option {
	return func(a *Analyzer) {
		if n >= 2 {
			a.seqLen = n
		}
	}
}

// WithContamination sets the expected anomaly share in (0, 0.5).
func WithContamination(c float64) Option {
	return func(a *Analyzer) {
		if c > 0 && c < 0.5 {
			a.contamination = c
		}
	}
}

// WithAlpha sets the forecaster's ridge strength.
func WithAlpha(alpha float64) Option {
	return func(a *Analyzer) {
		if alpha >= 0 {
			a.alpha = alpha
		}
	}
}

// WithClock sets the time source for TrainedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer creates an untrained analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{seqLen: DefaultSequenceLength, contamination: DefaultContamination, alpha: DefaultAlpha, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SequenceLength returns the configured window length.
func (a *Analyzer) SequenceLength() int { return a.seqLen }

// PrepareSequences slides a window over points. Each window's target is the
// congestion level of the point that follows it.
func (a *Analyzer) PrepareSequences(points []Point) ([]Sequence, []float64, error) {
	if len(points) < a.seqLen+1 {
		return nil, nil, fmt.Errorf("%w: %d points, need %d", ErrInsufficientData, len(points), a.seqLen+1)
	}
	n := len(points) - a.seqLen
	seqs := make([]Sequence, n)
	targets := make([]float64, n)
	for i := 0; i < n; i++ {
		seqs[i] = window(points[i : i+a.seqLen])
		targets[i] = points[i+a.seqLen].CongestionLevel
	}
	return seqs, targets, nil
}

func window(points []Point) Sequence {
	s := make(Sequence, len(points))
	for i, p := range points {
		s[i] = p.row()
	}
	return s
}

func (a *Analyzer) check(s Sequence) error {
	if len(s) != a.seqLen {
		return fmt.Errorf("%w: %d steps, want %d", ErrSequenceShape, len(s), a.seqLen)
	}
	for i, step := range s {
		if len(step) != Features {
			return fmt.Errorf("%w: step %d has %d values, want %d", ErrSequenceShape, i, len(step), Features)
		}
	}
	return nil
}

func flatten(s Sequence) []float64 {
	out := make([]float64, 0, len(s)*Features)
	for _, step := range s {
		out = append(out, step...)
	}
	return out
}

// Train fits the forecaster and the anomaly baseline.
func (a *Analyzer) Train(seqs []Sequence, targets []float64) error {
	if len(seqs) == 0 {
		return ErrInsufficientData
	}
	if len(seqs) != len(targets) {
		return fmt.Errorf("%w: %d sequences, %d targets", ErrSequenceShape, len(seqs), len(targets))
	}
	X := make([][]float64, len(seqs))
	for i, s := range seqs {
		if err := a.check(s); err != nil {
			return fmt.Errorf("sequence %d: %w", i, err)
		}
		X[i] = flatten(s)
	}

	st := &trained{scaler: &regression.StandardScaler{}, forecaster: regression.NewRidge(a.alpha), samples: len(seqs)}
	scaled, err := st.scaler.FitTransform(X)
	if err != nil {
		return err
	}
	if err := st.forecaster.Fit(scaled, targets); err != nil {
		return err
	}

	var count float64
	for _, s := range seqs {
		for _, step := range s {
			for f, v := range step {
				st.mean[f] += v
			}
			count++
		}
	}
	for f := range st.mean {
		st.mean[f] /= count
	}
	for _, s := range seqs {
		for _, step := range s {
			for f, v := range step {
				d := v - st.mean[f]
				st.std[f] += d * d
			}
		}
	}
	for f := range st.std {
		st.std[f] = math.Sqrt(st.std[f] / count)
		if st.std[f] == 0 {
			st.std[f] = 1
		}
	}

	scores := make([]float64, len(seqs))
	for i, s := range seqs {
		scores[i] = st.score(s)
	}
	st.threshold = quantile(scores, 1-a.contamination)

	a.mu.Lock()
	a.state = st
	a.trainedAt = a.now()
	a.mu.Unlock()
	return nil
}

// score is the mean absolute z-score of every value in s.
func (st *trained) score(s Sequence) float64 {
	var sum float64
	for _, step := range s {
		for f, v := range step {
			sum += math.Abs(v-st.mean[f]) / st.std[f]
		}
	}
	return sum / float64(len(s)*Features)
}

// quantile returns the nearest-rank q quantile of values.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	k := int(math.Ceil(q*float64(len(sorted)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(sorted) {
		k = len(sorted) - 1
	}
	return sorted[k]
}

func (a *Analyzer) current() (*trained, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state == nil {
		return nil, ErrNotTrained
	}
	return a.state, nil
}

// PredictPattern forecasts the congestion level after s.
func (a *Analyzer) PredictPattern(s Sequence) (float64, error) {
	st, err := a.current()
	if err != nil {
		return 0, err
	}
	if err := a.check(s); err != nil {
		return 0, err
	}
	X, err := st.scaler.Transform([][]float64{flatten(s)})
	if err != nil {
		return 0, err
	}
	out, err := st.forecaster.Predict(X)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// DetectAnomalies flags each window whose score exceeds the trained threshold.
func (a *Analyzer) DetectAnomalies(seqs []Sequence) ([]bool, error) {
	st, err := a.current()
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(seqs))
	for i, s := range seqs {
		if err := a.check(s); err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		out[i] = st.score(s) > st.threshold
	}
	return out, nil
}

// Analyze forecasts the congestion after the latest window of points and
// flags every window of points.
func (a *Analyzer) Analyze(points []Point) (Analysis, error) {
	if len(points) < a.seqLen {
		return Analysis{}, fmt.Errorf("%w: %d points, need %d", ErrInsufficientData, len(points), a.seqLen)
	}
	seqs := make([]Sequence, 0, len(points)-a.seqLen+1)
	for i := 0; i+a.seqLen <= len(points); i++ {
		seqs = append(seqs, window(points[i:i+a.seqLen]))
	}
	next, err := a.PredictPattern(seqs[len(seqs)-1])
	if err != nil {
		return Analysis{}, err
	}
	flags, err := a.DetectAnomalies(seqs)
	if err != nil {
		return Analysis{}, err
	}
	res := Analysis{PredictedPattern: next, AnomaliesDetected: flags}
	for _, f := range flags {
		if f {
			res.Anomalies++
		}
	}
	return res, nil
}

// Fit prepares windows from points and trains on them, returning the number
// of windows used.
func (a *Analyzer) Fit(points []Point) (int, error) {
	seqs, targets, err := a.PrepareSequences(points)
	if err != nil {
		return 0, err
	}
	if err := a.Train(seqs, targets); err != nil {
		return 0, err
	}
	return len(seqs), nil
}

// Status describes the fitted model.
type Status struct {
	Trained   bool      `json:"trained"`
	Samples   int       `json:"samples"`
	Threshold float64   `json:"threshold"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
}

// Status returns a snapshot of the model state.
func (a *Analyzer) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state == nil {
		return Status{}
	}
	return Status{Trained: true, Samples: a.state.samples, Threshold: a.state.threshold, TrainedAt: a.trainedAt}
}
