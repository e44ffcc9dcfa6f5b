// Package prediction estimates train delays from calendar, traffic, weather
// and maintenance features.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/regression"
)

var (
	// ErrNotTrained is returned by Predict before a successful Train or Fit.
	ErrNotTrained = errors.New("delay model not trained")
	// ErrNoData is returned when training input is empty.
	ErrNoData = errors.New("no training data")
)

// DefaultAlpha is the ridge strength used when none is configured.
const DefaultAlpha = 1.0

// Features are the model inputs for one train passage.
type Features struct {
	DayOfWeek         int                     `json:"day_of_week"` // 0 = Sunday
	TimeOfDay         float64                 `json:"time_of_day"` // hours since midnight
	TrainType         model.TrainType         `json:"train_type"`
	SectionLoad       float64                 `json:"section_load"` // 0..1
	WeatherCondition  model.WeatherCondition  `json:"weather_condition"`
	MaintenanceStatus model.MaintenanceStatus `json:"maintenance_status"`
}

// Record is a historical passage with its observed delay in seconds.
type Record struct {
	Features
	Delay float64 `json:"delay"`
}

// FeaturesAt fills the calendar features from t.
func FeaturesAt(t time.Time) Features {
	return Features{
		DayOfWeek: int(t.Weekday()),
		TimeOfDay: float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600,
	}
}

// Vector encodes f in the fixed column order the model is trained on.
func (f Features) Vector() ([]float64, error) {
	switch {
	case f.DayOfWeek < 0 || f.DayOfWeek > 6:
		return nil, fmt.Errorf("%w: day_of_week %d outside 0..6", model.ErrInvalid, f.DayOfWeek)
	case f.TimeOfDay < 0 || f.TimeOfDay >= 24:
		return nil, fmt.Errorf("%w: time_of_day %.2f outside [0, 24)", model.ErrInvalid, f.TimeOfDay)
	case !f.TrainType.Valid():
		return nil, fmt.Errorf("%w: unknown train_type %q", model.ErrInvalid, f.TrainType)
	case !f.WeatherCondition.Valid():
		return nil, fmt.Errorf("%w: unknown weather_condition %q", model.ErrInvalid, f.WeatherCondition)
	case !f.MaintenanceStatus.Valid():
		return nil, fmt.Errorf("%w: unknown maintenance_status %q", model.ErrInvalid, f.MaintenanceStatus)
	case f.SectionLoad < 0 || math.IsNaN(f.SectionLoad):
		return nil, fmt.Errorf("%w: section_load must not be negative", model.ErrInvalid)
	}
	return []float64{
		float64(f.DayOfWeek),
		f.TimeOfDay,
		float64(f.TrainType.Index()),
		f.SectionLoad,
		float64(f.WeatherCondition.Severity()),
		float64(f.MaintenanceStatus.Index()),
	}, nil
}

// DelayPredictor is a scaled ridge regression over Features. It is safe for
// concurrent use; training swaps the fitted state atomically.
type DelayPredictor struct {
	mu        sync.RWMutex
	alpha     float64
	scaler    *regression.StandardScaler
	model     *regression.Ridge
	samples   int
	trainedAt time.Time
	now       func() time.Time
}

// Option configures a DelayPredictor.
type Option func(*DelayPredictor)

// WithAlpha sets the ridge regularisation strength.
func WithAlpha(alpha float64) Option {
	return func(p *DelayPredictor) {
		if alpha >= 0 {
			p.alpha = alpha
		}
	}
}

// WithClock sets the time source for TrainedAt.
func WithClock(now func() time.Time) Option {
	return func(p *DelayPredictor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewDelayPredictor creates an untrained predictor.
func NewDelayPredictor(opts ...Option) *DelayPredictor {
	p := &DelayPredictor{alpha: DefaultAlpha, scaler: &regression.StandardScaler{}, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func vectors(features []Features) ([][]float64, error) {
	X := make([][]float64, len(features))
	for i, f := range features {
		v, err := f.Vector()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		X[i] = v
	}
	return X, nil
}

// PrepareFeatures encodes records, fits the scaler on them and returns the
// scaled matrix with its delay labels.
func (p *DelayPredictor) PrepareFeatures(records []Record) ([][]float64, []float64, error) {
	scaler, X, y, err := prepare(records)
	if err != nil {
		return nil, nil, err
	}
	p.mu.Lock()
	p.scaler = scaler
	p.mu.Unlock()
	return X, y, nil
}

func prepare(records []Record) (*regression.StandardScaler, [][]float64, []float64, error) {
	if len(records) == 0 {
		return nil, nil, nil, ErrNoData
	}
	features := make([]Features, len(records))
	y := make([]float64, len(records))
	for i, r := range records {
		features[i] = r.Features
		y[i] = r.Delay
	}
	raw, err := vectors(features)
	if err != nil {
		return nil, nil, nil, err
	}
	scaler := &regression.StandardScaler{}
	X, err := scaler.FitTransform(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	return scaler, X, y, nil
}

// Train fits the regression on an already scaled matrix.
func (p *DelayPredictor) Train(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return ErrNoData
	}
	r := regression.NewRidge(p.alpha)
	if err := r.Fit(X, y); err != nil {
		return err
	}
	p.mu.Lock()
	p.model = r
	p.samples = len(X)
	p.trainedAt = p.now()
	p.mu.Unlock()
	return nil
}

// Fit prepares and trains in one step and returns the sample count.
func (p *DelayPredictor) Fit(records []Record) (int, error) {
	scaler, X, y, err := prepare(records)
	if err != nil {
		return 0, err
	}
	r := regression.NewRidge(p.alpha)
	if err := r.Fit(X, y); err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.scaler, p.model = scaler, r
	p.samples = len(X)
	p.trainedAt = p.now()
	p.mu.Unlock()
	return len(X), nil
}

// Predict returns the expected delay in seconds for each input. Negative
// estimates are clamped to zero.
func (p *DelayPredictor) Predict(features []Features) ([]float64, error) {
	p.mu.RLock()
	scaler, m := p.scaler, p.model
	p.mu.RUnlock()
	if m == nil || !scaler.Fitted() {
		return nil, ErrNotTrained
	}
	if len(features) == 0 {
		return []float64{}, nil
	}
	raw, err := vectors(features)
	if err != nil {
		return nil, err
	}
	X, err := scaler.Transform(raw)
	if err != nil {
		return nil, err
	}
	out, err := m.Predict(X)
	if err != nil {
		return nil, err
	}
	for i, v := range out {
		if v < 0 {
			out[i] = 0
		}
	}
	return out, nil
}

// Trained reports whether Predict can serve.
func (p *DelayPredictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Status describes the fitted model.
type Status struct {
	Trained   bool      `json:"trained"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
}

// Status returns a snapshot of the model state.
func (p *DelayPredictor) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{Trained: p.model != nil, Samples: p.samples, TrainedAt: p.trainedAt}
}
