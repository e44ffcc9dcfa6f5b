// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/pattern"
	"github.com/okian/railflow/internal/domain/prediction"
	"github.com/okian/railflow/internal/domain/schedule"
)

const (
	maxBodyBytes  = 4 << 20
	defaultRange  = 24 * time.Hour
	defaultWindow = time.Hour
)

// TelemetryDependencies covers telemetry intake and fleet reads.
type TelemetryDependencies interface {
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)

	// Enqueue pushes telemetry for async recording. Returns false on backpressure.
	Enqueue(ctx context.Context, d model.RealTimeData) bool

	FleetPosition(ctx context.Context, trainID string) (model.RealTimeData, error)
	TrainHistory(ctx context.Context, trainID string, from, to time.Time) ([]model.RealTimeData, error)
	CollectRealTime(ctx context.Context, trainID string) (model.RealTimeData, error)
}

// PlanningDependencies covers the decision-support engines.
type PlanningDependencies interface {
	OptimizeSchedule(ctx context.Context, req schedule.Request) (*schedule.Plan, error)
	DetectConflicts(ctx context.Context, movements []model.TrainMovement, blocks []model.MaintenanceBlock) ([]conflict.Conflict, error)
	PredictDelays(ctx context.Context, features []prediction.Features) ([]float64, error)
	TrainDelayModel(ctx context.Context, records []prediction.Record) (int, error)
	AnalyzePattern(ctx context.Context, points []pattern.Point) (pattern.Analysis, error)
	TrainPatternModel(ctx context.Context, points []pattern.Point) (int, error)
}

// NetworkDependencies covers track sections and what is recorded on them.
type NetworkDependencies interface {
	PutTrackSection(ctx context.Context, ts model.TrackSection) error
	GetTrackSection(ctx context.Context, sectionID string) (model.TrackSection, error)
	ListTrackSections(ctx context.Context) ([]model.TrackSection, error)
	UpdateTrackSection(ctx context.Context, sectionID string, patch []byte) (model.TrackSection, error)
	SectionHistory(ctx context.Context, sectionID string, from, to time.Time) ([]model.RealTimeData, error)

	RecordWeather(ctx context.Context, w model.WeatherData) error
	WeatherHistory(ctx context.Context, sectionID string, from, to time.Time) ([]model.WeatherData, error)
	CollectWeather(ctx context.Context, sectionID string) (model.WeatherData, error)

	AddMaintenanceBlock(ctx context.Context, b model.MaintenanceBlock) error
	ActiveMaintenance(ctx context.Context, sectionID string, at time.Time) ([]model.MaintenanceBlock, error)
	MaintenanceImpact(ctx context.Context, sectionID string, at time.Time) (collect.Impact, error)

	SectionMetrics(ctx context.Context, sectionID string, window time.Duration) (model.OperationalMetrics, error)
	SystemMetrics(ctx context.Context, from, to time.Time) (model.SystemMetrics, error)
}

// TimetableDependencies covers stored train schedules.
type TimetableDependencies interface {
	PutSchedule(ctx context.Context, s model.TrainSchedule) error
	TrainSchedules(ctx context.Context, trainID string) ([]model.TrainSchedule, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	TelemetryDependencies
	PlanningDependencies
	NetworkDependencies
	TimetableDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	telemetryHandler *TelemetryHandler
	planningHandler  *PlanningHandler
	networkHandler   *NetworkHandler
	timetable        *TimetableHandler

	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithClock replaces time.Now for default query ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.telemetryHandler.now = now
			s.networkHandler.now = now
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		telemetryHandler: NewTelemetryHandler(deps),
		planningHandler:  NewPlanningHandler(deps),
		networkHandler:   NewNetworkHandler(deps),
		timetable:        NewTimetableHandler(deps),
		origins:          []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with middleware and every business route.
// Callers may mount further routes on it.
func (s *Server) Router(_ context.Context) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         600,
	}).Handler)
	r.Use(MetricsMiddleware)

	r.Get("/", handleRoot)
	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	t := s.telemetryHandler
	r.Post("/telemetry", t.HandlePostTelemetry)
	r.Route("/trains/{trainID}", func(r chi.Router) {
		r.Get("/position", t.HandlePosition)
		r.Get("/history", t.HandleHistory)
		r.Post("/collect", t.HandleCollect)
		r.Get("/schedules", s.timetable.HandleTrainSchedules)
	})
	r.Post("/schedules", s.timetable.HandlePutSchedule)

	p := s.planningHandler
	r.Post("/optimize/schedule", p.HandleOptimize)
	r.Post("/conflicts", p.HandleConflicts)
	r.Get("/conflicts", p.HandleConflicts)
	r.Post("/predict/delays", p.HandlePredictDelays)
	r.Post("/train/delays", p.HandleTrainDelays)
	r.Post("/analyze/pattern", p.HandleAnalyzePattern)
	r.Post("/train/pattern", p.HandleTrainPattern)

	n := s.networkHandler
	r.Post("/maintenance", n.HandleAddMaintenance)
	r.Get("/metrics/system", n.HandleSystemMetrics)
	r.Route("/sections", func(r chi.Router) {
		r.Post("/", n.HandleCreateSection)
		r.Get("/", n.HandleListSections)
		r.Route("/{sectionID}", func(r chi.Router) {
			r.Get("/", n.HandleGetSection)
			r.Patch("/", n.HandlePatchSection)
			r.Get("/telemetry", n.HandleSectionTelemetry)
			r.Post("/weather", n.HandlePostWeather)
			r.Get("/weather", n.HandleListWeather)
			r.Post("/weather/collect", n.HandleCollectWeather)
			r.Get("/maintenance", n.HandleActiveMaintenance)
			r.Get("/maintenance/impact", n.HandleMaintenanceImpact)
			r.Get("/metrics", n.HandleSectionMetrics)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, NewKind("api.route", ErrNotFound))
	})
	return r
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Train Traffic Control System API"})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure picks the status from the error chain.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	raw, err := readBody(w, r, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, op string) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, WrapKind(op, ErrTooLarge, err)
		}
		return nil, WrapKind(op, ErrBadRequest, err)
	}
	if len(raw) == 0 {
		return nil, WrapKind(op, ErrBadRequest, errors.New("empty body"))
	}
	return raw, nil
}

// queryTime parses an RFC3339 query parameter, falling back to def.
func queryTime(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s; must be RFC3339", key)
	}
	return t, nil
}

// queryRange reads from/to, defaulting to the day before now.
func queryRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	to, err := queryTime(r, "to", now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := queryTime(r, "from", to.Add(-defaultRange))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to, nil
}
