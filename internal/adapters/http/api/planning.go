package api

import (
	"net/http"

	"github.com/okian/railflow/internal/domain/conflict"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/pattern"
	"github.com/okian/railflow/internal/domain/prediction"
	"github.com/okian/railflow/internal/domain/schedule"
)

// PlanningHandler exposes the optimizer, the conflict detector and both models.
type PlanningHandler struct {
	deps PlanningDependencies
}

// NewPlanningHandler creates a new planning handler.
func NewPlanningHandler(deps PlanningDependencies) *PlanningHandler {
	return &PlanningHandler{deps: deps}
}

type conflictRequest struct {
	Movements         []model.TrainMovement    `json:"movements"`
	MaintenanceBlocks []model.MaintenanceBlock `json:"maintenance_blocks,omitempty"`
}

type samplesResponse struct {
	Samples int `json:"samples"`
}

type sequencesResponse struct {
	Sequences int `json:"sequences"`
}

// HandleOptimize handles POST /optimize/schedule requests.
func (h *PlanningHandler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	const op = "api.optimize"
	var req schedule.Request
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeFailure(w, err)
		return
	}
	plan, err := h.deps.OptimizeSchedule(r.Context(), req)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// HandleConflicts handles POST and GET /conflicts requests. Both carry a body.
func (h *PlanningHandler) HandleConflicts(w http.ResponseWriter, r *http.Request) {
	const op = "api.conflicts"
	var req conflictRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeFailure(w, err)
		return
	}
	out, err := h.deps.DetectConflicts(r.Context(), req.Movements, req.MaintenanceBlocks)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []conflict.Conflict{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePredictDelays handles POST /predict/delays requests.
func (h *PlanningHandler) HandlePredictDelays(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict_delays"
	var features []prediction.Features
	if err := decodeJSON(w, r, op, &features); err != nil {
		writeFailure(w, err)
		return
	}
	out, err := h.deps.PredictDelays(r.Context(), features)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []float64{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleTrainDelays handles POST /train/delays requests.
func (h *PlanningHandler) HandleTrainDelays(w http.ResponseWriter, r *http.Request) {
	const op = "api.train_delays"
	var records []prediction.Record
	if err := decodeJSON(w, r, op, &records); err != nil {
		writeFailure(w, err)
		return
	}
	n, err := h.deps.TrainDelayModel(r.Context(), records)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, samplesResponse{Samples: n})
}

// HandleAnalyzePattern handles POST /analyze/pattern requests.
func (h *PlanningHandler) HandleAnalyzePattern(w http.ResponseWriter, r *http.Request) {
	const op = "api.analyze_pattern"
	var points []pattern.Point
	if err := decodeJSON(w, r, op, &points); err != nil {
		writeFailure(w, err)
		return
	}
	a, err := h.deps.AnalyzePattern(r.Context(), points)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleTrainPattern handles POST /train/pattern requests.
func (h *PlanningHandler) HandleTrainPattern(w http.ResponseWriter, r *http.Request) {
	const op = "api.train_pattern"
	var points []pattern.Point
	if err := decodeJSON(w, r, op, &points); err != nil {
		writeFailure(w, err)
		return
	}
	n, err := h.deps.TrainPatternModel(r.Context(), points)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sequencesResponse{Sequences: n})
}
