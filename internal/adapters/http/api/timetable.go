package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/railflow/internal/domain/model"
)

// TimetableHandler stores and lists train schedules.
type TimetableHandler struct {
	deps TimetableDependencies
}

// NewTimetableHandler creates a new timetable handler.
func NewTimetableHandler(deps TimetableDependencies) *TimetableHandler {
	return &TimetableHandler{deps: deps}
}

// HandlePutSchedule handles POST /schedules requests. A schedule with a known
// id replaces the stored one.
func (h *TimetableHandler) HandlePutSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_schedule"
	var sc model.TrainSchedule
	if err := decodeJSON(w, r, op, &sc); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.deps.PutSchedule(r.Context(), sc); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// HandleTrainSchedules handles GET /trains/{trainID}/schedules requests.
func (h *TimetableHandler) HandleTrainSchedules(w http.ResponseWriter, r *http.Request) {
	const op = "api.train_schedules"
	out, err := h.deps.TrainSchedules(r.Context(), chi.URLParam(r, "trainID"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []model.TrainSchedule{}
	}
	writeJSON(w, http.StatusOK, out)
}
