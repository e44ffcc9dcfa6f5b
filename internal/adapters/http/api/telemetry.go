package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/railflow/internal/domain/model"
)

// TelemetryHandler handles train telemetry intake and fleet reads.
type TelemetryHandler struct {
	deps TelemetryDependencies
	now  func() time.Time
}

// NewTelemetryHandler creates a new telemetry handler.
func NewTelemetryHandler(deps TelemetryDependencies) *TelemetryHandler {
	return &TelemetryHandler{deps: deps, now: time.Now}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	EventID   string `json:"event_id"`
}

// HandlePostTelemetry handles POST /telemetry requests.
func (h *TelemetryHandler) HandlePostTelemetry(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_telemetry"
	var d model.RealTimeData
	if err := decodeJSON(w, r, op, &d); err != nil {
		writeFailure(w, err)
		return
	}
	if err := d.Validate(); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if d.EventID == "" {
		d.EventID = d.TrainID + "@" + strconv.FormatInt(d.Timestamp.UnixNano(), 10)
	}

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), d.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true, EventID: d.EventID})
		return
	}

	if ok := h.deps.Enqueue(r.Context(), d); !ok {
		// Rollback the "seen" status since enqueue failed
		h.deps.Unrecord(r.Context(), d.EventID)
		writeFailure(w, NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: d.EventID})
}

// HandlePosition handles GET /trains/{trainID}/position requests.
func (h *TelemetryHandler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	const op = "api.position"
	d, err := h.deps.FleetPosition(r.Context(), chi.URLParam(r, "trainID"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleHistory handles GET /trains/{trainID}/history requests.
func (h *TelemetryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.history"
	from, to, err := queryRange(r, h.now())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.TrainHistory(r.Context(), chi.URLParam(r, "trainID"), from, to)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []model.RealTimeData{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCollect handles POST /trains/{trainID}/collect requests.
func (h *TelemetryHandler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	const op = "api.collect"
	d, err := h.deps.CollectRealTime(r.Context(), chi.URLParam(r, "trainID"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, d)
}
