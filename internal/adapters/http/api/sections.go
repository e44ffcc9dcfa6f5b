package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/railflow/internal/domain/model"
)

// NetworkHandler serves track sections and the data recorded against them.
type NetworkHandler struct {
	deps NetworkDependencies
	now  func() time.Time
}

// NewNetworkHandler creates a new network handler.
func NewNetworkHandler(deps NetworkDependencies) *NetworkHandler {
	return &NetworkHandler{deps: deps, now: time.Now}
}

// HandleCreateSection handles POST /sections requests.
func (h *NetworkHandler) HandleCreateSection(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_section"
	var ts model.TrackSection
	if err := decodeJSON(w, r, op, &ts); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.deps.PutTrackSection(r.Context(), ts); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

// HandleListSections handles GET /sections requests.
func (h *NetworkHandler) HandleListSections(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_sections"
	out, err := h.deps.ListTrackSections(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []model.TrackSection{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetSection handles GET /sections/{sectionID} requests.
func (h *NetworkHandler) HandleGetSection(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_section"
	ts, err := h.deps.GetTrackSection(r.Context(), chi.URLParam(r, "sectionID"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// HandlePatchSection handles PATCH /sections/{sectionID} requests. The body is
// a partial TrackSection merged over the stored one.
func (h *NetworkHandler) HandlePatchSection(w http.ResponseWriter, r *http.Request) {
	const op = "api.patch_section"
	raw, err := readBody(w, r, op)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ts, err := h.deps.UpdateTrackSection(r.Context(), chi.URLParam(r, "sectionID"), raw)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// HandleSectionTelemetry handles GET /sections/{sectionID}/telemetry requests.
func (h *NetworkHandler) HandleSectionTelemetry(w http.ResponseWriter, r *http.Request) {
	const op = "api.section_telemetry"
	from, to, err := queryRange(r, h.now())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.SectionHistory(r.Context(), chi.URLParam(r, "sectionID"), from, to)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []model.RealTimeData{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePostWeather handles POST /sections/{sectionID}/weather requests.
func (h *NetworkHandler) HandlePostWeather(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_weather"
	var wd model.WeatherData
	if err := decodeJSON(w, r, op, &wd); err != nil {
		writeFailure(w, err)
		return
	}
	sectionID := chi.URLParam(r, "sectionID")
	switch wd.SectionID {
	case "":
		wd.SectionID = sectionID
	case sectionID:
	default:
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("section_id does not match path")))
		return
	}
	if err := h.deps.RecordWeather(r.Context(), wd); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// HandleListWeather handles GET /sections/{sectionID}/weather requests.
func (h *NetworkHandler) HandleListWeather(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_weather"
	from, to, err := queryRange(r, h.now())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.WeatherHistory(r.Context(), chi.URLParam(r, "sectionID"), from, to)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []model.WeatherData{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCollectWeather handles POST /sections/{sectionID}/weather/collect requests.
func (h *NetworkHandler) HandleCollectWeather(w http.ResponseWriter, r *http.Request) {
	const op = "api.collect_weather"
	wd, err := h.deps.CollectWeather(r.Context(), chi.URLParam(r, "sectionID"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// HandleAddMaintenance handles POST /maintenance requests.
func (h *NetworkHandler) HandleAddMaintenance(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_maintenance"
	var b model.MaintenanceBlock
	if err := decodeJSON(w, r, op, &b); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.deps.AddMaintenanceBlock(r.Context(), b); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// HandleActiveMaintenance handles GET /sections/{sectionID}/maintenance requests.
func (h *NetworkHandler) HandleActiveMaintenance(w http.ResponseWriter, r *http.Request) {
	const op = "api.active_maintenance"
	at, err := queryTime(r, "at", h.now())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.ActiveMaintenance(r.Context(), chi.URLParam(r, "sectionID"), at)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out == nil {
		out = []model.MaintenanceBlock{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleMaintenanceImpact handles GET /sections/{sectionID}/maintenance/impact requests.
func (h *NetworkHandler) HandleMaintenanceImpact(w http.ResponseWriter, r *http.Request) {
	const op = "api.maintenance_impact"
	at, err := queryTime(r, "at", h.now())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	imp, err := h.deps.MaintenanceImpact(r.Context(), chi.URLParam(r, "sectionID"), at)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, imp)
}

// HandleSectionMetrics handles GET /sections/{sectionID}/metrics requests.
func (h *NetworkHandler) HandleSectionMetrics(w http.ResponseWriter, r *http.Request) {
	const op = "api.section_metrics"
	window, err := queryWindow(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	m, err := h.deps.SectionMetrics(r.Context(), chi.URLParam(r, "sectionID"), window)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleSystemMetrics handles GET /metrics/system requests.
func (h *NetworkHandler) HandleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	const op = "api.system_metrics"
	from, to, err := queryRange(r, h.now())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	m, err := h.deps.SystemMetrics(r.Context(), from, to)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// queryWindow accepts a Go duration ("90m") or a number of seconds.
func queryWindow(r *http.Request) (time.Duration, error) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return defaultWindow, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, serr := strconv.ParseFloat(v, 64)
		if serr != nil {
			return 0, errors.New("invalid window; use a duration or seconds")
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, errors.New("window must be positive")
	}
	return d, nil
}
