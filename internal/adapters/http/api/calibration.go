package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/tradevalue/internal/domain/calibration"
)

const defaultWindowDays = 28

// CalibrationDependencies defines what the dashboard handler needs.
type CalibrationDependencies interface {
	GetDashboard(ctx context.Context, windowDays int, f calibration.Filters) (calibration.Dashboard, error)
}

// CalibrationHandler serves the calibration dashboard.
type CalibrationHandler struct {
	deps CalibrationDependencies
}

// NewCalibrationHandler creates a new calibration handler.
func NewCalibrationHandler(deps CalibrationDependencies) *CalibrationHandler {
	return &CalibrationHandler{deps: deps}
}

// HandleDashboard handles GET /v1/calibration/dashboard requests.
// Query: window_days, segment, mode, drill_key, drill_value.
func (h *CalibrationHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.calibration_dashboard"
	window, err := queryInt(r, "window_days", defaultWindowDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	q := r.URL.Query()
	f := calibration.Filters{
		Segment:    q.Get("segment"),
		Mode:       q.Get("mode"),
		DrillKey:   q.Get("drill_key"),
		DrillValue: q.Get("drill_value"),
	}
	if (f.DrillKey == "") != (f.DrillValue == "") {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("drill_key and drill_value must be set together")))
		return
	}
	d, err := h.deps.GetDashboard(r.Context(), window, f)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
