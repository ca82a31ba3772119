package api

import (
	"context"
	"net/http"

	"github.com/okian/tradevalue/internal/domain/model"
)

const defaultHistoryLimit = 10

// DriftDependencies defines what the drift handlers need.
type DriftDependencies interface {
	RunDriftDetection(ctx context.Context, segment string) (model.DriftReport, error)
	GetDriftReport(ctx context.Context, segment string) (*model.DriftReport, error)
	DriftHistory(ctx context.Context, segment string, limit int) ([]model.DriftReport, error)
}

// DriftHandler runs and serves drift reports. The optional segment query
// parameter scopes every route; empty means all segments.
type DriftHandler struct {
	deps DriftDependencies
}

// NewDriftHandler creates a new drift handler.
func NewDriftHandler(deps DriftDependencies) *DriftHandler {
	return &DriftHandler{deps: deps}
}

type driftRunRequest struct {
	Segment string `json:"segment"`
}

type driftRunResponse struct {
	Report model.DriftReport `json:"report"`
	Error  string            `json:"error,omitempty"`
}

// HandleRun handles POST /v1/drift/run requests.
func (h *DriftHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.drift_run"
	var req driftRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	if req.Segment == "" {
		req.Segment = r.URL.Query().Get("segment")
	}
	rep, err := h.deps.RunDriftDetection(r.Context(), req.Segment)
	if err != nil && rep.ID == "" {
		writeServiceError(w, op, err)
		return
	}
	resp := driftRunResponse{Report: rep}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// HandleReport handles GET /v1/drift/report requests.
func (h *DriftHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.drift_report"
	rep, err := h.deps.GetDriftReport(r.Context(), r.URL.Query().Get("segment"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if rep == nil {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// HandleHistory handles GET /v1/drift/history requests.
func (h *DriftHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.drift_history"
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	reports, err := h.deps.DriftHistory(r.Context(), r.URL.Query().Get("segment"), limit)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if reports == nil {
		reports = []model.DriftReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}
