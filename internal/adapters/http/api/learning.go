package api

import (
	"context"
	"net/http"

	service "github.com/okian/tradevalue/internal/app"
	"github.com/okian/tradevalue/internal/domain/learning"
)

// LearningDependencies defines what the learning handlers need.
type LearningDependencies interface {
	RunWeeklyLearning(ctx context.Context, req service.LearningRequest) ([]learning.Result, error)
	Backtest(ctx context.Context, req service.BacktestRequest) (learning.BacktestReport, error)
}

// LearningHandler triggers learning runs and backtests.
type LearningHandler struct {
	deps LearningDependencies
}

// NewLearningHandler creates a new learning handler.
func NewLearningHandler(deps LearningDependencies) *LearningHandler {
	return &LearningHandler{deps: deps}
}

type learningResponse struct {
	Results []learning.Result `json:"results"`
	Error   string            `json:"error,omitempty"`
}

// HandleRun handles POST /v1/learning/run requests. An empty body learns
// every segment as of now. Per-segment results are returned even when some
// segments fail to persist; the status is then 500.
func (h *LearningHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.learning_run"
	var req service.LearningRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	results, err := h.deps.RunWeeklyLearning(r.Context(), req)
	if err != nil && len(results) == 0 {
		writeServiceError(w, op, err)
		return
	}
	resp := learningResponse{Results: results}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	if resp.Results == nil {
		resp.Results = []learning.Result{}
	}
	writeJSON(w, status, resp)
}

// HandleBacktest handles POST /v1/learning/backtest requests.
func (h *LearningHandler) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	const op = "api.learning_backtest"
	var req service.BacktestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	rep, err := h.deps.Backtest(r.Context(), req)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
