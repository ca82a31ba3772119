package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	service "github.com/okian/tradevalue/internal/app"
)

// WeightsDependencies defines what the weights handler needs.
type WeightsDependencies interface {
	ActiveWeights(ctx context.Context, segment string, historyLimit int) (service.WeightsView, error)
}

// WeightsHandler exposes the active weights of a segment.
type WeightsHandler struct {
	deps WeightsDependencies
}

// NewWeightsHandler creates a new weights handler.
func NewWeightsHandler(deps WeightsDependencies) *WeightsHandler {
	return &WeightsHandler{deps: deps}
}

// HandleGetWeights handles GET /v1/weights/{segment}?history=N requests.
func (h *WeightsHandler) HandleGetWeights(w http.ResponseWriter, r *http.Request) {
	const op = "api.weights"
	limit, err := queryInt(r, "history", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	view, err := h.deps.ActiveWeights(r.Context(), mux.Vars(r)["segment"], limit)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
