package api

import (
	"context"
	"net/http"

	"github.com/okian/tradevalue/internal/domain/model"
)

// OutcomeDependencies defines what the outcome handler needs.
type OutcomeDependencies interface {
	RecordOutcome(ctx context.Context, o model.Outcome) error
}

// OutcomesHandler handles outcome ingestion.
type OutcomesHandler struct {
	deps OutcomeDependencies
}

// NewOutcomesHandler creates a new outcomes handler.
func NewOutcomesHandler(deps OutcomeDependencies) *OutcomesHandler {
	return &OutcomesHandler{deps: deps}
}

type ackResponse struct {
	Status       string `json:"status"`
	TradeOfferID string `json:"trade_offer_id"`
}

// HandlePostOutcome handles POST /v1/outcomes requests. Outcomes are applied
// asynchronously once the service is started, hence 202.
func (h *OutcomesHandler) HandlePostOutcome(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_outcome"
	var o model.Outcome
	if err := decodeJSON(w, r, &o); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.RecordOutcome(r.Context(), o); err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", TradeOfferID: o.TradeOfferID})
}
