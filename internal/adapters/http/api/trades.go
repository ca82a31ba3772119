package api

import (
	"context"
	"net/http"

	"github.com/okian/tradevalue/internal/domain/model"
)

// TradeDependencies defines what the trade analysis handler needs.
type TradeDependencies interface {
	AnalyzeTrade(ctx context.Context, offer model.TradeOffer) (model.TradeAnalysis, error)
}

// TradesHandler handles trade analysis requests.
type TradesHandler struct {
	deps TradeDependencies
}

// NewTradesHandler creates a new trades handler.
func NewTradesHandler(deps TradeDependencies) *TradesHandler {
	return &TradesHandler{deps: deps}
}

// HandleAnalyze handles POST /v1/trades/analyze requests.
func (h *TradesHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	const op = "api.analyze_trade"
	var offer model.TradeOffer
	if err := decodeJSON(w, r, &offer); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	analysis, err := h.deps.AnalyzeTrade(r.Context(), offer)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
