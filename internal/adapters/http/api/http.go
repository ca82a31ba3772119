// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	service "github.com/okian/tradevalue/internal/app"
	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/model"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Each handler only sees the slice
// of it that it needs.
type Dependencies interface {
	TradeDependencies
	OutcomeDependencies
	CalibrationDependencies
	LearningDependencies
	DriftDependencies
	WeightsDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	tradesHandler      *TradesHandler
	outcomesHandler    *OutcomesHandler
	calibrationHandler *CalibrationHandler
	learningHandler    *LearningHandler
	driftHandler       *DriftHandler
	weightsHandler     *WeightsHandler

	limiter *rate.Limiter
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithRateLimit throttles /v1 routes to rps requests per second with the
// given burst. Zero rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		tradesHandler:      NewTradesHandler(deps),
		outcomesHandler:    NewOutcomesHandler(deps),
		calibrationHandler: NewCalibrationHandler(deps),
		learningHandler:    NewLearningHandler(deps),
		driftHandler:       NewDriftHandler(deps),
		weightsHandler:     NewWeightsHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	if r == nil {
		panic("router is nil")
	}
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(RateLimitMiddleware(s.limiter))
	v1.HandleFunc("/trades/analyze", MetricsMiddleware(s.tradesHandler.HandleAnalyze, "trades_analyze")).Methods(http.MethodPost)
	v1.HandleFunc("/outcomes", MetricsMiddleware(s.outcomesHandler.HandlePostOutcome, "outcomes")).Methods(http.MethodPost)
	v1.HandleFunc("/calibration/dashboard", MetricsMiddleware(s.calibrationHandler.HandleDashboard, "calibration_dashboard")).Methods(http.MethodGet)
	v1.HandleFunc("/learning/run", MetricsMiddleware(s.learningHandler.HandleRun, "learning_run")).Methods(http.MethodPost)
	v1.HandleFunc("/learning/backtest", MetricsMiddleware(s.learningHandler.HandleBacktest, "learning_backtest")).Methods(http.MethodPost)
	v1.HandleFunc("/drift/run", MetricsMiddleware(s.driftHandler.HandleRun, "drift_run")).Methods(http.MethodPost)
	v1.HandleFunc("/drift/report", MetricsMiddleware(s.driftHandler.HandleReport, "drift_report")).Methods(http.MethodGet)
	v1.HandleFunc("/drift/history", MetricsMiddleware(s.driftHandler.HandleHistory, "drift_history")).Methods(http.MethodGet)
	v1.HandleFunc("/weights/{segment}", MetricsMiddleware(s.weightsHandler.HandleGetWeights, "weights")).Methods(http.MethodGet)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps an error returned by the service to a status code.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code, kind := classify(err)
	writeError(w, status, code, WrapKind(op, kind, err))
}

func classify(err error) (int, string, error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidOffer),
		errors.Is(err, service.ErrInvalidOutcome),
		errors.Is(err, service.ErrInvalidWindow),
		errors.Is(err, service.ErrMissingSegment),
		errors.Is(err, model.ErrInvalidOffer),
		errors.Is(err, model.ErrEmptySide),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request", ErrBadRequest
	case errors.Is(err, service.ErrUnknownOffer), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found", ErrNotFound
	case errors.Is(err, service.ErrDuplicateOutcome), errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict, "duplicate", ErrConflict
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure", ErrBackpressure
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout", ErrUnavailable
	default:
		return http.StatusInternalServerError, "internal", ErrInternal
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrBadRequest, name)
	}
	return n, nil
}
