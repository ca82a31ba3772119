// Package repository defines the persistence contract of the engine and an
// in-memory implementation of it.
package repository

import (
	"context"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

// PredictionQuery selects persisted predictions by creation time.
type PredictionQuery struct {
	Segment      string
	Since        time.Time
	Until        time.Time
	ResolvedOnly bool
	Limit        int
}

// Stats summarises what the store holds.
type Stats struct {
	Predictions  int `json:"predictions"`
	Resolved     int `json:"resolved"`
	Segments     int `json:"segments"`
	WeightRows   int `json:"weight_rows"`
	DriftReports int `json:"drift_reports"`
}

// Store is the persistence collaborator. Weight writes replace a segment's
// active row atomically; drift reports and weight history are append-only.
type Store interface {
	// SavePrediction inserts a prediction. Returns ErrDuplicate when the
	// offer already has one.
	SavePrediction(ctx context.Context, r model.PredictionRecord) error
	// RecordOutcome attaches an outcome to its prediction. Returns
	// ErrNotFound for an unknown offer and ErrDuplicate if already resolved.
	RecordOutcome(ctx context.Context, o model.Outcome) error
	// Prediction returns one prediction or ErrNotFound.
	Prediction(ctx context.Context, offerID string) (model.PredictionRecord, error)
	// Predictions returns matching predictions ordered by creation time.
	Predictions(ctx context.Context, q PredictionQuery) ([]model.PredictionRecord, error)
	// OutcomesForSegment returns resolved predictions whose outcome was
	// observed at or after since, ordered by observation time.
	OutcomesForSegment(ctx context.Context, segment string, since time.Time) ([]model.PredictionRecord, error)

	// ActiveWeights returns found=false when the segment has no row.
	ActiveWeights(ctx context.Context, segment string) (model.SegmentWeights, bool, error)
	// PutWeights appends w to history and makes it the active row in one step.
	PutWeights(ctx context.Context, w model.SegmentWeights) error
	// WeightsHistory returns up to limit rows, newest first.
	WeightsHistory(ctx context.Context, segment string, limit int) ([]model.SegmentWeights, error)

	// AppendDriftReport stores a report; reports are never updated.
	AppendDriftReport(ctx context.Context, r model.DriftReport) error
	// DriftHistory returns up to limit reports for segment ("" is the
	// all-segment run), newest first.
	DriftHistory(ctx context.Context, segment string, limit int) ([]model.DriftReport, error)

	// Segments lists every segment with predictions or weights.
	Segments(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
}

// SegmentLocker is implemented by stores that several processes write to.
// LockSegment blocks until no other holder has segment, and release gives
// it up.
type SegmentLocker interface {
	LockSegment(ctx context.Context, segment string) (release func(), err error)
}
