package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/internal/domain/predict"
)

// Run statuses.
const (
	StatusCommitted        = "committed"
	StatusDryRun           = "dry_run"
	StatusNotImproved      = "not_improved"
	StatusBacktestRejected = "backtest_rejected"
	StatusNoNewData        = "no_new_data"
	StatusInsufficientData = "insufficient_data"
	StatusFailed           = "failed"
)

// Store is the persistence the learner needs.
type Store interface {
	predict.WeightsReader
	// OutcomesForSegment returns resolved predictions observed at or after since.
	OutcomesForSegment(ctx context.Context, segment string, since time.Time) ([]model.PredictionRecord, error)
	// PutWeights atomically replaces the active row and appends it to history.
	PutWeights(ctx context.Context, w model.SegmentWeights) error
}

// Result describes one learning run for one segment.
type Result struct {
	Segment    string          `json:"segment"`
	Status     string          `json:"status"`
	Source     string          `json:"source"`
	DryRun     bool            `json:"dry_run"`
	AsOf       time.Time       `json:"as_of"`
	Samples    int             `json:"samples"`
	Candidate  *Candidate      `json:"candidate,omitempty"`
	Backtest   *BacktestReport `json:"backtest,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// Option applies a configuration option to the Learner.
type Option func(*Learner)

// WithParams sets the fit parameters.
func WithParams(p Params) Option {
	return func(l *Learner) { l.params = p }
}

// WithDefaults sets the cold-start weights used as the baseline of a new segment.
func WithDefaults(d predict.Defaults) Option {
	return func(l *Learner) { l.defaults = d }
}

// WithLookback limits training to outcomes observed within d of the as-of date.
func WithLookback(d time.Duration) Option {
	return func(l *Learner) {
		if d > 0 {
			l.lookback = d
		}
	}
}

// WithClock sets the clock used for UpdatedAt and default as-of dates.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) {
		if now != nil {
			l.now = now
		}
	}
}

// Learner couples Fit with the store. It does not serialise runs itself;
// callers hold a per-segment lock around Learn.
type Learner struct {
	store    Store
	params   Params
	defaults predict.Defaults
	lookback time.Duration
	now      func() time.Time
}

// NewLearner creates a learner over store.
func NewLearner(store Store, opts ...Option) *Learner {
	l := &Learner{
		store:    store,
		params:   DefaultParams(),
		defaults: predict.DefaultDefaults(),
		lookback: 365 * 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Params returns the configured fit parameters.
func (l *Learner) Params() Params { return l.params }

// Learn fits the segment on outcomes up to asOf (zero means now) and commits
// the candidate when it improves on the held-out slice, unless dryRun.
// Insufficient data and no-new-data are statuses, not errors. Numerical
// failures leave the prior weights active and are reported in Result.Error.
// Only persistence failures are returned as errors.
func (l *Learner) Learn(ctx context.Context, segment string, asOf time.Time, dryRun bool) (res Result, err error) {
	started := l.now()
	if asOf.IsZero() {
		asOf = started
	}
	res = Result{Segment: segment, DryRun: dryRun, AsOf: asOf}
	defer func() { res.DurationMS = l.now().Sub(started).Milliseconds() }()

	current, source, err := predict.ResolveWeights(ctx, l.store, segment, l.defaults)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, err
	}
	res.Source = source

	records, err := l.store.OutcomesForSegment(ctx, segment, asOf.Add(-l.lookback))
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, fmt.Errorf("load outcomes for %q: %w", segment, err)
	}
	samples := upTo(SamplesFromRecords(records), asOf)
	res.Samples = len(samples)

	if source == model.SourceLearned && !hasNewer(samples, current.TrainedThrough) {
		res.Status = StatusNoNewData
		return res, nil
	}

	cand, err := Fit(samples, current, l.params)
	switch {
	case errors.Is(err, ErrInsufficientData):
		res.Status = StatusInsufficientData
		return res, nil
	case err != nil:
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, nil
	}
	res.Candidate = &cand

	if cand.Improved && l.params.BacktestGate {
		bt := Backtest(ctx, samples, samples[0].ObservedAt, asOf, current, l.params)
		res.Backtest = &bt
		if !bt.Improved {
			res.Status = StatusBacktestRejected
			return res, nil
		}
	}

	switch {
	case !cand.Improved:
		res.Status = StatusNotImproved
	case dryRun:
		res.Status = StatusDryRun
	default:
		if err := l.Commit(ctx, cand); err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			return res, err
		}
		res.Status = StatusCommitted
	}
	return res, nil
}

// Commit persists an improved candidate as the segment's active row.
func (l *Learner) Commit(ctx context.Context, c Candidate) error {
	if !c.Improved {
		return ErrNotImproved
	}
	w := c.Learned
	w.UpdatedAt = l.now()
	if !w.Valid() {
		return ErrNumericalInstability
	}
	if err := l.store.PutWeights(ctx, w); err != nil {
		return fmt.Errorf("commit weights for %q: %w", c.Segment, err)
	}
	return nil
}

func upTo(samples []Sample, asOf time.Time) []Sample {
	out := samples[:0:0]
	for _, s := range samples {
		if !s.ObservedAt.After(asOf) {
			out = append(out, s)
		}
	}
	return out
}

func hasNewer(samples []Sample, watermark time.Time) bool {
	for _, s := range samples {
		if s.ObservedAt.After(watermark) {
			return true
		}
	}
	return false
}
