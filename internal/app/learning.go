package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/learning"
	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/internal/domain/predict"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// StatusSkipped marks segments not reached before the learning budget ran out.
const StatusSkipped = "skipped"

// ErrMissingSegment is returned by operations that need a segment.
var ErrMissingSegment = errors.New("segment is required")

// LearningRequest selects what RunWeeklyLearning does. An empty Segment
// learns every known segment; a zero ForceDate learns as of now.
type LearningRequest struct {
	Segment   string    `json:"segment,omitempty"`
	ForceDate time.Time `json:"force_date,omitempty"`
	DryRun    bool      `json:"dry_run"`
}

// RunWeeklyLearning learns each requested segment. Segments run in parallel
// up to the configured concurrency and the same segment never runs twice at
// once. When the budget expires the remaining segments are reported as
// skipped. Persistence failures are joined into the returned error; every
// other outcome is a status in the results.
func (s *Service) RunWeeklyLearning(ctx context.Context, req LearningRequest) ([]learning.Result, error) {
	segments := []string{req.Segment}
	if req.Segment == "" {
		var err error
		if segments, err = s.store.Segments(ctx); err != nil {
			return nil, fmt.Errorf("list segments: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.learnBudget)
	defer cancel()

	results := make([]learning.Result, len(segments))
	errs := make([]error, len(segments))

	var g errgroup.Group
	g.SetLimit(s.learnConcurrency)
	for i, seg := range segments {
		g.Go(func() error {
			results[i], errs[i] = s.learnSegment(ctx, seg, req)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info(ctx, "learning sweep finished",
		logger.Int("segments", len(segments)),
		logger.Bool("dry_run", req.DryRun))
	return results, errors.Join(errs...)
}

func (s *Service) learnSegment(ctx context.Context, segment string, req LearningRequest) (learning.Result, error) {
	if err := ctx.Err(); err != nil {
		metrics.RecordLearningRun(segment, StatusSkipped, 0)
		return learning.Result{Segment: segment, Status: StatusSkipped, DryRun: req.DryRun, Error: err.Error()}, nil
	}

	lock := s.segmentLock(segment)
	lock.Lock()
	defer lock.Unlock()

	// Stores shared with other processes also serialise committing runs.
	if l, ok := s.store.(repository.SegmentLocker); ok && !req.DryRun {
		release, err := l.LockSegment(ctx, segment)
		if err != nil {
			metrics.RecordLearningRun(segment, learning.StatusFailed, 0)
			return learning.Result{Segment: segment, Status: learning.StatusFailed, Error: err.Error()}, err
		}
		defer release()
	}

	res, err := s.learner.Learn(ctx, segment, req.ForceDate, req.DryRun)
	metrics.RecordLearningRun(segment, res.Status, float64(res.DurationMS))

	fields := []logger.Field{
		logger.String("segment", segment),
		logger.String("status", res.Status),
		logger.Int("samples", res.Samples),
	}
	switch {
	case err != nil:
		s.logger.Error(ctx, "learning run failed", append(fields, logger.Error(err))...)
	case res.Status == learning.StatusFailed:
		s.logger.Error(ctx, "weight fit failed, prior weights retained", append(fields, logger.String("error", res.Error))...)
	case res.Status == learning.StatusCommitted:
		publishWeights(res.Candidate.Learned)
		s.logger.Info(ctx, "segment weights updated", append(fields,
			logger.Float64("baseline_score", res.Candidate.BaselineScore),
			logger.Float64("learned_score", res.Candidate.LearnedScore))...)
	default:
		s.logger.Info(ctx, "learning run finished", fields...)
	}
	return res, err
}

func publishWeights(w model.SegmentWeights) {
	metrics.UpdateSegmentWeight(w.Segment, "b0", w.B0)
	v := w.Weights.Vector()
	for i, name := range model.FeatureNames {
		metrics.UpdateSegmentWeight(w.Segment, name, v[i])
	}
}

// BacktestRequest selects the replay window. A zero From starts at the
// oldest outcome; a zero To ends now.
type BacktestRequest struct {
	Segment string    `json:"segment"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
}

// Backtest replays a segment's outcomes week by week, starting from the
// weights that were active at From. The replay is bounded by the learning
// budget; an interrupted replay is returned marked partial.
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (learning.BacktestReport, error) {
	if req.Segment == "" {
		return learning.BacktestReport{}, ErrMissingSegment
	}
	records, err := s.store.OutcomesForSegment(ctx, req.Segment, time.Time{})
	if err != nil {
		return learning.BacktestReport{}, fmt.Errorf("load outcomes for %q: %w", req.Segment, err)
	}
	samples := learning.SamplesFromRecords(records)

	to := req.To
	if to.IsZero() {
		to = s.now()
	}
	from := req.From
	if from.IsZero() && len(samples) > 0 {
		from = samples[0].ObservedAt
	}
	if from.IsZero() || !from.Before(to) {
		return learning.BacktestReport{}, fmt.Errorf("%w: from %s to %s", ErrInvalidWindow, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	start, err := s.weightsAt(ctx, req.Segment, from)
	if err != nil {
		return learning.BacktestReport{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.learnBudget)
	defer cancel()
	rep := learning.Backtest(ctx, samples, from, to, start, s.learnParams)
	s.logger.Info(ctx, "backtest finished",
		logger.String("segment", req.Segment),
		logger.Int("weeks", len(rep.Weeks)),
		logger.Bool("improved", rep.Improved),
		logger.Bool("partial", rep.Partial))
	return rep, nil
}

// weightsAt returns the newest historical row written at or before t, or
// the defaults.
func (s *Service) weightsAt(ctx context.Context, segment string, t time.Time) (model.SegmentWeights, error) {
	history, err := s.store.WeightsHistory(ctx, segment, 100)
	if err != nil {
		return model.SegmentWeights{}, fmt.Errorf("load weights history for %q: %w", segment, err)
	}
	for _, w := range history {
		if !w.UpdatedAt.After(t) && w.Valid() {
			return w, nil
		}
	}
	return s.defaults.Weights(segment), nil
}

// WeightsView is the active row of a segment plus its recent history.
type WeightsView struct {
	Segment string                 `json:"segment"`
	Source  string                 `json:"source"`
	Active  model.SegmentWeights   `json:"active"`
	History []model.SegmentWeights `json:"history"`
}

// ActiveWeights resolves the weights predictions for segment currently use.
func (s *Service) ActiveWeights(ctx context.Context, segment string, historyLimit int) (WeightsView, error) {
	if segment == "" {
		return WeightsView{}, ErrMissingSegment
	}
	w, source, err := predict.ResolveWeights(ctx, s.store, segment, s.defaults)
	if err != nil {
		return WeightsView{}, err
	}
	view := WeightsView{Segment: segment, Source: source, Active: w, History: []model.SegmentWeights{}}
	if historyLimit > 0 {
		h, err := s.store.WeightsHistory(ctx, segment, historyLimit)
		if err != nil {
			return WeightsView{}, fmt.Errorf("load weights history for %q: %w", segment, err)
		}
		view.History = h
	}
	return view, nil
}
