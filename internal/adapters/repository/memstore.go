package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/pkg/metrics"
)

const defaultMaxLimit = 1000

// MemoryStore is a process-local Store. Values are copied on the way in and
// out so callers never share maps or slices with the store.
type MemoryStore struct {
	mu sync.RWMutex

	predictions map[string]model.PredictionRecord
	// order holds offer IDs by insertion; CreatedAt ties keep it.
	order []string

	active  map[string]model.SegmentWeights
	history map[string][]model.SegmentWeights // oldest first
	drift   map[string][]model.DriftReport    // oldest first

	historyLimit int
	maxLimit     int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		predictions: make(map[string]model.PredictionRecord),
		active:      make(map[string]model.SegmentWeights),
		history:     make(map[string][]model.SegmentWeights),
		drift:       make(map[string][]model.DriftReport),
		maxLimit:    defaultMaxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func observe(start time.Time, write bool) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	if write {
		metrics.RecordRepositoryUpdateLatency(ms)
		return
	}
	metrics.RecordRepositoryQueryLatency(ms)
}

// SavePrediction implements Store.
func (s *MemoryStore) SavePrediction(ctx context.Context, r model.PredictionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.OfferID == "" {
		return fmt.Errorf("%w: missing offer id", ErrInvalidRecord)
	}
	defer observe(time.Now(), true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.predictions[r.OfferID]; ok {
		return fmt.Errorf("%w: prediction %s", ErrDuplicate, r.OfferID)
	}
	s.predictions[r.OfferID] = copyRecord(r)
	s.order = append(s.order, r.OfferID)
	metrics.UpdateStoredPredictions(len(s.predictions))
	return nil
}

// RecordOutcome implements Store.
func (s *MemoryStore) RecordOutcome(ctx context.Context, o model.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer observe(time.Now(), true)

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.predictions[o.TradeOfferID]
	if !ok {
		return fmt.Errorf("%w: prediction %s", ErrNotFound, o.TradeOfferID)
	}
	if r.Outcome != nil {
		return fmt.Errorf("%w: outcome for %s", ErrDuplicate, o.TradeOfferID)
	}
	out := o
	r.Outcome = &out
	s.predictions[o.TradeOfferID] = r
	return nil
}

// Prediction implements Store.
func (s *MemoryStore) Prediction(ctx context.Context, offerID string) (model.PredictionRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PredictionRecord{}, err
	}
	defer observe(time.Now(), false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.predictions[offerID]
	if !ok {
		return model.PredictionRecord{}, fmt.Errorf("%w: prediction %s", ErrNotFound, offerID)
	}
	return copyRecord(r), nil
}

// Predictions implements Store.
func (s *MemoryStore) Predictions(ctx context.Context, q PredictionQuery) ([]model.PredictionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	defer observe(time.Now(), false)

	s.mu.RLock()
	out := make([]model.PredictionRecord, 0, len(s.order))
	for _, id := range s.order {
		r := s.predictions[id]
		if q.Segment != "" && r.Segment != q.Segment {
			continue
		}
		if q.ResolvedOnly && !r.Resolved() {
			continue
		}
		if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && r.CreatedAt.After(q.Until) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// OutcomesForSegment implements Store.
func (s *MemoryStore) OutcomesForSegment(ctx context.Context, segment string, since time.Time) ([]model.PredictionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer observe(time.Now(), false)

	s.mu.RLock()
	var out []model.PredictionRecord
	for _, id := range s.order {
		r := s.predictions[id]
		if r.Segment != segment || r.Outcome == nil {
			continue
		}
		if r.Outcome.ObservedAt.Before(since) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Outcome.ObservedAt.Before(out[j].Outcome.ObservedAt)
	})
	return out, nil
}

// ActiveWeights implements Store.
func (s *MemoryStore) ActiveWeights(ctx context.Context, segment string) (model.SegmentWeights, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.SegmentWeights{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.active[segment]
	return w, ok, nil
}

// PutWeights implements Store.
func (s *MemoryStore) PutWeights(ctx context.Context, w model.SegmentWeights) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.Segment == "" || !w.Valid() {
		return fmt.Errorf("%w: weights for %q", ErrInvalidRecord, w.Segment)
	}
	defer observe(time.Now(), true)

	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[w.Segment], w)
	if s.historyLimit > 0 && len(h) > s.historyLimit {
		h = h[len(h)-s.historyLimit:]
	}
	s.history[w.Segment] = h
	s.active[w.Segment] = w
	return nil
}

// WeightsHistory implements Store.
func (s *MemoryStore) WeightsHistory(ctx context.Context, segment string, limit int) ([]model.SegmentWeights, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[segment]
	out := make([]model.SegmentWeights, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

// AppendDriftReport implements Store.
func (s *MemoryStore) AppendDriftReport(ctx context.Context, r model.DriftReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("%w: drift report without id", ErrInvalidRecord)
	}
	defer observe(time.Now(), true)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.drift[r.Segment] {
		if existing.ID == r.ID {
			return fmt.Errorf("%w: drift report %s", ErrDuplicate, r.ID)
		}
	}
	reports := append(s.drift[r.Segment], copyReport(r))
	if s.historyLimit > 0 && len(reports) > s.historyLimit {
		reports = reports[len(reports)-s.historyLimit:]
	}
	s.drift[r.Segment] = reports
	return nil
}

// DriftHistory implements Store.
func (s *MemoryStore) DriftHistory(ctx context.Context, segment string, limit int) ([]model.DriftReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.drift[segment]
	out := make([]model.DriftReport, 0, min(limit, len(reports)))
	for i := len(reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyReport(reports[i]))
	}
	return out, nil
}

// Segments implements Store.
func (s *MemoryStore) Segments(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range s.predictions {
		seen[r.Segment] = struct{}{}
	}
	for seg := range s.active {
		seen[seg] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for seg := range seen {
		if seg != "" {
			out = append(out, seg)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	segs, err := s.Segments(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Predictions: len(s.predictions), Segments: len(segs)}
	for _, r := range s.predictions {
		if r.Resolved() {
			st.Resolved++
		}
	}
	for _, h := range s.history {
		st.WeightRows += len(h)
	}
	for _, d := range s.drift {
		st.DriftReports += len(d)
	}
	return st, nil
}

func (s *MemoryStore) checkLimit(limit int) error {
	if limit <= 0 || limit > s.maxLimit {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidLimit, limit, s.maxLimit)
	}
	return nil
}

func copyRecord(r model.PredictionRecord) model.PredictionRecord {
	if r.Tags != nil {
		tags := make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			tags[k] = v
		}
		r.Tags = tags
	}
	if r.Outcome != nil {
		o := *r.Outcome
		r.Outcome = &o
	}
	return r
}

func copyReport(r model.DriftReport) model.DriftReport {
	r.Segments = clone(r.Segments)
	r.Alerts = clone(r.Alerts)
	r.History = clone(r.History)
	r.Input.Shifts = clone(r.Input.Shifts)
	return r
}

// clone copies s, keeping nil and empty slices distinct.
func clone[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
