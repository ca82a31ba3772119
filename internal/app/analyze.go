package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tradevalue/internal/adapters/cache"
	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/internal/domain/predict"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// AnalyzeTrade prices both sides, scores fairness and predicts acceptance.
// Only structurally invalid offers are rejected; everything else yields a
// best-effort analysis annotated with confidence and weight source. The
// prediction is persisted once per offer ID.
func (s *Service) AnalyzeTrade(ctx context.Context, offer model.TradeOffer) (model.TradeAnalysis, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAnalysisLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	if err := s.validate(offer); err != nil {
		metrics.RecordAnalysisError("invalid_offer")
		return model.TradeAnalysis{}, err
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = s.now()
	}
	if offer.Context.AsOf.IsZero() {
		offer.Context.AsOf = offer.CreatedAt
	}
	segment := offer.SegmentKey()

	weights, source, err := predict.ResolveWeights(ctx, s.store, segment, s.defaults)
	if err != nil {
		metrics.RecordErrorByComponent("service", "weights_read")
		s.logger.Warn(ctx, "falling back to default weights", logger.String("segment", segment), logger.Error(err))
	}

	fp := cache.Fingerprint(offer)
	key := cache.Key(fp, weights, source)
	if hit, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		hit.OfferID = offer.ID
		hit.Cached = true
		s.persist(ctx, offer, hit)
		metrics.RecordTradeAnalyzed(segment, hit.Tier)
		metrics.RecordPredictionSource(segment, hit.Source)
		return hit, nil
	}

	analysis, err := s.analyze(offer, weights, source)
	if err != nil {
		metrics.RecordAnalysisError("scoring")
		return model.TradeAnalysis{}, err
	}
	analysis.Fingerprint = fp

	if err := s.cache.Set(ctx, key, analysis, s.cacheTTL); err != nil {
		s.logger.Debug(ctx, "analysis cache write failed", logger.Error(err))
	}
	s.persist(ctx, offer, analysis)

	metrics.RecordTradeAnalyzed(segment, analysis.Tier)
	metrics.RecordPredictionSource(segment, source)
	return analysis, nil
}

func (s *Service) validate(offer model.TradeOffer) error {
	if err := offer.Validate(); err != nil {
		if errors.Is(err, model.ErrInvalidOffer) {
			return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidOffer, err)
	}
	sides := []struct {
		name   string
		assets []model.Asset
	}{{"side_a", offer.SideA}, {"side_b", offer.SideB}}
	for _, side := range sides {
		identified := false
		for _, a := range side.assets {
			if a.Identified() {
				identified = true
				break
			}
		}
		if !identified {
			return fmt.Errorf("%w: no asset on %s can be identified", ErrInvalidOffer, side.name)
		}
	}
	return nil
}

func (s *Service) analyze(offer model.TradeOffer, w model.SegmentWeights, source string) (model.TradeAnalysis, error) {
	valsA, numsA := s.pricer.PriceSide(offer.SideA, offer.Context)
	valsB, numsB := s.pricer.PriceSide(offer.SideB, offer.Context)

	verdict, err := s.fairness.Score(numsA, numsB)
	if err != nil {
		return model.TradeAnalysis{}, fmt.Errorf("%w: %w", ErrInvalidOffer, err)
	}
	features := predict.Extract(offer, verdict.ValueDeltaPct, numsA, numsB)
	p := predict.Predict(features, w, source)

	confidence := model.ConfidenceHigh
	for _, v := range append(append([]model.Valuation{}, valsA...), valsB...) {
		if v.Confidence == model.ConfidenceLow {
			confidence = model.ConfidenceLow
			break
		}
	}

	return model.TradeAnalysis{
		OfferID:               offer.ID,
		Segment:               offer.SegmentKey(),
		FairnessScore:         verdict.FairnessScore,
		ValueDeltaPct:         verdict.ValueDeltaPct,
		Tier:                  verdict.Tier,
		AcceptanceProbability: p.Probability,
		Source:                p.Source,
		Confidence:            confidence,
		Features:              features,
		ContributingFeatures:  p.Contributions,
		SideA:                 valsA,
		SideB:                 valsB,
	}, nil
}

// persist stores the prediction the first time an offer ID is analysed.
// Failures are logged; the analysis is still returned.
func (s *Service) persist(ctx context.Context, offer model.TradeOffer, a model.TradeAnalysis) {
	key := "offer:" + offer.ID
	if s.deduper.SeenAndRecord(ctx, key) {
		return
	}
	rec := predict.Record(offer, a.Features, predict.Prediction{
		Probability: a.AcceptanceProbability,
		Source:      a.Source,
	}, offer.CreatedAt)

	err := s.store.SavePrediction(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicate):
		metrics.RecordDuplicate()
	default:
		s.deduper.Unrecord(ctx, key)
		metrics.RecordErrorByComponent("service", "save_prediction")
		s.logger.Error(ctx, "failed to persist prediction",
			logger.String("offer_id", offer.ID),
			logger.Error(err))
	}
}
