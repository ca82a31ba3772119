package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/tradevalue/internal/adapters/mq/queue"
	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// RecordOutcome accepts the observed result of an analysed offer. Outcomes
// are immutable: a second outcome for the same offer is ErrDuplicateOutcome.
// Once the service is started the write is queued and applied by a worker.
func (s *Service) RecordOutcome(ctx context.Context, o model.Outcome) error {
	o.TradeOfferID = strings.TrimSpace(o.TradeOfferID)
	if o.TradeOfferID == "" {
		return fmt.Errorf("%w: missing trade_offer_id", ErrInvalidOutcome)
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = s.now()
	}

	r, err := s.store.Prediction(ctx, o.TradeOfferID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownOffer, o.TradeOfferID)
	case err != nil:
		return fmt.Errorf("load prediction %s: %w", o.TradeOfferID, err)
	case r.Resolved():
		metrics.RecordDuplicate()
		return fmt.Errorf("%w: %s", ErrDuplicateOutcome, o.TradeOfferID)
	}

	key := "outcome:" + o.TradeOfferID
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordDuplicate()
		return fmt.Errorf("%w: %s", ErrDuplicateOutcome, o.TradeOfferID)
	}

	s.mu.RLock()
	q := s.outcomes
	s.mu.RUnlock()

	if q == nil {
		return s.applyOutcome(ctx, o)
	}
	if !q.Enqueue(ctx, o) {
		s.deduper.Unrecord(ctx, key)
		return ErrQueueFull
	}
	return nil
}

// applyOutcome writes one outcome. It is also the worker handler. Unless
// the store already holds an outcome for the offer, a failed write forgets
// the dedupe key so the caller can retry.
func (s *Service) applyOutcome(ctx context.Context, o queue.Event) error {
	err := s.store.RecordOutcome(ctx, o)
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		s.deduper.Unrecord(ctx, "outcome:"+o.TradeOfferID)
	}
	switch {
	case err == nil:
		metrics.RecordOutcomeRecorded(o.Accepted)
		s.logger.Debug(ctx, "outcome recorded",
			logger.String("offer_id", o.TradeOfferID),
			logger.Bool("accepted", o.Accepted))
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		metrics.RecordDuplicate()
		return fmt.Errorf("%w: %s", ErrDuplicateOutcome, o.TradeOfferID)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownOffer, o.TradeOfferID)
	}
	return fmt.Errorf("record outcome %s: %w", o.TradeOfferID, err)
}
