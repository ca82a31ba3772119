// Package feed loads raw asset values from the league-data collaborator and
// publishes them to the pricer as immutable value books.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tradevalue/internal/domain/pricing"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// Source is the league-data collaborator.
type Source interface {
	Fetch(ctx context.Context) ([]pricing.RawValue, error)
}

// ErrEmptyFeed is returned when a source yields no usable values. The
// previous book is kept in that case.
var ErrEmptyFeed = errors.New("feed returned no values")

// BookSwapper receives freshly built books.
type BookSwapper interface {
	SwapBook(b *pricing.ValueBook)
}

// Static serves a fixed set of values.
type Static []pricing.RawValue

// Fetch implements Source.
func (s Static) Fetch(context.Context) ([]pricing.RawValue, error) {
	return append([]pricing.RawValue(nil), s...), nil
}

// Refresher pulls from a Source and swaps the pricer's book.
type Refresher struct {
	source Source
	target BookSwapper
	logger logger.Logger

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
}

// NewRefresher wires a source to a pricer.
func NewRefresher(source Source, target BookSwapper) *Refresher {
	return &Refresher{source: source, target: target, logger: logger.Named("feed")}
}

// Refresh fetches once. On any failure the current book stays active and
// the error is returned.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	values, err := r.source.Fetch(ctx)
	if err == nil && len(values) == 0 {
		err = ErrEmptyFeed
	}
	if err != nil {
		r.record(err)
		metrics.RecordFeedRefresh("error")
		r.logger.Warn(ctx, "value feed refresh failed, keeping previous book", logger.Error(err))
		return 0, fmt.Errorf("refresh value feed: %w", err)
	}

	book := pricing.NewValueBook(values)
	r.target.SwapBook(book)
	r.record(nil)
	metrics.RecordFeedRefresh("ok")
	metrics.UpdateValueBookSize(book.Assets())
	r.logger.Info(ctx, "value book refreshed",
		logger.Int("assets", book.Assets()),
		logger.Int("entries", book.Entries()))
	return book.Assets(), nil
}

func (r *Refresher) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
	if err == nil {
		r.lastSuccess = time.Now()
	}
}

// Status returns the time of the last successful refresh and the last error.
func (r *Refresher) Status() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess, r.lastErr
}
