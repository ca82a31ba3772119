package simulation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tradevalue/pkg/logger"
)

// Run generates cfg.Offers samples and submits them to the server: every
// offer is analyzed first, then the outcomes of successfully analyzed
// offers are posted. With cfg.Learn a learning run follows.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().Add(-cfg.Span)
	}
	log := logger.Named("simulation")
	started := time.Now()
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("offers", cfg.Offers),
		logger.Int("workers", cfg.Workers),
		logger.Float64("boundary", cfg.Boundary))

	if err := client.Health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	samples := NewGenerator(cfg).Generate(cfg.Offers, cfg.Start, cfg.Span)
	stats := Stats{OffersGenerated: len(samples)}

	analyzed := make([]bool, len(samples))
	offerCounts := submit(ctx, cfg.Workers, len(samples), func(i int) string {
		status, err := client.Post(ctx, "/v1/trades/analyze", samples[i].Offer, nil)
		r := classify(status, err)
		if r == resultOK {
			analyzed[i] = true
		} else if err != nil {
			log.Debug(ctx, "offer rejected", logger.String("offer_id", samples[i].Offer.ID), logger.Error(err))
		}
		return r
	})
	stats.OffersSubmitted = offerCounts[resultOK]
	stats.OffersFailed = offerCounts[resultFailed] + offerCounts[resultConflict]

	if !cfg.SkipOutcomes {
		accepted := 0
		outcomeCounts := submit(ctx, cfg.Workers, len(samples), func(i int) string {
			if !analyzed[i] {
				return ""
			}
			status, err := client.Post(ctx, "/v1/outcomes", samples[i].Outcome, nil)
			return classify(status, err)
		})
		for i, s := range samples {
			if analyzed[i] && s.Outcome.Accepted {
				accepted++
			}
		}
		stats.OutcomesAccepted = outcomeCounts[resultOK]
		stats.OutcomesConflict = outcomeCounts[resultConflict]
		stats.OutcomesFailed = outcomeCounts[resultFailed]
		if stats.OffersSubmitted > 0 {
			stats.AcceptRate = float64(accepted) / float64(stats.OffersSubmitted)
		}
	}

	if cfg.Learn {
		if _, err := client.Post(ctx, "/v1/learning/run", struct{}{}, nil); err != nil {
			log.Warn(ctx, "learning run failed", logger.Error(err))
		}
	}

	stats.Duration = time.Since(started)
	log.Info(ctx, "simulation finished",
		logger.Int("offersSubmitted", stats.OffersSubmitted),
		logger.Int("offersFailed", stats.OffersFailed),
		logger.Int("outcomesAccepted", stats.OutcomesAccepted),
		logger.Int("outcomesConflict", stats.OutcomesConflict),
		logger.Int("outcomesFailed", stats.OutcomesFailed),
		logger.Float64("acceptRate", stats.AcceptRate),
		logger.Duration("duration", stats.Duration))

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// submit runs fn for indexes [0, n) on a pool of workers and counts the
// results. Empty results are not counted.
func submit(ctx context.Context, workers, n int, fn func(i int) string) map[string]int {
	jobs := make(chan int, workers*2)
	var counters sync.Map
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if r := fn(i); r != "" {
					c, _ := counters.LoadOrStore(r, new(atomic.Int64))
					c.(*atomic.Int64).Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	out := make(map[string]int)
	counters.Range(func(k, v any) bool {
		out[k.(string)] = int(v.(*atomic.Int64).Load())
		return true
	})
	return out
}
