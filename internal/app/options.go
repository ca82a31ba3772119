package service

import (
	"time"

	"github.com/okian/tradevalue/internal/adapters/cache"
	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/calibration"
	"github.com/okian/tradevalue/internal/domain/drift"
	"github.com/okian/tradevalue/internal/domain/fairness"
	"github.com/okian/tradevalue/internal/domain/learning"
	"github.com/okian/tradevalue/internal/domain/predict"
	"github.com/okian/tradevalue/internal/domain/pricing"
	"github.com/okian/tradevalue/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence collaborator. The default is an in-memory store.
func WithStore(s repository.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
		}
	}
}

// WithCache sets the analysis cache and the entry TTL.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(svc *Service) {
		if c != nil {
			svc.cache = c
		}
		if ttl > 0 {
			svc.cacheTTL = ttl
		}
	}
}

// WithPricer sets the asset pricer.
func WithPricer(p *pricing.Pricer) Option {
	return func(svc *Service) {
		if p != nil {
			svc.pricer = p
		}
	}
}

// WithFairness sets the fairness scorer.
func WithFairness(f *fairness.Scorer) Option {
	return func(svc *Service) {
		if f != nil {
			svc.fairness = f
		}
	}
}

// WithDefaults sets the cold-start weights.
func WithDefaults(d predict.Defaults) Option {
	return func(svc *Service) { svc.defaults = d }
}

// WithLearningParams sets the weight learner parameters.
func WithLearningParams(p learning.Params) Option {
	return func(svc *Service) { svc.learnParams = p }
}

// WithLearningLookback limits training to outcomes observed within d.
func WithLearningLookback(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.lookback = d
		}
	}
}

// WithLearningConcurrency bounds the number of segments learned in parallel.
func WithLearningConcurrency(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.learnConcurrency = n
		}
	}
}

// WithLearningBudget caps a whole learning sweep or backtest.
func WithLearningBudget(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.learnBudget = d
		}
	}
}

// WithDriftThresholds sets drift severity boundaries.
func WithDriftThresholds(t drift.Thresholds) Option {
	return func(svc *Service) { svc.driftThresholds = t }
}

// WithDriftHistory sets how many earlier runs are embedded in each report.
func WithDriftHistory(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.driftHistory = n
		}
	}
}

// WithRelearnOnCritical re-learns a segment whose drift turns critical.
func WithRelearnOnCritical(enabled bool) Option {
	return func(svc *Service) { svc.relearnOnCritical = enabled }
}

// WithCalibrationParams sets dashboard bucketing.
func WithCalibrationParams(p calibration.Params) Option {
	return func(svc *Service) { svc.calParams = p }
}

// WithWorkerCount sets the number of outcome worker goroutines.
func WithWorkerCount(count int) Option {
	return func(svc *Service) {
		if count > 0 {
			svc.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the outcome queue.
func WithQueueSize(size int) Option {
	return func(svc *Service) {
		if size > 0 {
			svc.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the dedupe window.
func WithDedupeSize(size int) Option {
	return func(svc *Service) {
		if size > 0 {
			svc.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

// WithClock sets the service clock.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

// WithFeedStatus reports the value-feed refresher on /stats.
func WithFeedStatus(f FeedStatus) Option {
	return func(svc *Service) { svc.feed = f }
}
