package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/tradevalue/internal/adapters/cache"
	"github.com/okian/tradevalue/internal/adapters/feed"
	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/adapters/repository/postgres"
	service "github.com/okian/tradevalue/internal/app"
	"github.com/okian/tradevalue/internal/config"
	"github.com/okian/tradevalue/internal/domain/calibration"
	"github.com/okian/tradevalue/internal/domain/drift"
	"github.com/okian/tradevalue/internal/domain/fairness"
	"github.com/okian/tradevalue/internal/domain/learning"
	"github.com/okian/tradevalue/internal/domain/predict"
	"github.com/okian/tradevalue/internal/domain/pricing"
	"github.com/okian/tradevalue/pkg/logger"
)

const (
	day                = 24 * time.Hour
	defaultFeedTimeout = 10 * time.Second
)

// stack is everything a command needs, plus the cleanup of whatever was
// opened to build it.
type stack struct {
	svc       *service.Service
	refresher *feed.Refresher // nil when no feed is configured
	// refreshTimeout bounds a refresh started outside the scheduler.
	refreshTimeout time.Duration
	closers   []func() error
}

func (r *stack) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// build opens the configured store, cache and feed and creates the service.
func build(ctx context.Context, cfg *config.Config) (*stack, error) {
	log := logger.Named("wiring")
	rt := &stack{refreshTimeout: cfg.Feed.Timeout}
	if rt.refreshTimeout <= 0 {
		rt.refreshTimeout = defaultFeedTimeout
	}

	var store repository.Store = repository.NewMemoryStore()
	if cfg.Storage == config.StoragePostgres {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = rt.Close()
			return nil, err
		}
		store = postgres.NewStore(db, postgres.WithTimeout(cfg.Postgres.QueryTimeout))
		log.Info(ctx, "using postgres store")
	}

	var c cache.Cache = cache.Nop{}
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// The cache is an optimisation; run without it.
			log.Warn(ctx, "analysis cache disabled", logger.Error(err))
		} else {
			rt.closers = append(rt.closers, client.Close)
			c = cache.NewRedisCache(client, cfg.Redis)
		}
	}

	pricer := pricing.NewPricer()
	switch {
	case cfg.Feed.URL != "":
		rt.refresher = feed.NewRefresher(feed.NewHTTPSource(cfg.Feed, &http.Client{Timeout: rt.refreshTimeout}), pricer)
	case cfg.FeedFile != "":
		rt.refresher = feed.NewRefresher(feed.FileSource{Path: cfg.FeedFile}, pricer)
	}

	opts := append(serviceOptions(cfg),
		service.WithStore(store),
		service.WithCache(c, cfg.CacheTTL),
		service.WithPricer(pricer),
		service.WithLogger(logger.Get()),
	)
	if rt.refresher != nil {
		opts = append(opts, service.WithFeedStatus(rt.refresher))
	}
	rt.svc = service.New(opts...)
	return rt, nil
}

// serviceOptions maps configuration onto service options.
func serviceOptions(cfg *config.Config) []service.Option {
	lp := learning.DefaultParams()
	lp.MaxDelta = cfg.Learning.MaxDelta
	lp.HoldoutFraction = cfg.Learning.HoldoutFraction
	lp.MinSamples = cfg.Learning.MinSamples
	lp.MinImprovement = cfg.Learning.MinImprovement
	lp.BacktestGate = cfg.Learning.BacktestGate

	dt := drift.DefaultThresholds()
	d := cfg.Drift
	dt.GapWarn, dt.GapCritical = d.GapWarn, d.GapCritical
	dt.RhoWarn, dt.RhoCritical = d.RhoWarn, d.RhoCritical
	dt.PSIWarn, dt.PSICritical = d.PSIWarn, d.PSICritical
	dt.MinSamples = d.MinSamples
	dt.MinSegmentSamples = d.MinSegmentSamples
	dt.Window = time.Duration(d.WindowDays) * day
	dt.Reference = time.Duration(d.ReferenceDays) * day

	f := cfg.Fairness
	scorer := fairness.NewScorer(
		fairness.WithThresholds(fairness.Thresholds{Fair: f.Fair, Slight: f.Slight, Lean: f.Lean}),
		fairness.WithBasis(fairness.Basis(f.Basis)),
	)

	return []service.Option{
		service.WithFairness(scorer),
		service.WithDefaults(predict.Defaults{B0: cfg.Prediction.DefaultIntercept, Weight: cfg.Prediction.DefaultWeight}),
		service.WithLearningParams(lp),
		service.WithLearningLookback(time.Duration(cfg.Learning.LookbackDays) * day),
		service.WithLearningConcurrency(cfg.Learning.Concurrency),
		service.WithLearningBudget(cfg.Learning.Budget),
		service.WithDriftThresholds(dt),
		service.WithDriftHistory(d.History),
		service.WithRelearnOnCritical(d.RelearnOnCritical),
		service.WithCalibrationParams(calibration.Params{
			Buckets:          cfg.Calibration.Buckets,
			MinBucketSamples: cfg.Calibration.MinBucketSamples,
		}),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
	}
}

// refreshFeed loads the value book once. Commands that price offers call it
// before serving; a failure leaves the empty book in place.
func (r *stack) refreshFeed(ctx context.Context) error {
	if r.refresher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.refreshTimeout)
	defer cancel()
	n, err := r.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initial feed refresh: %w", err)
	}
	logger.Get().Info(ctx, "value book loaded", logger.Int("assets", n))
	return nil
}
