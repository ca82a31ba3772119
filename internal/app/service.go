// Package service wires the valuation, prediction, learning and monitoring
// components behind the operations exposed to the API and the scheduler.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/okian/tradevalue/internal/adapters/cache"
	eventqueue "github.com/okian/tradevalue/internal/adapters/mq/queue"
	workerpool "github.com/okian/tradevalue/internal/adapters/mq/worker"
	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/calibration"
	"github.com/okian/tradevalue/internal/domain/dedupe"
	"github.com/okian/tradevalue/internal/domain/drift"
	"github.com/okian/tradevalue/internal/domain/fairness"
	"github.com/okian/tradevalue/internal/domain/learning"
	"github.com/okian/tradevalue/internal/domain/predict"
	"github.com/okian/tradevalue/internal/domain/pricing"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// Service implements the engine operations.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	cache    cache.Cache
	pricer   *pricing.Pricer
	fairness *fairness.Scorer
	learner  *learning.Learner
	deduper  dedupe.Deduper
	outcomes eventqueue.Queue
	feed     FeedStatus
	pool     *workerpool.Pool

	// cancelPool ends the worker context once Stop has drained the queue.
	cancelPool context.CancelFunc

	// Configuration
	cacheTTL          time.Duration
	defaults          predict.Defaults
	learnParams       learning.Params
	lookback          time.Duration
	learnConcurrency  int
	learnBudget       time.Duration
	driftThresholds   drift.Thresholds
	driftHistory      int
	relearnOnCritical bool
	calParams         calibration.Params
	workerCount       int
	queueSize         int
	dedupeSize        int

	// segmentLocks serialises learning runs per segment.
	segmentLocks sync.Map

	now     func() time.Time
	started bool
	logger  logger.Logger
}

// New constructs a Service. Without options it runs on an in-memory store,
// no cache and an empty value book.
func New(opts ...Option) *Service {
	s := &Service{
		store:            repository.NewMemoryStore(),
		cache:            cache.Nop{},
		cacheTTL:         10 * time.Minute,
		pricer:           pricing.NewPricer(),
		fairness:         fairness.NewScorer(),
		defaults:         predict.DefaultDefaults(),
		learnParams:      learning.DefaultParams(),
		lookback:         365 * 24 * time.Hour,
		learnConcurrency: runtime.NumCPU(),
		learnBudget:      5 * time.Minute,
		driftThresholds:  drift.DefaultThresholds(),
		driftHistory:     12,
		calParams:        calibration.DefaultParams(),
		workerCount:      runtime.NumCPU(),
		queueSize:        10000,
		dedupeSize:       50000,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.learner = learning.NewLearner(s.store,
		learning.WithParams(s.learnParams),
		learning.WithDefaults(s.defaults),
		learning.WithLookback(s.lookback),
		learning.WithClock(s.now),
	)
	return s
}

// Start launches the outcome queue and its workers. Until Start is called
// outcomes are written synchronously. The workers outlive ctx: they keep
// draining acknowledged outcomes until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting trade valuation service...")

	q := eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.outcomes = q
	s.pool = workerpool.NewPool(s.workerCount, q, workerpool.HandlerFunc(s.applyOutcome))
	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelPool = cancel
	s.pool.Start(poolCtx)

	s.started = true
	s.logger.Info(ctx, "trade valuation service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
	)
	return nil
}

// Stop drains the outcome queue and stops the workers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping trade valuation service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "outcome workers did not drain", logger.Error(err))
	}
	s.cancelPool()
	s.cancelPool = nil
	s.outcomes = nil
	s.pool = nil
	s.started = false
	s.logger.Info(ctx, "trade valuation service stopped")
}

// Pricer returns the pricer whose value book the feed refresher swaps.
func (s *Service) Pricer() *pricing.Pricer { return s.pricer }

// FeedStatus reports the last value-book refresh.
type FeedStatus interface {
	Status() (lastSuccess time.Time, lastErr error)
}

// FeedStats is the refresher state on /stats.
type FeedStats struct {
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stats is the operational snapshot served on /stats.
type Stats struct {
	Started           bool             `json:"started"`
	Workers           int              `json:"workers"`
	ActiveWorkers     int              `json:"active_workers"`
	QueueLength       int              `json:"queue_length"`
	QueueCapacity     int              `json:"queue_capacity"`
	DedupeSize        int64            `json:"dedupe_size"`
	ValueBookAssets   int              `json:"value_book_assets"`
	ValueBookLoadedAt time.Time        `json:"value_book_loaded_at"`
	Feed              *FeedStats       `json:"feed,omitempty"`
	Store             repository.Stats `json:"store"`
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	st := Stats{
		Started:       s.started,
		QueueCapacity: s.queueSize,
		DedupeSize:    s.deduper.Size(),
	}
	if s.started {
		st.Workers = s.pool.Size()
		st.ActiveWorkers = s.pool.Active()
		st.QueueLength = s.outcomes.Len(ctx)
	}
	s.mu.RUnlock()

	book := s.pricer.Book()
	st.ValueBookAssets = book.Assets()
	st.ValueBookLoadedAt = book.LoadedAt()
	if s.feed != nil {
		last, err := s.feed.Status()
		st.Feed = &FeedStats{LastSuccess: last}
		if err != nil {
			st.Feed.LastError = err.Error()
		}
	}

	stored, err := s.store.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.Store = stored

	metrics.UpdateQueueSize(st.QueueLength)
	metrics.UpdateStoredPredictions(stored.Predictions)
	metrics.UpdateValueBookSize(st.ValueBookAssets)
	return st, nil
}

func (s *Service) segmentLock(segment string) *sync.Mutex {
	l, _ := s.segmentLocks.LoadOrStore(segment, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func scopeLabel(segment string) string {
	if segment == "" {
		return "all"
	}
	return segment
}
