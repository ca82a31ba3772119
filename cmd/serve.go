package main

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/okian/tradevalue/internal/adapters/http/api"
	"github.com/okian/tradevalue/internal/adapters/http/swagger"
	"github.com/okian/tradevalue/internal/adapters/scheduler"
	service "github.com/okian/tradevalue/internal/app"
	"github.com/okian/tradevalue/internal/config"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 60 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func serveCmd(holder *configHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), holder.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	rt, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error(ctx, "failed to close resources", logger.Error(err))
		}
	}()

	if err := rt.refreshFeed(ctx); err != nil {
		// Offers fall back to caller-supplied market values until the
		// next scheduled refresh succeeds.
		log.Warn(ctx, "starting without a value book", logger.Error(err))
	}

	svc := rt.svc
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	jobs, err := newScheduler(ctx, cfg.Scheduler, rt)
	if err != nil {
		return err
	}
	if jobs != nil {
		jobs.Start()
		defer jobs.Stop()
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	router := mux.NewRouter()
	swagger.Register(ctx, router)
	api.NewServer(svc, api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)).Register(ctx, router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newScheduler registers the weekly learning, drift and feed jobs. It
// returns nil when scheduling is disabled.
func newScheduler(ctx context.Context, cfg scheduler.Config, rt *stack) (*scheduler.Runner, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := scheduler.New(ctx, scheduler.WithTimeout(cfg.JobTimeout))
	svc := rt.svc

	if err := r.Add("learning", cfg.Learning, func(ctx context.Context) error {
		_, err := svc.RunWeeklyLearning(ctx, service.LearningRequest{})
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.Add("drift", cfg.Drift, func(ctx context.Context) error {
		_, err := svc.RunDriftDetection(ctx, "")
		return err
	}); err != nil {
		return nil, err
	}
	if rt.refresher != nil {
		if err := r.Add("feed_refresh", cfg.FeedRefresh, func(ctx context.Context) error {
			_, err := rt.refresher.Refresh(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	for name, next := range r.Next() {
		logger.Get().Info(ctx, "job scheduled", logger.String("job", name), logger.String("next", next.Format(time.RFC3339)))
	}
	return r, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics publishes the gauges GetStats does not update itself.
func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	stats, err := svc.GetStats(ctx)
	if err != nil {
		logger.Get().Debug(ctx, "stats unavailable", logger.Error(err))
		return
	}
	metrics.UpdateQueueCapacity(stats.QueueCapacity)
	if stats.QueueCapacity > 0 {
		metrics.UpdateQueueUtilization(float64(stats.QueueLength) / float64(stats.QueueCapacity))
	}
	metrics.UpdateWorkerCount(stats.Workers)
	metrics.UpdateWorkerActiveCount(stats.ActiveWorkers)
	metrics.UpdateWorkerIdleCount(stats.Workers - stats.ActiveWorkers)
}
