// Package scheduler runs the periodic engine jobs (weekly learning, drift
// detection, value feed refresh) on cron specs with seconds precision.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

// Job is one scheduled unit of work. A returned error is logged and counted;
// the job runs again at its next tick.
type Job func(ctx context.Context) error

// Config holds cron specs; an empty spec disables the job.
type Config struct {
	Enabled     bool          `koanf:"enabled"`
	Learning    string        `koanf:"learning"`
	Drift       string        `koanf:"drift"`
	FeedRefresh string        `koanf:"feed_refresh"`
	JobTimeout  time.Duration `koanf:"job_timeout"`
}

// DefaultConfig runs learning Monday 03:00, drift daily 04:00 and the feed
// every 15 minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Learning:    "0 0 3 * * MON",
		Drift:       "0 0 4 * * *",
		FeedRefresh: "0 */15 * * * *",
		JobTimeout:  10 * time.Minute,
	}
}

// ErrInvalidSpec wraps cron parse failures.
var ErrInvalidSpec = errors.New("invalid cron spec")

// Runner owns the cron instance. Overlapping runs of the same job are
// skipped and panics are recovered.
type Runner struct {
	cron    *cron.Cron
	logger  logger.Logger
	baseCtx context.Context
	timeout time.Duration
	names   map[cron.EntryID]string

	location *time.Location
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds every job run.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLocation sets the time zone used to evaluate specs.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) {
		if loc != nil {
			r.location = loc
		}
	}
}

// New creates a stopped runner bound to baseCtx.
func New(baseCtx context.Context, opts ...Option) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	log := logger.Named("scheduler")
	r := &Runner{
		logger:   log,
		baseCtx:  baseCtx,
		timeout:  10 * time.Minute,
		names:    make(map[cron.EntryID]string),
		location: time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	cl := cronLogger{log: log}
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(r.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return r
}

// Add schedules job under name. An empty spec is a no-op.
func (r *Runner) Add(name, spec string, job Job) error {
	if spec == "" {
		r.logger.Info(r.baseCtx, "job disabled", logger.String("job", name))
		return nil
	}
	id, err := r.cron.AddFunc(spec, func() { r.run(name, job) })
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidSpec, name, spec, err)
	}
	r.names[id] = name
	return nil
}

func (r *Runner) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		metrics.RecordSchedulerJob(name, "error")
		r.logger.Error(ctx, "scheduled job failed",
			logger.String("job", name),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return
	}
	metrics.RecordSchedulerJob(name, "ok")
	r.logger.Info(ctx, "scheduled job finished",
		logger.String("job", name),
		logger.Duration("elapsed", time.Since(start)))
}

// Next reports the next activation per job name.
func (r *Runner) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(r.names))
	for _, e := range r.cron.Entries() {
		out[r.names[e.ID]] = e.Next
	}
	return out
}

// Start runs the scheduler in its own goroutine.
func (r *Runner) Start() {
	r.logger.Info(r.baseCtx, "scheduler started", logger.Int("jobs", len(r.names)))
	r.cron.Start()
}

// Stop halts new runs and waits for running jobs to return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info(r.baseCtx, "scheduler stopped")
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(context.Background(), msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(context.Background(), msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []interface{}) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, logger.Any(key, kv[i+1]))
	}
	return out
}
