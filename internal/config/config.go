// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Top-level keys are flat; subsystem settings live in nested sections.
// - New(ctx) returns the defaults; Load layers file and env on top.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"runtime"
	"time"

	"github.com/okian/tradevalue/internal/adapters/cache"
	"github.com/okian/tradevalue/internal/adapters/feed"
	"github.com/okian/tradevalue/internal/adapters/repository/postgres"
	"github.com/okian/tradevalue/internal/adapters/scheduler"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory outcome queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of outcome workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the offer/outcome dedupe window.
	DedupeSize int `koanf:"dedupe_size"`

	// RateLimitRPS and RateLimitBurst throttle the API per process; zero disables.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// Storage selects the repository backend: memory or postgres.
	Storage  string          `koanf:"storage"`
	Postgres postgres.Config `koanf:"postgres"`

	// Redis enables the analysis cache when Addr is set.
	Redis    cache.Config  `koanf:"redis"`
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// Feed pulls raw values over HTTP when URL is set; FeedFile loads a
	// local snapshot instead.
	Feed     feed.HTTPConfig `koanf:"feed"`
	FeedFile string          `koanf:"feed_file"`

	Scheduler   scheduler.Config  `koanf:"scheduler"`
	Fairness    FairnessConfig    `koanf:"fairness"`
	Prediction  PredictionConfig  `koanf:"prediction"`
	Learning    LearningConfig    `koanf:"learning"`
	Drift       DriftConfig       `koanf:"drift"`
	Calibration CalibrationConfig `koanf:"calibration"`
}

// FairnessConfig holds tier boundaries on |value delta|.
type FairnessConfig struct {
	Basis  string  `koanf:"basis"`
	Fair   float64 `koanf:"fair"`
	Slight float64 `koanf:"slight"`
	Lean   float64 `koanf:"lean"`
}

// PredictionConfig holds the cold-start weights.
type PredictionConfig struct {
	DefaultIntercept float64 `koanf:"default_intercept"`
	DefaultWeight    float64 `koanf:"default_weight"`
}

// LearningConfig tunes the weight learner.
type LearningConfig struct {
	MaxDelta        float64       `koanf:"max_delta"`
	HoldoutFraction float64       `koanf:"holdout_fraction"`
	MinSamples      int           `koanf:"min_samples"`
	MinImprovement  float64       `koanf:"min_improvement"`
	BacktestGate    bool          `koanf:"backtest_gate"`
	LookbackDays    int           `koanf:"lookback_days"`
	Concurrency     int           `koanf:"concurrency"`
	Budget          time.Duration `koanf:"budget"`
}

// DriftConfig holds drift thresholds and windows.
type DriftConfig struct {
	WindowDays        int     `koanf:"window_days"`
	ReferenceDays     int     `koanf:"reference_days"`
	GapWarn           float64 `koanf:"gap_warn"`
	GapCritical       float64 `koanf:"gap_critical"`
	RhoWarn           float64 `koanf:"rho_warn"`
	RhoCritical       float64 `koanf:"rho_critical"`
	PSIWarn           float64 `koanf:"psi_warn"`
	PSICritical       float64 `koanf:"psi_critical"`
	MinSamples        int     `koanf:"min_samples"`
	MinSegmentSamples int     `koanf:"min_segment_samples"`
	History           int     `koanf:"history"`
	RelearnOnCritical bool    `koanf:"relearn_on_critical"`
}

// CalibrationConfig holds dashboard bucketing.
type CalibrationConfig struct {
	Buckets          int `koanf:"buckets"`
	MinBucketSamples int `koanf:"min_bucket_samples"`
}

// New returns the default configuration. Context is accepted first to
// follow the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:       "info",
		Addr:           ":9080",
		QueueSize:      10_000,
		WorkerCount:    runtime.NumCPU() * 2,
		DedupeSize:     50_000,
		RateLimitRPS:   200,
		RateLimitBurst: 400,
		Storage:        StorageMemory,
		Postgres:       postgres.DefaultConfig(),
		Redis:          cache.Config{Prefix: "tradevalue", Timeout: 200 * time.Millisecond},
		CacheTTL:       10 * time.Minute,
		Feed:           feed.HTTPConfig{Timeout: 10 * time.Second, RPS: 1, Burst: 1},
		Scheduler:      scheduler.DefaultConfig(),
		Fairness:       FairnessConfig{Basis: "side_a", Fair: 0.06, Slight: 0.12, Lean: 0.20},
		Prediction:     PredictionConfig{DefaultIntercept: -0.4, DefaultWeight: 1.0},
		Learning: LearningConfig{
			MaxDelta:        0.03,
			HoldoutFraction: 0.25,
			MinSamples:      30,
			LookbackDays:    365,
			Concurrency:     runtime.NumCPU(),
			Budget:          5 * time.Minute,
		},
		Drift: DriftConfig{
			WindowDays:        28,
			ReferenceDays:     90,
			GapWarn:           0.05,
			GapCritical:       0.15,
			RhoWarn:           0.10,
			RhoCritical:       0.0,
			PSIWarn:           0.10,
			PSICritical:       0.25,
			MinSamples:        30,
			MinSegmentSamples: 20,
			History:           12,
			RelearnOnCritical: true,
		},
		Calibration: CalibrationConfig{Buckets: 10, MinBucketSamples: 5},
	}
}
