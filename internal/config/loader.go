package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TRADEVALUE_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if TRADEVALUE_CONFIG is set
//  3. env (prefix TRADEVALUE_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// TRADEVALUE_QUEUE_SIZE -> queue_size; a double underscore descends into
	// a section: TRADEVALUE_POSTGRES__DSN -> postgres.dsn.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.QueueSize <= 0:
		return invalid("queue_size must be positive")
	case c.WorkerCount <= 0:
		return invalid("worker_count must be positive")
	case c.DedupeSize <= 0:
		return invalid("dedupe_size must be positive")
	case c.RateLimitRPS < 0 || c.RateLimitBurst < 0:
		return invalid("rate limit must not be negative")
	}

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return invalid("postgres.dsn is required when storage is postgres")
		}
	default:
		return invalid("unknown storage %q", c.Storage)
	}

	f := c.Fairness
	if f.Basis != "side_a" && f.Basis != "midpoint" {
		return invalid("fairness.basis must be side_a or midpoint")
	}
	if !(f.Fair > 0 && f.Slight > f.Fair && f.Lean > f.Slight) {
		return invalid("fairness tiers must be increasing: %v < %v < %v", f.Fair, f.Slight, f.Lean)
	}

	l := c.Learning
	switch {
	case l.MaxDelta <= 0:
		return invalid("learning.max_delta must be positive")
	case l.HoldoutFraction <= 0 || l.HoldoutFraction >= 1:
		return invalid("learning.holdout_fraction must be in (0, 1)")
	case l.MinSamples < 2:
		return invalid("learning.min_samples must be at least 2")
	case l.Budget <= 0:
		return invalid("learning.budget must be positive")
	}

	d := c.Drift
	switch {
	case d.WindowDays <= 0 || d.ReferenceDays <= 0:
		return invalid("drift windows must be positive")
	case d.GapWarn >= d.GapCritical:
		return invalid("drift.gap_warn must be below drift.gap_critical")
	case d.RhoCritical >= d.RhoWarn:
		return invalid("drift.rho_critical must be below drift.rho_warn")
	case d.PSIWarn >= d.PSICritical:
		return invalid("drift.psi_warn must be below drift.psi_critical")
	}

	if c.Calibration.Buckets < 2 {
		return invalid("calibration.buckets must be at least 2")
	}
	return nil
}
