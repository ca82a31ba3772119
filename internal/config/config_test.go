package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tradevalue/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then the process defaults are set", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.Storage, convey.ShouldEqual, config.StorageMemory)
			convey.So(cfg.CacheTTL, convey.ShouldEqual, 10*time.Minute)
		})

		convey.Convey("Then the engine defaults match the model constants", func() {
			convey.So(cfg.Fairness.Fair, convey.ShouldEqual, 0.06)
			convey.So(cfg.Fairness.Slight, convey.ShouldEqual, 0.12)
			convey.So(cfg.Fairness.Lean, convey.ShouldEqual, 0.20)
			convey.So(cfg.Prediction.DefaultIntercept, convey.ShouldEqual, -0.4)
			convey.So(cfg.Learning.MaxDelta, convey.ShouldEqual, 0.03)
			convey.So(cfg.Drift.WindowDays, convey.ShouldEqual, 28)
			convey.So(cfg.Drift.ReferenceDays, convey.ShouldEqual, 90)
			convey.So(cfg.Calibration.Buckets, convey.ShouldEqual, 10)
			convey.So(cfg.Scheduler.Learning, convey.ShouldEqual, "0 0 3 * * MON")
		})

		convey.Convey("Then it validates", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configurations with one bad setting", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"zero queue", func(c *config.Config) { c.QueueSize = 0 }},
			{"zero workers", func(c *config.Config) { c.WorkerCount = 0 }},
			{"negative rate limit", func(c *config.Config) { c.RateLimitRPS = -1 }},
			{"unknown storage", func(c *config.Config) { c.Storage = "sqlite" }},
			{"postgres without dsn", func(c *config.Config) { c.Storage = config.StoragePostgres }},
			{"unknown basis", func(c *config.Config) { c.Fairness.Basis = "side_b" }},
			{"tiers out of order", func(c *config.Config) { c.Fairness.Slight = 0.03 }},
			{"zero max delta", func(c *config.Config) { c.Learning.MaxDelta = 0 }},
			{"holdout of one", func(c *config.Config) { c.Learning.HoldoutFraction = 1 }},
			{"zero budget", func(c *config.Config) { c.Learning.Budget = 0 }},
			{"zero drift window", func(c *config.Config) { c.Drift.WindowDays = 0 }},
			{"gap thresholds swapped", func(c *config.Config) { c.Drift.GapWarn = 0.2 }},
			{"rho thresholds swapped", func(c *config.Config) { c.Drift.RhoCritical = 0.5 }},
			{"psi thresholds swapped", func(c *config.Config) { c.Drift.PSIWarn = 0.3 }},
			{"single calibration band", func(c *config.Config) { c.Calibration.Buckets = 1 }},
		}
		for _, tc := range cases {
			cfg := config.New(context.Background())
			tc.mutate(cfg)

			convey.Convey("Then "+tc.name+" is rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})

	convey.Convey("Given postgres storage with a dsn", t, func() {
		cfg := config.New(context.Background())
		cfg.Storage = config.StoragePostgres
		cfg.Postgres.DSN = "postgres://localhost/tradevalue"
		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})
}
