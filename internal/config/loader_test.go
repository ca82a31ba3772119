package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tradevalue/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New(ctx))
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("TRADEVALUE_ADDR", ":8080")
			t.Setenv("TRADEVALUE_QUEUE_SIZE", "500")
			t.Setenv("TRADEVALUE_WORKER_COUNT", "16")
			t.Setenv("TRADEVALUE_CACHE_TTL", "30s")
			t.Setenv("TRADEVALUE_POSTGRES__DSN", "postgres://db/tradevalue")
			t.Setenv("TRADEVALUE_STORAGE", "postgres")
			t.Setenv("TRADEVALUE_DRIFT__RELEARN_ON_CRITICAL", "false")
			t.Setenv("TRADEVALUE_LEARNING__MAX_DELTA", "0.05")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.CacheTTL, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.Storage, convey.ShouldEqual, config.StoragePostgres)
				convey.So(cfg.Postgres.DSN, convey.ShouldEqual, "postgres://db/tradevalue")
				convey.So(cfg.Drift.RelearnOnCritical, convey.ShouldBeFalse)
				convey.So(cfg.Learning.MaxDelta, convey.ShouldEqual, 0.05)
			})

			convey.Convey("And untouched nested settings keep their defaults", func() {
				convey.So(cfg.Postgres.MaxOpenConns, convey.ShouldEqual, 10)
				convey.So(cfg.Drift.WindowDays, convey.ShouldEqual, 28)
				convey.So(cfg.Learning.MinSamples, convey.ShouldEqual, 30)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := createTempConfigFile(t, `
addr: ":9090"
worker_count: 6
redis:
  addr: "localhost:6379"
  prefix: "tv"
feed:
  url: "https://values.example/v1/values"
  rps: 0.5
scheduler:
  enabled: true
  drift: "0 30 4 * * *"
fairness:
  basis: midpoint
`)
			t.Setenv("TRADEVALUE_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
				convey.So(cfg.Redis.Addr, convey.ShouldEqual, "localhost:6379")
				convey.So(cfg.Redis.Prefix, convey.ShouldEqual, "tv")
				convey.So(cfg.Redis.Timeout, convey.ShouldEqual, 200*time.Millisecond)
				convey.So(cfg.Feed.URL, convey.ShouldEqual, "https://values.example/v1/values")
				convey.So(cfg.Feed.RPS, convey.ShouldEqual, 0.5)
				convey.So(cfg.Scheduler.Enabled, convey.ShouldBeTrue)
				convey.So(cfg.Scheduler.Drift, convey.ShouldEqual, "0 30 4 * * *")
				convey.So(cfg.Scheduler.Learning, convey.ShouldEqual, "0 0 3 * * MON")
				convey.So(cfg.Fairness.Basis, convey.ShouldEqual, "midpoint")
			})

			convey.Convey("And env vars take precedence over the file", func() {
				t.Setenv("TRADEVALUE_WORKER_COUNT", "3")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			})
		})
	})
}

func TestConfigLoaderErrors(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When the config file does not exist", func() {
			t.Setenv("TRADEVALUE_CONFIG", "/nonexistent/tradevalue.yaml")
			cfg, err := config.Load(ctx)

			convey.Convey("Then it is a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the config file is not YAML", func() {
			t.Setenv("TRADEVALUE_CONFIG", createTempConfigFile(t, "addr: [unterminated"))
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a value has the wrong type", func() {
			t.Setenv("TRADEVALUE_QUEUE_SIZE", "lots")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the result is invalid", func() {
			t.Setenv("TRADEVALUE_STORAGE", "postgres")
			cfg, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

// clearConfigEnvVars unsets any TRADEVALUE_ variables inherited from the
// environment for the duration of the test.
func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "TRADEVALUE_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "tradevalue-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
