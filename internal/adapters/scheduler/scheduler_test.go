package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tradevalue/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestRunner(t *testing.T) {
	Convey("Given a runner", t, func() {
		r := New(context.Background(), WithTimeout(time.Second), WithLocation(time.UTC))

		Convey("When adding an invalid spec", func() {
			err := r.Add("learning", "not a spec", func(context.Context) error { return nil })

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrInvalidSpec), ShouldBeTrue)
			})
		})

		Convey("When adding a disabled job", func() {
			So(r.Add("drift", "", func(context.Context) error { return nil }), ShouldBeNil)

			Convey("Then nothing is scheduled", func() {
				So(len(r.Next()), ShouldEqual, 0)
			})
		})

		Convey("When the default specs are registered", func() {
			cfg := DefaultConfig()
			noop := func(context.Context) error { return nil }
			So(r.Add("learning", cfg.Learning, noop), ShouldBeNil)
			So(r.Add("drift", cfg.Drift, noop), ShouldBeNil)
			So(r.Add("feed", cfg.FeedRefresh, noop), ShouldBeNil)

			Convey("Then every job has a next activation once started", func() {
				r.Start()
				defer r.Stop()
				next := r.Next()
				So(len(next), ShouldEqual, 3)
				So(next["learning"].Weekday(), ShouldEqual, time.Monday)
				So(next["drift"].Hour(), ShouldEqual, 4)
			})
		})

		Convey("When a job runs every second", func() {
			var ok, failed atomic.Int32
			So(r.Add("tick", "* * * * * *", func(ctx context.Context) error {
				ok.Add(1)
				return nil
			}), ShouldBeNil)
			So(r.Add("fail", "* * * * * *", func(ctx context.Context) error {
				failed.Add(1)
				return errors.New("boom")
			}), ShouldBeNil)
			r.Start()
			time.Sleep(2200 * time.Millisecond)
			r.Stop()

			Convey("Then both jobs fire and failures do not stop the schedule", func() {
				So(ok.Load(), ShouldBeGreaterThanOrEqualTo, 2)
				So(failed.Load(), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})

		Convey("When a job is bounded by the timeout", func() {
			var deadline atomic.Bool
			r.run("slow", func(ctx context.Context) error {
				_, has := ctx.Deadline()
				deadline.Store(has)
				return nil
			})
			So(deadline.Load(), ShouldBeTrue)
		})
	})
}
