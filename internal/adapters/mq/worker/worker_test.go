package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/tradevalue/internal/adapters/mq/queue"
	"github.com/okian/tradevalue/internal/adapters/mq/worker"
	"github.com/okian/tradevalue/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type recorder struct {
	mu    sync.Mutex
	seen  map[string]bool
	fails map[string]error
}

func newRecorder() *recorder {
	return &recorder{seen: map[string]bool{}, fails: map[string]error{}}
}

func (r *recorder) HandleOutcome(_ context.Context, e queue.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fails[e.TradeOfferID]; ok {
		return err
	}
	r.seen[e.TradeOfferID] = e.Accepted
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func outcome(id string) queue.Event {
	return queue.Event{TradeOfferID: id, Accepted: true, ObservedAt: time.Now()}
}

func TestInMemoryWorker(t *testing.T) {
	Convey("Given a worker on a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		rec := newRecorder()
		rec.fails["bad"] = errors.New("store unavailable")
		w := worker.NewInMemoryWorker(q, rec, worker.WithName("outcomes-test"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		Convey("When outcomes arrive, including one that fails", func() {
			q.Enqueue(ctx, outcome("a"))
			q.Enqueue(ctx, outcome("bad"))
			q.Enqueue(ctx, outcome("b"))

			Convey("Then the good ones are handled and the worker keeps going", func() {
				So(waitFor(func() bool { return rec.count() == 2 }), ShouldBeTrue)
				So(w.Shutdown(context.Background()), ShouldBeNil)
			})
		})

		Convey("When the queue closes", func() {
			_ = q.Close()

			Convey("Then the worker stops on its own", func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				So(w.Shutdown(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given a handler function", t, func() {
		var got string
		h := worker.HandlerFunc(func(_ context.Context, e queue.Event) error {
			got = e.TradeOfferID
			return nil
		})
		So(h.HandleOutcome(context.Background(), outcome("x")), ShouldBeNil)
		So(got, ShouldEqual, "x")
	})
}

func TestWorkerPool(t *testing.T) {
	Convey("Given a pool of workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))
		rec := newRecorder()
		p := worker.NewPool(4, q, rec)
		So(p.Size(), ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		Convey("When many outcomes are enqueued and the pool shuts down", func() {
			for i := 0; i < 200; i++ {
				So(q.Enqueue(ctx, outcome(fmt.Sprintf("offer-%d", i))), ShouldBeTrue)
			}
			err := p.Shutdown(context.Background())

			Convey("Then every queued outcome is drained first", func() {
				So(err, ShouldBeNil)
				So(rec.count(), ShouldEqual, 200)
				So(p.Active(), ShouldEqual, 0)
				So(q.IsClosed(), ShouldBeTrue)
			})
		})
	})

	Convey("Given a pool with no explicit size", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), newRecorder())
		So(p.Size(), ShouldBeGreaterThan, 0)
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
