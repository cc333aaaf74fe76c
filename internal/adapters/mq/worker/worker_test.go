package worker_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/foundlab/reputation/internal/adapters/mq/queue"
	"github.com/foundlab/reputation/internal/adapters/mq/worker"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type captureSink struct {
	mu     sync.Mutex
	events []model.AuditEvent
	fail   bool
}

func (s *captureSink) AppendAudit(_ context.Context, event model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
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

func TestWorkerDrainsQueue(t *testing.T) {
	Convey("Given a queue, a sink and a running pool", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100), queue.WithBufferSize(100))
		sink := &captureSink{}
		pool := worker.NewPool(2, q, sink)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		Convey("Enqueued events land in the sink", func() {
			for i := 0; i < 10; i++ {
				ok := q.Enqueue(ctx, model.AuditEvent{DecisionID: "d", Action: "GET /flags"})
				So(ok, ShouldBeTrue)
			}

			So(waitFor(func() bool { return sink.count() == 10 }), ShouldBeTrue)
		})

		Convey("Shutdown drains remaining events before stopping", func() {
			for i := 0; i < 5; i++ {
				q.Enqueue(ctx, model.AuditEvent{DecisionID: "d", Action: "GET /audit"})
			}

			So(pool.Shutdown(context.Background()), ShouldBeNil)
			So(sink.count(), ShouldEqual, 5)
			So(q.IsClosed(), ShouldBeTrue)
		})

		Convey("Sink failures do not stop the worker", func() {
			sink.setFail(true)
			q.Enqueue(ctx, model.AuditEvent{DecisionID: "bad", Action: "GET /stats"})
			time.Sleep(50 * time.Millisecond)

			sink.setFail(false)
			q.Enqueue(ctx, model.AuditEvent{DecisionID: "good", Action: "GET /stats"})
			So(waitFor(func() bool { return sink.count() == 1 }), ShouldBeTrue)
		})
	})
}

func TestWorkerShutdown(t *testing.T) {
	Convey("A single worker stops when asked", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithBufferSize(10))
		sink := &captureSink{}
		w := worker.NewInMemoryWorker(q, sink, worker.WithName("audit-0"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		So(w.Shutdown(shutdownCtx), ShouldBeNil)
	})
}
