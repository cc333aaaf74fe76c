package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/foundlab/reputation/internal/adapters/mq/queue"
	"github.com/foundlab/reputation/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func auditEvent(id string) model.AuditEvent {
	return model.AuditEvent{
		DecisionID: id,
		Action:     "POST /scores",
		StatusCode: 201,
		Timestamp:  time.Now().UTC(),
	}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a small bounded queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(2), queue.WithBufferSize(2))
		ctx := context.Background()

		Convey("Enqueued events come back in order", func() {
			So(q.Enqueue(ctx, auditEvent("a")), ShouldBeTrue)
			So(q.Enqueue(ctx, auditEvent("b")), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)

			So(q.Close(), ShouldBeNil)

			out := q.Dequeue(ctx)
			first := <-out
			second := <-out
			So(first.DecisionID, ShouldEqual, "a")
			So(second.DecisionID, ShouldEqual, "b")

			_, open := <-out
			So(open, ShouldBeFalse)
		})

		Convey("Enqueue on a full queue drops instead of blocking", func() {
			So(q.Enqueue(ctx, auditEvent("a")), ShouldBeTrue)
			So(q.Enqueue(ctx, auditEvent("b")), ShouldBeTrue)
			So(q.Enqueue(ctx, auditEvent("c")), ShouldBeFalse)
		})

		Convey("Enqueue after close is rejected", func() {
			So(q.Close(), ShouldBeNil)
			So(q.IsClosed(), ShouldBeTrue)
			So(q.Enqueue(ctx, auditEvent("late")), ShouldBeFalse)
		})

		Convey("Close is idempotent", func() {
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
		})
	})

	Convey("Concurrent producers never lose accepted events", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000), queue.WithBufferSize(1000))
		ctx := context.Background()

		const producers = 8
		const perProducer = 50
		done := make(chan int, producers)
		for p := 0; p < producers; p++ {
			go func(p int) {
				accepted := 0
				for i := 0; i < perProducer; i++ {
					if q.Enqueue(ctx, auditEvent(fmt.Sprintf("%d-%d", p, i))) {
						accepted++
					}
				}
				done <- accepted
			}(p)
		}

		total := 0
		for p := 0; p < producers; p++ {
			total += <-done
		}
		So(total, ShouldEqual, producers*perProducer)
		So(q.Close(), ShouldBeNil)

		received := 0
		for range q.Dequeue(ctx) {
			received++
		}
		So(received, ShouldEqual, total)
	})
}
