package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubev2v/proxmox-manager/internal/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

type recorder struct {
	mu       sync.Mutex
	messages []queue.Message
	at       []time.Time
}

func (r *recorder) handle(ctx context.Context, msg queue.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.at = append(r.at, time.Now())
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

var _ = Describe("mux", func() {
	It("dispatches by handler name", func() {
		rec := &recorder{}
		mux := queue.NewMux()
		mux.Handle("refresh", rec.handle)

		Expect(mux.Dispatch(context.TODO(), queue.Message{Handler: "refresh", Target: "m1"})).To(BeNil())
		Expect(rec.messages).To(HaveLen(1))
		Expect(rec.messages[0].Target).To(Equal("m1"))
	})

	It("fails for unknown handlers", func() {
		err := queue.NewMux().Dispatch(context.TODO(), queue.Message{Handler: "nope"})
		Expect(errors.Is(err, queue.ErrNoHandler)).To(BeTrue())
	})
})

var _ = Describe("local queue", func() {
	var (
		mux *queue.Mux
		rec *recorder
		q   *queue.Local
	)

	BeforeEach(func() {
		mux = queue.NewMux()
		rec = &recorder{}
		mux.Handle("step", rec.handle)
	})

	AfterEach(func() {
		Expect(q.Stop(context.TODO())).To(BeNil())
	})

	It("delivers a message", func() {
		q = queue.NewLocal(mux, queue.WithLogger(zap.NewNop().Sugar()))
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "step", Target: "t1", Args: []string{"a"}})).To(BeNil())

		Eventually(rec.count).Should(Equal(1))
		Expect(rec.messages[0].Args).To(Equal([]string{"a"}))
	})

	It("waits for NotBefore", func() {
		q = queue.NewLocal(mux, queue.WithLogger(zap.NewNop().Sugar()))
		enqueued := time.Now()
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "step", Target: "t1"}.After(200*time.Millisecond))).To(BeNil())

		Consistently(rec.count, 100*time.Millisecond).Should(BeZero())
		Eventually(rec.count).Should(Equal(1))
		Expect(rec.at[0].Sub(enqueued)).To(BeNumerically(">=", 200*time.Millisecond))
	})

	It("collapses pending messages of the same scope", func() {
		q = queue.NewLocal(mux, queue.WithLogger(zap.NewNop().Sugar()))
		msg := queue.Message{Handler: "step", Target: "m1", Scope: "m1"}.After(100 * time.Millisecond)
		Expect(q.Enqueue(context.TODO(), msg)).To(BeNil())
		Expect(q.Enqueue(context.TODO(), msg)).To(BeNil())
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "step", Target: "m2", Scope: "m2"})).To(BeNil())

		Eventually(rec.count).Should(Equal(2))
		Consistently(rec.count, 200*time.Millisecond).Should(Equal(2))

		Expect(q.Enqueue(context.TODO(), msg)).To(BeNil())
		Eventually(rec.count).Should(Equal(3))
	})

	It("redelivers failed messages", func() {
		var attempts atomic.Int32
		mux.Handle("flaky", func(ctx context.Context, msg queue.Message) error {
			if attempts.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		q = queue.NewLocal(mux, queue.WithLogger(zap.NewNop().Sugar()), queue.WithRetry(5, 10*time.Millisecond))
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "flaky"})).To(BeNil())

		Eventually(attempts.Load).Should(Equal(int32(3)))
		Consistently(attempts.Load, 100*time.Millisecond).Should(Equal(int32(3)))
	})

	It("gives up after the last attempt", func() {
		var attempts atomic.Int32
		mux.Handle("broken", func(ctx context.Context, msg queue.Message) error {
			attempts.Add(1)
			return errors.New("boom")
		})
		q = queue.NewLocal(mux, queue.WithLogger(zap.NewNop().Sugar()), queue.WithRetry(2, 10*time.Millisecond))
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "broken"})).To(BeNil())

		Eventually(attempts.Load).Should(Equal(int32(2)))
		Consistently(attempts.Load, 100*time.Millisecond).Should(Equal(int32(2)))
	})

	It("drops pending messages on stop", func() {
		q = queue.NewLocal(mux, queue.WithLogger(zap.NewNop().Sugar()))
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "step"}.After(time.Hour))).To(BeNil())
		Expect(q.Stop(context.TODO())).To(BeNil())

		Expect(rec.count()).To(BeZero())
		Expect(q.Enqueue(context.TODO(), queue.Message{Handler: "step"})).NotTo(BeNil())
	})
})

var _ = Describe("river args", func() {
	It("uses the manager queue", func() {
		args := queue.MessageArgs{}
		Expect(args.Kind()).To(Equal(queue.JobKind))
		Expect(args.InsertOpts().Queue).To(Equal(queue.DefaultQueue))
		Expect(args.InsertOpts().MaxAttempts).To(Equal(queue.MaxJobAttempts))
	})

	It("converts back to a message", func() {
		msg := queue.Message{Handler: "refresh", Target: "m1", Args: []string{"100"}, Scope: "m1"}
		Expect(queue.MessageArgs(msg).Message()).To(Equal(msg))
	})
})

var _ = Describe("messages", func() {
	It("scopes refreshes by manager and targets", func() {
		full := queue.RefreshMessage("m1")
		Expect(full.Handler).To(Equal(queue.HandlerRefresh))
		Expect(full.Target).To(Equal("m1"))
		Expect(full.Args).To(BeEmpty())
		Expect(full.Scope).To(Equal("m1"))

		targeted := queue.RefreshMessage("m1", "100", "101")
		Expect(targeted.Args).To(Equal([]string{"100", "101"}))
		Expect(targeted.Scope).To(Equal("m1/100,101"))
	})

	It("keeps task refreshes apart from running refreshes of the same vms", func() {
		msg := queue.TaskRefreshMessage("m1", "t1", "100")
		Expect(msg.Handler).To(Equal(queue.HandlerRefresh))
		Expect(msg.Target).To(Equal("m1"))
		Expect(msg.Args).To(Equal([]string{"100"}))
		Expect(msg.Scope).To(Equal("m1/100@task/t1"))
		Expect(msg.Scope).ToNot(Equal(queue.RefreshMessage("m1", "100").Scope))
	})

		It("builds unscoped step messages", func() {
		msg := queue.StepMessage("t1")
		Expect(msg.Handler).To(Equal(queue.HandlerTaskStep))
		Expect(msg.Target).To(Equal("t1"))
		Expect(msg.Scope).To(BeEmpty())
	})
})
