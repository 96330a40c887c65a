package refresh

import (
	"context"
	"time"

	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// Scheduler queues a full refresh of every manager on a jittered interval.
type Scheduler struct {
	store    store.Store
	queue    queue.Queue
	interval time.Duration
	jitter   time.Duration
	log      *zap.SugaredLogger
}

func NewScheduler(s store.Store, q queue.Queue, interval, jitter time.Duration, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.S().Named("scheduler")
	}
	return &Scheduler{store: s, queue: q, interval: interval, jitter: jitter, log: log}
}

// Run queues a first round at once and then one per tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: s.jitter, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick queues one refresh per manager and returns how many were queued.
func (s *Scheduler) Tick(ctx context.Context) int {
	managers, err := s.store.Manager().List(ctx, nil)
	if err != nil {
		s.log.Errorw("failed to list managers", "error", err)
		return 0
	}

	queued := 0
	for _, m := range managers {
		if err := s.queue.Enqueue(ctx, queue.RefreshMessage(m.ID.String())); err != nil {
			s.log.Warnw("failed to queue refresh", "manager", m.Name, "error", err)
			continue
		}
		queued++
	}
	s.log.Debugw("refreshes queued", "count", queued)
	return queued
}
