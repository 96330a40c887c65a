package queue

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
)

const (
	DefaultQueue   = "proxmox_manager"
	MaxJobAttempts = 5
	JobKind        = "proxmox_manager_message"
	JobTimeout     = 10 * time.Minute
)

// pendingStates are the job states in which a scoped message collapses new ones.
var pendingStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// MessageArgs is a Message as stored in river_job.args. Handler and Scope form the
// uniqueness key of scoped messages.
type MessageArgs struct {
	Handler   string    `json:"handler" river:"unique"`
	Target    string    `json:"target"`
	Args      []string  `json:"args,omitempty"`
	NotBefore time.Time `json:"not_before"`
	Scope     string    `json:"scope,omitempty" river:"unique"`
}

func (a MessageArgs) Message() Message {
	return Message{
		Handler:   a.Handler,
		Target:    a.Target,
		Args:      a.Args,
		NotBefore: a.NotBefore,
		Scope:     a.Scope,
	}
}

func (MessageArgs) Kind() string {
	return JobKind
}

func (MessageArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: MaxJobAttempts,
	}
}

// insertOpts returns the options of one message: scheduled at NotBefore, unique by
// handler and scope when the message is scoped.
func (a MessageArgs) insertOpts() *river.InsertOpts {
	opts := a.InsertOpts()
	if !a.NotBefore.IsZero() {
		opts.ScheduledAt = a.NotBefore
	}
	if a.Scope != "" {
		opts.UniqueOpts = river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
			ByState: pendingStates,
		}
	}
	return &opts
}

type worker struct {
	river.WorkerDefaults[MessageArgs]
	mux *Mux
	log *zap.SugaredLogger
}

func (w *worker) Timeout(job *river.Job[MessageArgs]) time.Duration {
	return JobTimeout
}

func (w *worker) Work(ctx context.Context, job *river.Job[MessageArgs]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.log.Debugw("delivering message", "message", job.Args.Message().String(), "job_id", job.ID, "attempt", job.Attempt)
	return w.mux.Dispatch(ctx, job.Args.Message())
}

// River is the durable queue backed by the river job tables in Postgres.
type River struct {
	client *river.Client[pgx.Tx]
	log    *zap.SugaredLogger
}

var _ Queue = (*River)(nil)

func NewRiver(pool *pgxpool.Pool, mux *Mux, maxWorkers int, log *zap.SugaredLogger) (*River, error) {
	if log == nil {
		log = zap.S().Named("queue")
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &worker{mux: mux, log: log})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			DefaultQueue: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}

	return &River{client: client, log: log}, nil
}

func (r *River) Enqueue(ctx context.Context, msg Message) error {
	args := MessageArgs(msg)
	result, err := r.client.Insert(ctx, args, args.insertOpts())
	if err != nil {
		return err
	}
	if result.UniqueSkippedAsDuplicate {
		r.log.Debugw("message collapsed", "message", msg.String(), "scope", msg.Scope)
	}
	return nil
}

func (r *River) Start(ctx context.Context) error {
	return r.client.Start(ctx)
}

func (r *River) Stop(ctx context.Context) error {
	return r.client.Stop(ctx)
}
