package task

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultInitialDelay = 10 * time.Second
	DefaultPollDelay    = 20 * time.Second
	DefaultLease        = 2 * time.Minute
)

var ErrUnknownOperation = errors.New("unknown operation")

// ConnectFunc returns an api client for the manager owning a task.
type ConnectFunc func(ctx context.Context, managerID uuid.UUID) (API, error)

// Request describes a new task.
type Request struct {
	Operation string
	ManagerID uuid.UUID
	VMID      *uuid.UUID
	Userid    string
	Progress  Progress
}

type Machine struct {
	store        store.Store
	queue        queue.Queue
	connect      ConnectFunc
	operations   map[string]Operation
	initialDelay time.Duration
	pollDelay    time.Duration
	lease        time.Duration
	now          func() time.Time
	log          *zap.SugaredLogger
}

type Option func(*Machine)

// WithDelays sets the delay of the first status poll and of every following one.
func WithDelays(initial, poll time.Duration) Option {
	return func(m *Machine) {
		if initial > 0 {
			m.initialDelay = initial
		}
		if poll > 0 {
			m.pollDelay = poll
		}
	}
}

func WithLease(lease time.Duration) Option {
	return func(m *Machine) {
		if lease > 0 {
			m.lease = lease
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// WithOperations replaces the built-in operations.
func WithOperations(ops ...Operation) Option {
	return func(m *Machine) {
		m.operations = map[string]Operation{}
		for _, op := range ops {
			m.operations[op.Name()] = op
		}
	}
}

func NewMachine(s store.Store, q queue.Queue, connect ConnectFunc, opts ...Option) *Machine {
	m := &Machine{
		store:        s,
		queue:        q,
		connect:      connect,
		initialDelay: DefaultInitialDelay,
		pollDelay:    DefaultPollDelay,
		lease:        DefaultLease,
		now:          time.Now,
		log:          zap.S().Named("task"),
	}
	WithOperations(NewSnapshotRemove(s), NewSnapshotRevert(), NewDiskResize())(m)
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit records a new task and queues its first step.
func (m *Machine) Submit(ctx context.Context, req Request) (*model.Task, error) {
	if _, ok := m.operations[req.Operation]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	req.Progress.Phase = PhaseInit
	req.Progress.UPID = ""

	metrics.UniqueTaskUsersPerWeek.Record(req.Userid)

	t, err := m.store.Task().Create(ctx, model.Task{
		Name:      req.Operation,
		State:     model.TaskStateQueued,
		ManagerID: req.ManagerID,
		VMID:      req.VMID,
		Userid:    req.Userid,
		Context:   req.Progress.Encode(),
	})
	if err != nil {
		return nil, err
	}

	if err := m.queue.Enqueue(ctx, queue.StepMessage(t.ID.String())); err != nil {
		return nil, err
	}
	m.log.Infow("task submitted", "task_id", t.ID, "operation", t.Name, "manager_id", t.ManagerID)
	return t, nil
}

// Handler adapts Step to queue delivery.
func (m *Machine) Handler() queue.HandlerFunc {
	return func(ctx context.Context, msg queue.Message) error {
		id, err := uuid.Parse(msg.Target)
		if err != nil {
			m.log.Errorw("dropping step with malformed task id", "target", msg.Target)
			return nil
		}
		return m.Step(ctx, id)
	}
}

// Step advances the task by one phase. A returned error means the step should be
// delivered again; the task record is left as it was.
func (m *Machine) Step(ctx context.Context, id uuid.UUID) error {
	claimed, err := m.store.Task().Claim(ctx, id, m.now(), m.lease)
	if err != nil {
		return err
	}
	if !claimed {
		m.log.Debugw("step skipped, task finished or leased", "task_id", id)
		return nil
	}
	defer m.release(id)

	t, err := m.store.Task().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if t.Finished() {
		return nil
	}

	log := m.log.With("task_id", t.ID, "operation", t.Name)

	p, err := DecodeProgress(t.Context)
	if err != nil {
		return m.finish(ctx, t, Progress{Phase: PhaseFailed}, model.TaskStatusError, err.Error())
	}
	op, ok := m.operations[t.Name]
	if !ok {
		return m.finish(ctx, t, p, model.TaskStatusError, fmt.Sprintf("%s: %q", ErrUnknownOperation, t.Name))
	}

	api, err := m.connect(ctx, t.ManagerID)
	if err != nil {
		log.Warnw("failed to connect to manager", "manager_id", t.ManagerID, "error", err)
		return err
	}

	switch p.Phase {
	case PhaseInit:
		return m.start(ctx, log, api, op, t, p)
	case PhasePolling:
		return m.poll(ctx, log, api, op, t, p)
	default:
		// a terminal phase on an unfinished task means the last write did not land
		status := model.TaskStatusOk
		if p.Phase == PhaseFailed {
			status = model.TaskStatusError
		}
		return m.finish(ctx, t, p, status, t.Message)
	}
}

func (m *Machine) start(ctx context.Context, log *zap.SugaredLogger, api API, op Operation, t *model.Task, p Progress) error {
	if p.UPID != "" {
		// issued by an earlier delivery
		log.Infow("remote operation already issued", "upid", p.UPID)
		p.Phase = PhasePolling
		return m.continueAfter(ctx, t, p, t.Message, m.initialDelay)
	}

	upid, err := op.Start(ctx, api, p)
	if err != nil {
		if rejected(err) {
			log.Errorw("remote operation rejected", "error", err)
			p.Phase = PhaseFailed
			return m.finish(ctx, t, p, model.TaskStatusError, op.Failed(err.Error()))
		}
		log.Warnw("failed to issue remote operation", "error", err)
		return err
	}

	if upid == "" {
		// completed synchronously
		return m.succeed(ctx, log, op, t, p)
	}

	log.Infow("remote operation issued", "upid", upid)
	p.UPID = upid.String()
	p.Phase = PhasePolling
	return m.continueAfter(ctx, t, p, op.Started(upid), m.initialDelay)
}

func (m *Machine) poll(ctx context.Context, log *zap.SugaredLogger, api API, op Operation, t *model.Task, p Progress) error {
	status, err := api.TaskStatus(ctx, proxmox.UPID(p.UPID))
	if err != nil {
		log.Warnw("failed to get remote task status", "upid", p.UPID, "error", err)
		return err
	}

	switch {
	case status.Running():
		return m.continueAfter(ctx, t, p, t.Message, m.pollDelay)
	case status.Succeeded():
		return m.succeed(ctx, log, op, t, p)
	default:
		log.Errorw("remote operation failed", "upid", p.UPID, "status", status.Status, "exit_status", status.ExitStatus)
		exit := status.ExitStatus
		if exit == "" {
			exit = status.Status
		}
		p.Phase = PhaseFailed
		return m.finish(ctx, t, p, model.TaskStatusError, op.Failed(exit))
	}
}

func (m *Machine) succeed(ctx context.Context, log *zap.SugaredLogger, op Operation, t *model.Task, p Progress) error {
	if err := op.Complete(ctx, p); err != nil {
		log.Warnw("failed to apply local side effect", "error", err)
		return err
	}
	p.Phase = PhaseDone
	if err := m.finish(ctx, t, p, model.TaskStatusOk, op.Succeeded()); err != nil {
		return err
	}

	var targets []string
	if p.VMRef != "" {
		targets = append(targets, p.VMRef)
	} else if p.VMID > 0 {
		targets = append(targets, strconv.Itoa(p.VMID))
	}
	if err := m.queue.Enqueue(ctx, queue.TaskRefreshMessage(t.ManagerID.String(), t.ID.String(), targets...)); err != nil {
		// the scheduled refresh catches up
		log.Warnw("failed to queue refresh", "error", err)
	}
	log.Infow("task finished", "status", model.TaskStatusOk)
	return nil
}

// continueAfter persists the progress and queues the next step. The write comes
// first so a replayed step sees the recorded UPID, and the lease is released before
// the continuation can be delivered.
func (m *Machine) continueAfter(ctx context.Context, t *model.Task, p Progress, message string, delay time.Duration) error {
	t.State = model.TaskStateActive
	t.Message = message
	t.Context = p.Encode()
	if _, err := m.store.Task().Update(ctx, *t); err != nil {
		return err
	}
	m.release(t.ID)
	return m.queue.Enqueue(ctx, queue.StepMessage(t.ID.String()).After(delay))
}

func (m *Machine) release(id uuid.UUID) {
	if err := m.store.Task().Release(context.Background(), id); err != nil {
		m.log.Warnw("failed to release task lease", "task_id", id, "error", err)
	}
}

func (m *Machine) finish(ctx context.Context, t *model.Task, p Progress, status, message string) error {
	t.State = model.TaskStateFinished
	t.Status = status
	t.Message = message
	t.Context = p.Encode()
	if _, err := m.store.Task().Update(ctx, *t); err != nil {
		return err
	}
	metrics.IncreaseTasksFinishedMetric(t.Name, status)
	if status == model.TaskStatusError {
		m.log.Infow("task finished", "task_id", t.ID, "operation", t.Name, "status", status, "message", message)
	}
	return nil
}

// rejected reports whether the api refused the request itself. Such a request is
// not retried.
func rejected(err error) bool {
	var apiErr *proxmox.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= http.StatusBadRequest &&
		apiErr.StatusCode < http.StatusInternalServerError &&
		apiErr.StatusCode != http.StatusUnauthorized
}
