package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/internal/task"
	"go.uber.org/zap"
)

type SnapshotForm struct {
	Name        string
	Description string
	// Memory saves the RAM too. Ignored unless the vm is running.
	Memory bool
}

type SnapshotService struct {
	store   store.Store
	queue   queue.Queue
	tasks   Submitter
	connect ConnectFunc
	wait    WaitConfig
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewSnapshotService(s store.Store, q queue.Queue, tasks Submitter, connect ConnectFunc, wait WaitConfig, log *zap.SugaredLogger) *SnapshotService {
	if log == nil {
		log = zap.S().Named("snapshot_service")
	}
	return &SnapshotService{store: s, queue: q, tasks: tasks, connect: connect, wait: wait, now: time.Now, log: log}
}

// Create takes a snapshot and waits for the remote task within the configured
// bounds, then queues a refresh of the vm. It returns the snapshot name.
func (ss *SnapshotService) Create(ctx context.Context, vmID uuid.UUID, form SnapshotForm) (string, error) {
	vm, err := getVM(ctx, ss.store, vmID)
	if err != nil {
		return "", err
	}
	node, vmid, err := vmTarget(vm)
	if err != nil {
		return "", err
	}

	name := form.Name
	if name == "" {
		name = fmt.Sprintf("snapshot-%d", ss.now().Unix())
	}
	if name == proxmox.CurrentSnapshotName {
		return "", NewErrInvalidRequest("%q is a reserved snapshot name", name)
	}

	api, err := ss.connect(ctx, vm.ManagerID)
	if err != nil {
		return "", remoteError(err)
	}

	log := ss.log.With("vm", vm.Name, "vmid", vmid, "snapshot", name)
	log.Info("creating snapshot")

	upid, err := api.CreateSnapshot(ctx, node, vmid, proxmox.SnapshotOptions{
		Name:        name,
		Description: form.Description,
		VMState:     form.Memory && vm.PoweredOn(),
	})
	if err != nil {
		return "", remoteError(err)
	}

	if upid != "" {
		if _, err := api.WaitForTask(ctx, upid, ss.wait.Interval, ss.wait.Timeout); err != nil {
			log.Errorw("snapshot creation failed", "upid", upid, "error", err)
			return "", remoteError(err)
		}
	}
	log.Infow("snapshot created", "upid", upid)

	if err := ss.queue.Enqueue(ctx, queue.RefreshMessage(vm.ManagerID.String(), vm.EmsRef)); err != nil {
		log.Warnw("failed to queue refresh", "error", err)
	}
	return name, nil
}

// Remove starts the deletion of a snapshot and returns its task. The active
// snapshot cannot be removed.
func (ss *SnapshotService) Remove(ctx context.Context, vmID, snapshotID uuid.UUID, userid string) (*model.Task, error) {
	vm, snapshot, err := ss.lookup(ctx, vmID, snapshotID)
	if err != nil {
		return nil, err
	}
	if snapshot.Current {
		return nil, NewErrInvalidRequest("snapshot %q is the active snapshot of vm %s and cannot be removed", snapshot.Name, vm.Name)
	}
	return ss.submit(ctx, task.OperationSnapshotRemove, vm, snapshot, userid)
}

// Revert starts the rollback of a powered off vm to one of its earlier
// snapshots and returns its task.
func (ss *SnapshotService) Revert(ctx context.Context, vmID, snapshotID uuid.UUID, userid string) (*model.Task, error) {
	vm, snapshot, err := ss.lookup(ctx, vmID, snapshotID)
	if err != nil {
		return nil, err
	}
	if vm.PoweredOn() {
		return nil, NewErrInvalidRequest("revert is allowed only when the vm is down, current state is %s", vm.PowerState)
	}
	if snapshot.Current {
		return nil, NewErrInvalidRequest("snapshot %q is the active snapshot of vm %s, there is nothing to revert", snapshot.Name, vm.Name)
	}
	return ss.submit(ctx, task.OperationSnapshotRevert, vm, snapshot, userid)
}

func (ss *SnapshotService) lookup(ctx context.Context, vmID, snapshotID uuid.UUID) (*model.VM, *model.Snapshot, error) {
	vm, err := getVM(ctx, ss.store, vmID)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := ss.store.Inventory().GetSnapshot(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil, NewErrSnapshotNotFound(snapshotID)
		}
		return nil, nil, err
	}
	if snapshot.VMID == nil || *snapshot.VMID != vm.ID {
		return nil, nil, NewErrSnapshotNotFound(snapshotID)
	}
	return vm, snapshot, nil
}

func (ss *SnapshotService) submit(ctx context.Context, operation string, vm *model.VM, snapshot *model.Snapshot, userid string) (*model.Task, error) {
	node, vmid, err := vmTarget(vm)
	if err != nil {
		return nil, err
	}
	return ss.tasks.Submit(ctx, task.Request{
		Operation: operation,
		ManagerID: vm.ManagerID,
		VMID:      &vm.ID,
		Userid:    userid,
		Progress: task.Progress{
			Node:       node,
			VMID:       vmid,
			VMRef:      vm.EmsRef,
			Snapshot:   snapshot.Name,
			SnapshotID: snapshot.ID.String(),
		},
	})
}
