package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/internal/task"
)

// Remote is the part of the api client driven synchronously by the services.
type Remote interface {
	CreateSnapshot(ctx context.Context, node string, vmid int, opts proxmox.SnapshotOptions) (proxmox.UPID, error)
	WaitForTask(ctx context.Context, upid proxmox.UPID, interval, timeout time.Duration) (*proxmox.TaskStatus, error)
	UpdateConfig(ctx context.Context, node string, vmid int, changes url.Values) error
	VNCProxy(ctx context.Context, node string, vmid int) (*proxmox.VNCProxy, error)
}

var _ Remote = (*proxmox.Client)(nil)

// ConnectFunc returns an api client for the manager.
type ConnectFunc func(ctx context.Context, managerID uuid.UUID) (Remote, error)

// Submitter records remote operations run by the task machine.
type Submitter interface {
	Submit(ctx context.Context, req task.Request) (*model.Task, error)
}

// WaitConfig bounds the synchronous waits on remote tasks.
type WaitConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// getVM loads the vm with its details, translating a missing row.
func getVM(ctx context.Context, s store.Store, id uuid.UUID) (*model.VM, error) {
	vm, err := s.Inventory().GetVM(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrVMNotFound(id)
		}
		return nil, err
	}
	return vm, nil
}

// vmTarget returns the node and vmid addressing the vm on the api.
func vmTarget(vm *model.VM) (string, int, error) {
	vmid, err := strconv.Atoi(vm.EmsRef)
	if err != nil {
		return "", 0, NewErrInvalidRequest("vm %s has no remote id", vm.ID)
	}
	node := vm.Node()
	if node == "" && vm.Host != nil {
		node = vm.Host.EmsRef
	}
	if node == "" {
		return "", 0, NewErrInvalidRequest("cannot determine the node of vm %s", vm.ID)
	}
	return node, vmid, nil
}
