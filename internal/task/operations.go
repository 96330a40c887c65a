package task

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/store"
)

const (
	OperationSnapshotRemove = "snapshot_remove"
	OperationSnapshotRevert = "snapshot_revert"
	OperationDiskResize     = "disk_resize"
)

// API is the part of the proxmox client the operations use.
type API interface {
	DeleteSnapshot(ctx context.Context, node string, vmid int, name string) (proxmox.UPID, error)
	RollbackSnapshot(ctx context.Context, node string, vmid int, name string) (proxmox.UPID, error)
	ResizeDisk(ctx context.Context, node string, vmid int, disk, size string) (proxmox.UPID, error)
	TaskStatus(ctx context.Context, upid proxmox.UPID) (*proxmox.TaskStatus, error)
}

var _ API = (*proxmox.Client)(nil)

// Operation is one kind of remote operation.
type Operation interface {
	Name() string
	// Start issues the remote operation. An empty UPID means it already completed.
	Start(ctx context.Context, api API, p Progress) (proxmox.UPID, error)
	// Complete applies the local side effect of a successful operation.
	Complete(ctx context.Context, p Progress) error
	Started(upid proxmox.UPID) string
	Succeeded() string
	Failed(exitStatus string) string
}

// messages shared by the operations, keyed on a human readable title
type messages string

func (m messages) Started(upid proxmox.UPID) string {
	return fmt.Sprintf("%s initiated on Proxmox (Task ID: %s). Waiting for completion...", m, upid)
}

func (m messages) Succeeded() string {
	return fmt.Sprintf("%s completed successfully.", m)
}

func (m messages) Failed(exitStatus string) string {
	return fmt.Sprintf("%s failed on Proxmox. Final Status: '%s'", m, exitStatus)
}

type snapshotRemove struct {
	messages
	store store.Store
}

func NewSnapshotRemove(s store.Store) Operation {
	return &snapshotRemove{messages: "Snapshot deletion", store: s}
}

func (o *snapshotRemove) Name() string { return OperationSnapshotRemove }

func (o *snapshotRemove) Start(ctx context.Context, api API, p Progress) (proxmox.UPID, error) {
	return api.DeleteSnapshot(ctx, p.Node, p.VMID, p.Snapshot)
}

func (o *snapshotRemove) Complete(ctx context.Context, p Progress) error {
	if p.SnapshotID == "" {
		return nil
	}
	id, err := uuid.Parse(p.SnapshotID)
	if err != nil {
		return err
	}
	return o.store.Inventory().DeleteSnapshot(ctx, id)
}

type snapshotRevert struct {
	messages
}

func NewSnapshotRevert() Operation {
	return &snapshotRevert{messages: "Snapshot revert"}
}

func (o *snapshotRevert) Name() string { return OperationSnapshotRevert }

func (o *snapshotRevert) Start(ctx context.Context, api API, p Progress) (proxmox.UPID, error) {
	return api.RollbackSnapshot(ctx, p.Node, p.VMID, p.Snapshot)
}

func (o *snapshotRevert) Complete(ctx context.Context, p Progress) error {
	return nil
}

type diskResize struct {
	messages
}

func NewDiskResize() Operation {
	return &diskResize{messages: "Disk resize"}
}

func (o *diskResize) Name() string { return OperationDiskResize }

func (o *diskResize) Start(ctx context.Context, api API, p Progress) (proxmox.UPID, error) {
	return api.ResizeDisk(ctx, p.Node, p.VMID, p.Disk, p.Size)
}

func (o *diskResize) Complete(ctx context.Context, p Progress) error {
	return nil
}
