package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/internal/task"
	"go.uber.org/zap"
)

const (
	MaxTotalVCPUs     = 128
	MaxCoresPerSocket = 128
	MaxMemoryMB       = 4 * 1024 * 1024 // 4 TiB
)

// ReconfigureOptions are the requested changes. Nil fields are left untouched.
type ReconfigureOptions struct {
	NumberOfCPUs   *int
	CoresPerSocket *int
	MemoryMB       *int64
	CPUType        string
	Description    *string
	OnBoot         *bool
	BootOrder      string
	Protection     *bool
	DisksResize    []DiskResize
}

type DiskResize struct {
	Disk   string
	SizeMB int64
}

// ConfigSpec is the config change set sent to the api plus the disk resizes
// run as tasks. Zero values mean unchanged.
type ConfigSpec struct {
	Cores       int
	Sockets     int
	MemoryMB    int64
	CPUType     string
	Description *string
	OnBoot      *bool
	BootOrder   string
	Protection  *bool
	DisksResize []DiskResize
}

// Values returns the scalar part of the spec as config parameters.
func (c ConfigSpec) Values() url.Values {
	v := url.Values{}
	if c.Cores > 0 {
		v.Set("cores", strconv.Itoa(c.Cores))
	}
	if c.Sockets > 0 {
		v.Set("sockets", strconv.Itoa(c.Sockets))
	}
	if c.MemoryMB > 0 {
		v.Set("memory", strconv.FormatInt(c.MemoryMB, 10))
	}
	if c.CPUType != "" {
		v.Set("cpu", c.CPUType)
	}
	if c.Description != nil {
		v.Set("description", *c.Description)
	}
	if c.OnBoot != nil {
		v.Set("onboot", boolFlag(*c.OnBoot))
	}
	if c.BootOrder != "" {
		v.Set("boot", c.BootOrder)
	}
	if c.Protection != nil {
		v.Set("protection", boolFlag(*c.Protection))
	}
	return v
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

type ReconfigureService struct {
	store   store.Store
	queue   queue.Queue
	tasks   Submitter
	connect ConnectFunc
	log     *zap.SugaredLogger
}

func NewReconfigureService(s store.Store, q queue.Queue, tasks Submitter, connect ConnectFunc, log *zap.SugaredLogger) *ReconfigureService {
	if log == nil {
		log = zap.S().Named("reconfigure_service")
	}
	return &ReconfigureService{store: s, queue: q, tasks: tasks, connect: connect, log: log}
}

// BuildSpec turns the options into a config spec. Sockets are derived from the
// cpu count and the cores per socket, rounding up.
func (rs *ReconfigureService) BuildSpec(vm *model.VM, opts ReconfigureOptions) (ConfigSpec, error) {
	spec := ConfigSpec{
		CPUType:     opts.CPUType,
		Description: opts.Description,
		OnBoot:      opts.OnBoot,
		BootOrder:   opts.BootOrder,
		Protection:  opts.Protection,
	}

	if opts.CoresPerSocket != nil {
		if *opts.CoresPerSocket < 1 || *opts.CoresPerSocket > MaxCoresPerSocket {
			return ConfigSpec{}, NewErrInvalidRequest("cores per socket must be between 1 and %d", MaxCoresPerSocket)
		}
		spec.Cores = *opts.CoresPerSocket
	}

	if opts.NumberOfCPUs != nil {
		cpus := *opts.NumberOfCPUs
		if cpus < 1 || cpus > MaxTotalVCPUs {
			return ConfigSpec{}, NewErrInvalidRequest("number of cpus must be between 1 and %d", MaxTotalVCPUs)
		}
		cores := spec.Cores
		if cores == 0 && vm.Hardware != nil {
			cores = vm.Hardware.CPUCoresPerSocket
		}
		if cores < 1 {
			cores = 1
		}
		spec.Cores = cores
		spec.Sockets = (cpus + cores - 1) / cores
	}

	if opts.MemoryMB != nil {
		if *opts.MemoryMB < 1 || *opts.MemoryMB > MaxMemoryMB {
			return ConfigSpec{}, NewErrInvalidRequest("memory must be between 1 and %d MB", MaxMemoryMB)
		}
		spec.MemoryMB = *opts.MemoryMB
	}

	for _, d := range opts.DisksResize {
		if d.Disk == "" || d.SizeMB <= 0 {
			return ConfigSpec{}, NewErrInvalidRequest("disk resize needs a disk name and a positive size")
		}
		spec.DisksResize = append(spec.DisksResize, d)
	}

	if len(spec.Values()) == 0 && len(spec.DisksResize) == 0 {
		return ConfigSpec{}, NewErrInvalidRequest("nothing to reconfigure")
	}
	return spec, nil
}

// Reconfigure applies the scalar part of the spec synchronously and starts a
// resize task per disk. Every disk resize is validated before anything is sent.
func (rs *ReconfigureService) Reconfigure(ctx context.Context, vmID uuid.UUID, opts ReconfigureOptions, userid string) (model.TaskList, error) {
	vm, err := getVM(ctx, rs.store, vmID)
	if err != nil {
		return nil, err
	}
	spec, err := rs.BuildSpec(vm, opts)
	if err != nil {
		return nil, err
	}
	node, vmid, err := vmTarget(vm)
	if err != nil {
		return nil, err
	}

	resizes := make([]task.Progress, 0, len(spec.DisksResize))
	for _, d := range spec.DisksResize {
		size, err := resizeTarget(vm, d.Disk, d.SizeMB)
		if err != nil {
			return nil, err
		}
		resizes = append(resizes, task.Progress{Node: node, VMID: vmid, VMRef: vm.EmsRef, Disk: d.Disk, Size: size})
	}

	log := rs.log.With("vm", vm.Name, "vmid", vmid)
	if changes := spec.Values(); len(changes) > 0 {
		api, err := rs.connect(ctx, vm.ManagerID)
		if err != nil {
			return nil, remoteError(err)
		}
		log.Infow("applying configuration", "changes", changes.Encode())
		if err := api.UpdateConfig(ctx, node, vmid, changes); err != nil {
			return nil, remoteError(err)
		}
		if err := rs.queue.Enqueue(ctx, queue.RefreshMessage(vm.ManagerID.String(), vm.EmsRef)); err != nil {
			log.Warnw("failed to queue refresh", "error", err)
		}
	}

	tasks := make(model.TaskList, 0, len(resizes))
	for _, p := range resizes {
		t, err := rs.submitResize(ctx, vm, p, userid)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// ResizeDisk grows one disk to sizeMB, rounded up to whole GiB, and returns the task.
func (rs *ReconfigureService) ResizeDisk(ctx context.Context, vmID uuid.UUID, disk string, sizeMB int64, userid string) (*model.Task, error) {
	vm, err := getVM(ctx, rs.store, vmID)
	if err != nil {
		return nil, err
	}
	node, vmid, err := vmTarget(vm)
	if err != nil {
		return nil, err
	}
	size, err := resizeTarget(vm, disk, sizeMB)
	if err != nil {
		return nil, err
	}
	return rs.submitResize(ctx, vm, task.Progress{Node: node, VMID: vmid, VMRef: vm.EmsRef, Disk: disk, Size: size}, userid)
}

func (rs *ReconfigureService) submitResize(ctx context.Context, vm *model.VM, p task.Progress, userid string) (*model.Task, error) {
	return rs.tasks.Submit(ctx, task.Request{
		Operation: task.OperationDiskResize,
		ManagerID: vm.ManagerID,
		VMID:      &vm.ID,
		Userid:    userid,
		Progress:  p,
	})
}

// resizeTarget checks that the disk exists and grows, and returns the api size.
func resizeTarget(vm *model.VM, disk string, sizeMB int64) (string, error) {
	if sizeMB <= 0 {
		return "", NewErrInvalidRequest("disk size must be positive")
	}
	current, ok := vm.Hardware.Disk(disk)
	if !ok {
		return "", NewErrDiskNotFound(vm.ID, disk)
	}

	gib := (sizeMB + 1023) / 1024
	if gib<<30 <= current.Size {
		return "", NewErrInvalidRequest("disk %s can only grow: requested %dG, current size is %d bytes", disk, gib, current.Size)
	}
	return fmt.Sprintf("%dG", gib), nil
}
