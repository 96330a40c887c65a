package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"gorm.io/gorm"
)

// Inventory is the read side of the reconciled topology, plus the few local
// side effects remote operations have on it.
type Inventory interface {
	ListVMs(ctx context.Context, filter *VMQueryFilter, opts *VMQueryOptions) (model.VMList, error)
	GetVM(ctx context.Context, id uuid.UUID) (*model.VM, error)
	ListHosts(ctx context.Context, managerID uuid.UUID) (model.HostList, error)
	ListStorages(ctx context.Context, managerID uuid.UUID) (model.StorageList, error)
	ListSnapshots(ctx context.Context, vmID uuid.UUID) (model.SnapshotList, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context, managerID uuid.UUID) (model.InventoryStats, error)
}

type InventoryStore struct {
	db *gorm.DB
}

// Make sure we conform to Inventory interface
var _ Inventory = (*InventoryStore)(nil)

func NewInventoryStore(db *gorm.DB) Inventory {
	return &InventoryStore{db: db}
}

func (i *InventoryStore) ListVMs(ctx context.Context, filter *VMQueryFilter, opts *VMQueryOptions) (model.VMList, error) {
	var vms model.VMList
	tx := i.getDB(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Model(&vms).Find(&vms).Error; err != nil {
		return nil, err
	}
	return vms, nil
}

// GetVM returns the VM with its host, hardware, devices and snapshots.
func (i *InventoryStore) GetVM(ctx context.Context, id uuid.UUID) (*model.VM, error) {
	tx := i.getDB(ctx)
	for _, fn := range NewVMQueryOptions().WithDetails().QueryFn {
		tx = fn(tx)
	}

	var vm model.VM
	if err := tx.First(&vm, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &vm, nil
}

func (i *InventoryStore) ListHosts(ctx context.Context, managerID uuid.UUID) (model.HostList, error) {
	var hosts model.HostList
	if err := i.getDB(ctx).Where("manager_id = ?", managerID).Order("ems_ref").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

func (i *InventoryStore) ListStorages(ctx context.Context, managerID uuid.UUID) (model.StorageList, error) {
	var storages model.StorageList
	if err := i.getDB(ctx).Where("manager_id = ?", managerID).Order("ems_ref").Find(&storages).Error; err != nil {
		return nil, err
	}
	return storages, nil
}

func (i *InventoryStore) ListSnapshots(ctx context.Context, vmID uuid.UUID) (model.SnapshotList, error) {
	var snapshots model.SnapshotList
	if err := i.getDB(ctx).Where("vm_id = ?", vmID).Order("create_time").Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (i *InventoryStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := i.getDB(ctx).First(&snapshot, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &snapshot, nil
}

// DeleteSnapshot removes the local snapshot row. Deleting a missing row is not an error.
func (i *InventoryStore) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	return i.getDB(ctx).Delete(&model.Snapshot{ID: id}).Error
}

func (i *InventoryStore) Count(ctx context.Context, managerID uuid.UUID) (model.InventoryStats, error) {
	stats := model.InventoryStats{}
	counts := []struct {
		dst        *int64
		model      any
		activeOnly bool
	}{
		{&stats.Hosts, &model.Host{}, true},
		{&stats.VMs, &model.VM{}, true},
		{&stats.Storages, &model.Storage{}, false},
		{&stats.Snapshots, &model.Snapshot{}, false},
	}
	for _, c := range counts {
		tx := i.getDB(ctx).Model(c.model).Where("manager_id = ?", managerID)
		if c.activeOnly {
			tx = tx.Where("archived = ?", false)
		}
		if err := tx.Count(c.dst).Error; err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (i *InventoryStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return i.db.WithContext(ctx)
}
