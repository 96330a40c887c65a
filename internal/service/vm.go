package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
)

type VMFilter struct {
	IncludeArchived bool
	PowerState      string
	Sort            []store.SortOrder
}

// InventoryService reads the reconciled topology.
type InventoryService struct {
	store    store.Store
	managers *ManagerService
}

func NewInventoryService(s store.Store, managers *ManagerService) *InventoryService {
	return &InventoryService{store: s, managers: managers}
}

func (is *InventoryService) ListVMs(ctx context.Context, managerID uuid.UUID, filter VMFilter) (model.VMList, error) {
	if _, err := is.managers.Get(ctx, managerID); err != nil {
		return nil, err
	}

	storeFilter := store.NewVMQueryFilter().ByManagerID(managerID)
	if !filter.IncludeArchived {
		storeFilter = storeFilter.ByArchived(false)
	}
	if filter.PowerState != "" {
		storeFilter = storeFilter.ByPowerState(filter.PowerState)
	}

	opts := store.NewVMQueryOptions()
	for _, s := range filter.Sort {
		opts = opts.WithSortOrder(s)
	}
	return is.store.Inventory().ListVMs(ctx, storeFilter, opts)
}

func (is *InventoryService) GetVM(ctx context.Context, id uuid.UUID) (*model.VM, error) {
	return getVM(ctx, is.store, id)
}
