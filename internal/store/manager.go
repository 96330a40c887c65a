package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Manager interface {
	List(ctx context.Context, filter *ManagerQueryFilter) (model.ManagerList, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Manager, error)
	Create(ctx context.Context, manager model.Manager) (*model.Manager, error)
	Update(ctx context.Context, manager model.Manager) (*model.Manager, error)
	RecordRefresh(ctx context.Context, id uuid.UUID, at time.Time, refreshErr error) error
	Delete(ctx context.Context, id uuid.UUID) error
	Lock(ctx context.Context, id uuid.UUID) error
}

type ManagerStore struct {
	db *gorm.DB
}

// Make sure we conform to Manager interface
var _ Manager = (*ManagerStore)(nil)

func NewManagerStore(db *gorm.DB) Manager {
	return &ManagerStore{db: db}
}

func (m *ManagerStore) List(ctx context.Context, filter *ManagerQueryFilter) (model.ManagerList, error) {
	var managers model.ManagerList
	tx := m.getDB(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Model(&managers).Order("name").Find(&managers).Error; err != nil {
		return nil, err
	}
	return managers, nil
}

func (m *ManagerStore) Get(ctx context.Context, id uuid.UUID) (*model.Manager, error) {
	manager := model.NewManagerFromID(id)
	if err := m.getDB(ctx).First(manager).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return manager, nil
}

func (m *ManagerStore) Create(ctx context.Context, manager model.Manager) (*model.Manager, error) {
	if manager.ID == uuid.Nil {
		manager.ID = uuid.New()
	}
	if err := m.getDB(ctx).Create(&manager).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &manager, nil
}

func (m *ManagerStore) Update(ctx context.Context, manager model.Manager) (*model.Manager, error) {
	result := m.getDB(ctx).Model(&manager).Clauses(clause.Returning{}).
		Select("name", "hostname", "port", "username", "password", "verify_ssl").
		Updates(&manager)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return m.Get(ctx, manager.ID)
}

// RecordRefresh stores the outcome of the last reconciliation pass.
func (m *ManagerStore) RecordRefresh(ctx context.Context, id uuid.UUID, at time.Time, refreshErr error) error {
	msg := ""
	if refreshErr != nil {
		msg = refreshErr.Error()
	}
	result := m.getDB(ctx).Model(&model.Manager{}).Where("id = ?", id).Updates(map[string]any{
		"last_refresh_at":    at,
		"last_refresh_error": msg,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the manager with its whole inventory and task history.
func (m *ManagerStore) Delete(ctx context.Context, id uuid.UUID) error {
	return m.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		hardware := tx.Model(&model.Hardware{}).Select("hardwares.id").
			Joins("JOIN vms ON vms.id = hardwares.vm_id").Where("vms.manager_id = ?", id)
		for _, child := range []any{&model.Disk{}, &model.NetworkAdapter{}, &model.GuestNetwork{}} {
			if err := tx.Where("hardware_id IN (?)", hardware).Delete(child).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("vm_id IN (?)", tx.Model(&model.VM{}).Select("id").Where("manager_id = ?", id)).
			Delete(&model.Hardware{}).Error; err != nil {
			return err
		}
		for _, owned := range []any{&model.Snapshot{}, &model.VM{}, &model.Storage{}, &model.Host{}, &model.Cluster{}, &model.Task{}} {
			if err := tx.Where("manager_id = ?", id).Delete(owned).Error; err != nil {
				return err
			}
		}
		result := tx.Delete(model.NewManagerFromID(id))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

// Lock blocks until no other transaction holds the lock of the manager and
// keeps it until the transaction of ctx ends. Postgres takes a transaction
// scoped advisory lock so managers without a row can be locked as well; other
// databases lock the manager row.
func (m *ManagerStore) Lock(ctx context.Context, id uuid.UUID) error {
	tx := FromContext(ctx)
	if tx == nil {
		return ErrNoTransaction
	}
	if tx.Dialector.Name() == "postgres" {
		return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", id.String()).Error
	}
	var ids []uuid.UUID
	return tx.Model(&model.Manager{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Pluck("id", &ids).Error
}

func (m *ManagerStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return m.db.WithContext(ctx)
}
