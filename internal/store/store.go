package store

import (
	"context"

	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Manager() Manager
	Inventory() Inventory
	Task() Task
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db        *gorm.DB
	manager   Manager
	inventory Inventory
	task      Task
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		manager:   NewManagerStore(db),
		inventory: NewInventoryStore(db),
		task:      NewTaskStore(db),
		db:        db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Manager() Manager {
	return s.manager
}

func (s *DataStore) Inventory() Inventory {
	return s.inventory
}

func (s *DataStore) Task() Task {
	return s.task
}

// InitialMigration creates the schema from the models. Postgres deployments
// run the versioned migrations instead.
func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.Manager{},
		&model.Cluster{},
		&model.Host{},
		&model.Storage{},
		&model.VM{},
		&model.Hardware{},
		&model.Disk{},
		&model.NetworkAdapter{},
		&model.GuestNetwork{},
		&model.Snapshot{},
		&model.Task{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
