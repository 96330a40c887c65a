package store

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByName
	SortByCreatedTime
	SortByUpdatedTime
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type ManagerQueryFilter BaseQuerier

func NewManagerQueryFilter() *ManagerQueryFilter {
	return &ManagerQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *ManagerQueryFilter) ByName(name string) *ManagerQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("name = ?", name)
	})
	return qf
}

func (qf *ManagerQueryFilter) ByHostname(hostname string) *ManagerQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("hostname = ?", hostname)
	})
	return qf
}

type VMQueryFilter BaseQuerier

func NewVMQueryFilter() *VMQueryFilter {
	return &VMQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *VMQueryFilter) ByManagerID(id uuid.UUID) *VMQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("manager_id = ?", id)
	})
	return qf
}

func (qf *VMQueryFilter) ByEmsRef(refs ...string) *VMQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("ems_ref IN ?", refs)
	})
	return qf
}

func (qf *VMQueryFilter) ByArchived(archived bool) *VMQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("archived = ?", archived)
	})
	return qf
}

func (qf *VMQueryFilter) ByPowerState(state string) *VMQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("power_state = ?", state)
	})
	return qf
}

type VMQueryOptions BaseQuerier

func NewVMQueryOptions() *VMQueryOptions {
	return &VMQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *VMQueryOptions) WithSortOrder(sort SortOrder) *VMQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByName:
			return tx.Order("name")
		case SortByUpdatedTime:
			return tx.Order("updated_at")
		case SortByCreatedTime:
			return tx.Order("created_at")
		default:
			return tx
		}
	})
	return o
}

// WithDetails loads the host, the hardware with its devices and the snapshots.
func (o *VMQueryOptions) WithDetails() *VMQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Preload("Host").
			Preload("Hardware").
			Preload("Hardware.Disks", func(db *gorm.DB) *gorm.DB { return db.Order("device_name") }).
			Preload("Hardware.Adapters", func(db *gorm.DB) *gorm.DB { return db.Order("device_name") }).
			Preload("Hardware.Networks").
			Preload("Snapshots", func(db *gorm.DB) *gorm.DB { return db.Order("create_time") })
	})
	return o
}

type TaskQueryFilter BaseQuerier

func NewTaskQueryFilter() *TaskQueryFilter {
	return &TaskQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *TaskQueryFilter) ByManagerID(id uuid.UUID) *TaskQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("manager_id = ?", id)
	})
	return qf
}

func (qf *TaskQueryFilter) ByVMID(id uuid.UUID) *TaskQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("vm_id = ?", id)
	})
	return qf
}

func (qf *TaskQueryFilter) ByState(states ...string) *TaskQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state IN ?", states)
	})
	return qf
}
