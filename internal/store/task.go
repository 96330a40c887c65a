package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"gorm.io/gorm"
)

type Task interface {
	Create(ctx context.Context, task model.Task) (*model.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Task, error)
	List(ctx context.Context, filter *TaskQueryFilter) (model.TaskList, error)
	Update(ctx context.Context, task model.Task) (*model.Task, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
}

type TaskStore struct {
	db *gorm.DB
}

// Make sure we conform to Task interface
var _ Task = (*TaskStore)(nil)

func NewTaskStore(db *gorm.DB) Task {
	return &TaskStore{db: db}
}

func (t *TaskStore) Create(ctx context.Context, task model.Task) (*model.Task, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.State == "" {
		task.State = model.TaskStateQueued
	}
	if err := t.getDB(ctx).Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *TaskStore) Get(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	var task model.Task
	if err := t.getDB(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (t *TaskStore) List(ctx context.Context, filter *TaskQueryFilter) (model.TaskList, error) {
	var tasks model.TaskList
	tx := t.getDB(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Model(&tasks).Order("created_at").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update writes the mutable fields of the task: state, status, message and context.
func (t *TaskStore) Update(ctx context.Context, task model.Task) (*model.Task, error) {
	result := t.getDB(ctx).Model(&model.Task{ID: task.ID}).
		Select("state", "status", "message", "context").
		Updates(&task)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return t.Get(ctx, task.ID)
}

// Claim takes a lease on an unfinished task. It reports false when the task is
// finished or another step still holds a live lease.
func (t *TaskStore) Claim(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	result := t.getDB(ctx).Model(&model.Task{}).
		Where("id = ? AND state <> ? AND lease_until <= ?", id, model.TaskStateFinished, now.Unix()).
		Update("lease_until", now.Add(lease).Unix())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (t *TaskStore) Release(ctx context.Context, id uuid.UUID) error {
	return t.getDB(ctx).Model(&model.Task{}).Where("id = ?", id).Update("lease_until", 0).Error
}

func (t *TaskStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return t.db.WithContext(ctx)
}
