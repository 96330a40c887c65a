package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
)

type TaskService struct {
	store store.Store
}

func NewTaskService(s store.Store) *TaskService {
	return &TaskService{store: s}
}

func (ts *TaskService) Get(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	t, err := ts.store.Task().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrTaskNotFound(id)
		}
		return nil, err
	}
	return t, nil
}

func (ts *TaskService) ListByVM(ctx context.Context, vmID uuid.UUID) (model.TaskList, error) {
	return ts.store.Task().List(ctx, store.NewTaskQueryFilter().ByVMID(vmID))
}
