package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/connection"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/pkg/metrics"
	"go.uber.org/zap"
)

type ManagerForm struct {
	Name      string
	Hostname  string
	Port      int
	Username  string
	Password  string
	VerifySSL bool
}

// ClientCache holds the logged in clients of the managers.
type ClientCache interface {
	Forget(managerID uuid.UUID)
}

type ManagerService struct {
	store   store.Store
	queue   queue.Queue
	dial    connection.Dialer
	clients ClientCache
	log     *zap.SugaredLogger
}

func NewManagerService(s store.Store, q queue.Queue, dial connection.Dialer, clients ClientCache, log *zap.SugaredLogger) *ManagerService {
	if log == nil {
		log = zap.S().Named("manager_service")
	}
	return &ManagerService{store: s, queue: q, dial: dial, clients: clients, log: log}
}

// Create registers a cluster once its credentials are accepted and queues its
// first refresh.
func (ms *ManagerService) Create(ctx context.Context, form ManagerForm) (*model.Manager, error) {
	m := model.Manager{
		Name:      strings.TrimSpace(form.Name),
		Hostname:  strings.TrimSpace(form.Hostname),
		Port:      form.Port,
		Username:  proxmox.NormalizeUsername(strings.TrimSpace(form.Username)),
		Password:  form.Password,
		VerifySSL: form.VerifySSL,
	}
	if m.Name == "" || m.Hostname == "" || m.Username == "" {
		return nil, NewErrInvalidRequest("name, hostname and username are required")
	}
	if m.Port == 0 {
		m.Port = model.DefaultManagerPort
	}

	if err := ms.authenticate(ctx, m); err != nil {
		return nil, err
	}

	created, err := ms.store.Manager().Create(ctx, m)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, NewErrManagerExists(m.Name)
		}
		return nil, err
	}
	ms.log.Infow("manager created", "manager_id", created.ID, "name", created.Name, "hostname", created.Hostname)

	if err := ms.queue.Enqueue(ctx, queue.RefreshMessage(created.ID.String())); err != nil {
		ms.log.Warnw("failed to queue first refresh", "manager_id", created.ID, "error", err)
	}
	return created, nil
}

func (ms *ManagerService) Get(ctx context.Context, id uuid.UUID) (*model.Manager, error) {
	m, err := ms.store.Manager().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrManagerNotFound(id)
		}
		return nil, err
	}
	return m, nil
}

func (ms *ManagerService) List(ctx context.Context) (model.ManagerList, error) {
	return ms.store.Manager().List(ctx, store.NewManagerQueryFilter())
}

// Verify logs in with the stored credentials.
func (ms *ManagerService) Verify(ctx context.Context, id uuid.UUID) error {
	m, err := ms.Get(ctx, id)
	if err != nil {
		return err
	}
	return ms.authenticate(ctx, *m)
}

func (ms *ManagerService) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := ms.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := ms.store.Manager().Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrManagerNotFound(id)
		}
		return err
	}

	if ms.clients != nil {
		ms.clients.Forget(id)
	}
	metrics.ForgetManager(m.Name)
	ms.log.Infow("manager deleted", "manager_id", id, "name", m.Name)
	return nil
}

// QueueRefresh queues a refresh of the manager, narrowed to the given vm ems_refs.
func (ms *ManagerService) QueueRefresh(ctx context.Context, id uuid.UUID, vms ...string) error {
	if _, err := ms.Get(ctx, id); err != nil {
		return err
	}
	return ms.queue.Enqueue(ctx, queue.RefreshMessage(id.String(), vms...))
}

func (ms *ManagerService) authenticate(ctx context.Context, m model.Manager) error {
	if _, err := ms.dial(ctx, m); err != nil {
		if errors.Is(err, proxmox.ErrInvalidCredentials) {
			return NewErrInvalidCredentials(m.Username, m.Hostname)
		}
		return remoteError(err)
	}
	return nil
}
