// Package connection hands out authenticated api clients for the managed clusters.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"go.uber.org/zap"
)

// Dialer builds and authenticates a client for a manager.
type Dialer func(ctx context.Context, m model.Manager) (*proxmox.Client, error)

// Pool caches one client per manager. A cached client is rebuilt when the endpoint
// or the credentials of the manager changed since it was dialed.
type Pool struct {
	store store.Store
	dial  Dialer
	log   *zap.SugaredLogger

	mu      sync.Mutex
	clients map[uuid.UUID]entry
}

type entry struct {
	client *proxmox.Client
	key    string
}

func dialKey(m *model.Manager) string {
	return fmt.Sprintf("%s|%d|%s|%s|%t", m.Hostname, m.Port, m.Username, m.Password, m.VerifySSL)
}

func NewPool(s store.Store, dial Dialer, log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.S().Named("connection")
	}
	return &Pool{
		store:   s,
		dial:    dial,
		log:     log,
		clients: map[uuid.UUID]entry{},
	}
}

// NewDialer returns a Dialer logging in with the manager credentials.
func NewDialer(timeout time.Duration, log *zap.SugaredLogger) Dialer {
	if log == nil {
		log = zap.S().Named("proxmox")
	}
	return func(ctx context.Context, m model.Manager) (*proxmox.Client, error) {
		return Connect(ctx, m, timeout, log)
	}
}

// Connect builds a client for the manager and logs in. A rejected login returns
// proxmox.ErrInvalidCredentials.
func Connect(ctx context.Context, m model.Manager, timeout time.Duration, log *zap.SugaredLogger) (*proxmox.Client, error) {
	client, err := proxmox.NewClient(proxmox.ClientConfig{
		BaseURL:            proxmox.BaseURL(m.Hostname, m.Port),
		Username:           m.Username,
		Password:           m.Password,
		InsecureSkipVerify: !m.VerifySSL,
		Timeout:            timeout,
	}, nil, log.With("manager", m.Name))
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (p *Pool) Client(ctx context.Context, managerID uuid.UUID) (*proxmox.Client, error) {
	m, err := p.store.Manager().Get(ctx, managerID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	e, ok := p.clients[managerID]
	p.mu.Unlock()
	if ok && e.key == dialKey(m) {
		return e.client, nil
	}

	client, err := p.dial(ctx, *m)
	if err != nil {
		return nil, err
	}
	p.log.Debugw("connected", "manager_id", managerID, "endpoint", client.Endpoint())

	p.mu.Lock()
	p.clients[managerID] = entry{client: client, key: dialKey(m)}
	p.mu.Unlock()
	return client, nil
}

// Forget drops the cached client of a manager.
func (p *Pool) Forget(managerID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, managerID)
}
