// Package refresh runs reconciliation passes of the managed clusters.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/inventory/collector"
	"github.com/kubev2v/proxmox-manager/internal/inventory/parser"
	"github.com/kubev2v/proxmox-manager/internal/inventory/persister"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/pkg/metrics"
	"go.uber.org/zap"
)

const (
	resultOk    = "ok"
	resultError = "error"
)

var ErrInvalidTarget = errors.New("invalid refresh target")

// ConnectFunc returns an api client for the manager.
type ConnectFunc func(ctx context.Context, managerID uuid.UUID) (collector.Client, error)

type Refresher struct {
	store         store.Store
	persister     *persister.Persister
	connect       ConnectFunc
	defaultBridge string
	now           func() time.Time
	log           *zap.SugaredLogger

	locks sync.Map // manager id -> *sync.Mutex
}

func NewRefresher(s store.Store, connect ConnectFunc, defaultBridge string, log *zap.SugaredLogger) *Refresher {
	if log == nil {
		log = zap.S().Named("refresh")
	}
	return &Refresher{
		store:         s,
		persister:     persister.New(s, log.Named("persister")),
		connect:       connect,
		defaultBridge: defaultBridge,
		now:           time.Now,
		log:           log,
	}
}

func (r *Refresher) lock(managerID uuid.UUID) func() {
	mu, _ := r.locks.LoadOrStore(managerID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Refresh runs one collect, parse and persist pass for the manager. Targets are
// vm ems_refs; without targets the whole cluster is reconciled. Passes of the
// same manager never overlap within a process, and their commits are serialized
// across processes by the manager lock the persister takes.
func (r *Refresher) Refresh(ctx context.Context, managerID uuid.UUID, targets ...string) (persister.Result, error) {
	vmids := make([]int, 0, len(targets))
	for _, t := range targets {
		id, err := strconv.Atoi(t)
		if err != nil {
			return persister.Result{}, fmt.Errorf("%w: %q", ErrInvalidTarget, t)
		}
		vmids = append(vmids, id)
	}

	unlock := r.lock(managerID)
	defer unlock()

	m, err := r.store.Manager().Get(ctx, managerID)
	if err != nil {
		return persister.Result{}, err
	}

	log := r.log.With("manager", m.Name, "manager_id", m.ID)
	start := r.now()
	result, err := r.pass(ctx, log, m, vmids)

	outcome := resultOk
	if err != nil {
		outcome = resultError
		log.Errorw("refresh failed", "error", err)
	}
	metrics.ObserveRefresh(m.Name, outcome, r.now().Sub(start))

	if recErr := r.store.Manager().RecordRefresh(ctx, m.ID, r.now(), err); recErr != nil {
		log.Warnw("failed to record refresh", "error", recErr)
	}
	return result, err
}

func (r *Refresher) pass(ctx context.Context, log *zap.SugaredLogger, m *model.Manager, vmids []int) (persister.Result, error) {
	client, err := r.connect(ctx, m.ID)
	if err != nil {
		return persister.Result{}, err
	}

	c := collector.New(client, log.Named("collector"), collector.WithTargets(vmids...))
	if err := c.BackboneErr(ctx); err != nil {
		// an empty pass would archive the whole inventory
		return persister.Result{}, fmt.Errorf("listing cluster resources: %w", err)
	}

	g := parser.New(c, log.Named("parser"), r.defaultBridge).Parse(ctx)
	result, err := r.persister.Commit(ctx, m.ID, g)
	if err != nil {
		return result, err
	}

	if !c.Targeted() {
		publish(ctx, m, c)
	}
	log.Infow("refresh done", "vms", result.VMs, "hosts", result.Hosts, "targets", c.Targets())
	return result, nil
}

func publish(ctx context.Context, m *model.Manager, c *collector.Collector) {
	cm := c.ClusterMetrics(ctx)
	metrics.UpdateClusterUsage(m.Name, metrics.ClusterUsage{
		CPUUsageRate:    cm.CPUUsageRateAverage,
		MemoryUsageRate: cm.MemUsageRateAverage,
		Hosts:           cm.HostCount,
		VMsOn:           cm.VMCountOn,
		VMsOff:          cm.VMCountOff,
	})
	for _, n := range c.Nodes(ctx) {
		hm, ok := c.HostMetrics(ctx, n.Node)
		if !ok {
			continue
		}
		metrics.UpdateHostUsage(m.Name, n.Node, metrics.HostUsage{
			CPUUsageRate:    hm.CPUUsageRateAverage,
			MemoryUsageRate: hm.MemUsageRateAverage,
			DiskUsageRate:   hm.DiskUsageRateAverage,
		})
	}
}

// Handler adapts Refresh to queue delivery. Refreshes of deleted managers are dropped.
func (r *Refresher) Handler() queue.HandlerFunc {
	return func(ctx context.Context, msg queue.Message) error {
		id, err := uuid.Parse(msg.Target)
		if err != nil {
			r.log.Errorw("dropping refresh with malformed manager id", "target", msg.Target)
			return nil
		}
		_, err = r.Refresh(ctx, id, msg.Args...)
		if errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, ErrInvalidTarget) {
			return nil
		}
		return err
	}
}
