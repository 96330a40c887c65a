package metrics

import (
	"context"
	"fmt"

	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type inventoryStatsCollector struct {
	store          store.Store
	totalManagers  *prometheus.Desc
	totalHosts     *prometheus.Desc
	totalVms       *prometheus.Desc
	totalStorages  *prometheus.Desc
	totalSnapshots *prometheus.Desc
}

// RegisterInventoryCollector exposes the persisted inventory counts per manager.
func RegisterInventoryCollector(s store.Store) {
	prometheus.MustRegister(NewInventoryStatsCollector(s))
}

func NewInventoryStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_inventory_%s", proxmoxManager, name)
	}

	return &inventoryStatsCollector{
		store: s,
		totalManagers: prometheus.NewDesc(
			fqName("managers_total"),
			"Total number of managed clusters.",
			nil,
			prometheus.Labels{},
		),
		totalHosts: prometheus.NewDesc(
			fqName("hosts_total"),
			"Total number of active hosts.",
			[]string{managerLabel},
			prometheus.Labels{},
		),
		totalVms: prometheus.NewDesc(
			fqName("vms_total"),
			"Total number of active vms.",
			[]string{managerLabel},
			prometheus.Labels{},
		),
		totalStorages: prometheus.NewDesc(
			fqName("storages_total"),
			"Total number of storages.",
			[]string{managerLabel},
			prometheus.Labels{},
		),
		totalSnapshots: prometheus.NewDesc(
			fqName("snapshots_total"),
			"Total number of snapshots.",
			[]string{managerLabel},
			prometheus.Labels{},
		),
	}
}

func (c *inventoryStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalManagers
	ch <- c.totalHosts
	ch <- c.totalVms
	ch <- c.totalStorages
	ch <- c.totalSnapshots
}

// Collect implements Collector.
func (c *inventoryStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	managers, err := c.store.Manager().List(ctx, nil)
	if err != nil {
		zap.S().Named("inventory_collector").Errorf("failed to list managers: %s", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.totalManagers, prometheus.GaugeValue, float64(len(managers)))

	for _, m := range managers {
		stats, err := c.store.Inventory().Count(ctx, m.ID)
		if err != nil {
			zap.S().Named("inventory_collector").Errorf("failed to collect inventory statistics of %s: %s", m.Name, err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.totalHosts, prometheus.GaugeValue, float64(stats.Hosts), m.Name)
		ch <- prometheus.MustNewConstMetric(c.totalVms, prometheus.GaugeValue, float64(stats.VMs), m.Name)
		ch <- prometheus.MustNewConstMetric(c.totalStorages, prometheus.GaugeValue, float64(stats.Storages), m.Name)
		ch <- prometheus.MustNewConstMetric(c.totalSnapshots, prometheus.GaugeValue, float64(stats.Snapshots), m.Name)
	}
}
