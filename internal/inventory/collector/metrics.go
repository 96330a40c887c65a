package collector

import (
	"context"
	"strconv"

	"github.com/kubev2v/proxmox-manager/internal/proxmox"
)

type ClusterMetrics struct {
	CPUUsageRateAverage     float64
	CPUTotal                float64
	MemUsageAbsoluteAverage int64
	MemTotal                int64
	MemUsageRateAverage     float64
	HostCount               int
	VMCountTotal            int
	VMCountOn               int
	VMCountOff              int
}

type EntityMetrics struct {
	CPUUsageRateAverage      float64
	CPUTotal                 float64
	MemUsageAbsoluteAverage  int64
	MemTotal                 int64
	MemUsageRateAverage      float64
	DiskUsageAbsoluteAverage int64
	DiskTotal                int64
	DiskUsageRateAverage     float64
}

// ClusterMetrics aggregates every node of the backbone. cpu is weighted by maxcpu.
func (c *Collector) ClusterMetrics(ctx context.Context) ClusterMetrics {
	var (
		m       ClusterMetrics
		usedCPU float64
	)
	for _, n := range c.Nodes(ctx) {
		m.CPUTotal += n.MaxCPU
		usedCPU += n.CPU * n.MaxCPU
		m.MemTotal += n.MaxMem
		m.MemUsageAbsoluteAverage += n.Mem
		m.HostCount++
	}
	if m.CPUTotal > 0 {
		m.CPUUsageRateAverage = usedCPU / m.CPUTotal * 100
	}
	m.MemUsageRateAverage = ratio(m.MemUsageAbsoluteAverage, m.MemTotal)

	for _, vm := range c.ofType(ctx, proxmox.ResourceQemu) {
		m.VMCountTotal++
		if vm.Status == "running" {
			m.VMCountOn++
		} else {
			m.VMCountOff++
		}
	}
	return m
}

// HostMetrics returns the metrics of one node and false when the node is unknown.
func (c *Collector) HostMetrics(ctx context.Context, node string) (EntityMetrics, bool) {
	for _, n := range c.Nodes(ctx) {
		if n.Node == node {
			m := entityMetrics(n)
			m.DiskUsageRateAverage = ratio(n.Disk, n.MaxDisk)
			return m, true
		}
	}
	return EntityMetrics{}, false
}

func (c *Collector) VMMetrics(ctx context.Context, vmid string) (EntityMetrics, bool) {
	for _, vm := range c.ofType(ctx, proxmox.ResourceQemu) {
		if strconv.Itoa(vm.VMID) == vmid {
			return entityMetrics(vm), true
		}
	}
	return EntityMetrics{}, false
}

// the api already reports cpu as a 0..1 fraction per entity
func entityMetrics(r proxmox.ClusterResource) EntityMetrics {
	return EntityMetrics{
		CPUUsageRateAverage:      r.CPU * 100,
		CPUTotal:                 r.MaxCPU,
		MemUsageAbsoluteAverage:  r.Mem,
		MemTotal:                 r.MaxMem,
		MemUsageRateAverage:      ratio(r.Mem, r.MaxMem),
		DiskUsageAbsoluteAverage: r.Disk,
		DiskTotal:                r.MaxDisk,
	}
}

func ratio(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
