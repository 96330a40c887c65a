package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	proxmoxManager = "proxmox_manager"

	// Refresh metrics
	refreshTotal           = "refresh_total"
	refreshDurationSeconds = "refresh_duration_seconds"

	// Cluster metrics
	clusterCPUUsageRate    = "cluster_cpu_usage_rate"
	clusterMemoryUsageRate = "cluster_memory_usage_rate"
	clusterHosts           = "cluster_hosts"
	clusterVMs             = "cluster_vms"

	// Host metrics
	hostCPUUsageRate    = "host_cpu_usage_rate"
	hostMemoryUsageRate = "host_memory_usage_rate"
	hostDiskUsageRate   = "host_disk_usage_rate"

	// Task metrics
	tasksFinishedTotal = "tasks_finished_total"

	// Labels
	managerLabel   = "manager"
	resultLabel    = "result"
	hostLabel      = "host"
	powerLabel     = "power_state"
	operationLabel = "operation"
	statusLabel    = "status"
)

/**
* Metrics definition
**/
var refreshTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: proxmoxManager,
		Name:      refreshTotal,
		Help:      "number of reconciliation passes by result",
	},
	[]string{managerLabel, resultLabel},
)

var refreshDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: proxmoxManager,
		Name:      refreshDurationSeconds,
		Help:      "duration of reconciliation passes",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	},
	[]string{managerLabel},
)

var clusterCPUUsageRateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      clusterCPUUsageRate,
		Help:      "cpu usage of the cluster in percent, weighted by node cpu count",
	},
	[]string{managerLabel},
)

var clusterMemoryUsageRateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      clusterMemoryUsageRate,
		Help:      "memory usage of the cluster in percent",
	},
	[]string{managerLabel},
)

var clusterHostsMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      clusterHosts,
		Help:      "number of nodes in the cluster",
	},
	[]string{managerLabel},
)

var clusterVMsMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      clusterVMs,
		Help:      "number of vms in the cluster by power state",
	},
	[]string{managerLabel, powerLabel},
)

var hostCPUUsageRateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      hostCPUUsageRate,
		Help:      "cpu usage of a node in percent",
	},
	[]string{managerLabel, hostLabel},
)

var hostMemoryUsageRateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      hostMemoryUsageRate,
		Help:      "memory usage of a node in percent",
	},
	[]string{managerLabel, hostLabel},
)

var hostDiskUsageRateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      hostDiskUsageRate,
		Help:      "root disk usage of a node in percent",
	},
	[]string{managerLabel, hostLabel},
)

var tasksFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: proxmoxManager,
		Name:      tasksFinishedTotal,
		Help:      "number of remote operations finished by status",
	},
	[]string{operationLabel, statusLabel},
)

type ClusterUsage struct {
	CPUUsageRate    float64
	MemoryUsageRate float64
	Hosts           int
	VMsOn           int
	VMsOff          int
}

type HostUsage struct {
	CPUUsageRate    float64
	MemoryUsageRate float64
	DiskUsageRate   float64
}

func ObserveRefresh(manager, result string, duration time.Duration) {
	refreshTotalMetric.With(prometheus.Labels{managerLabel: manager, resultLabel: result}).Inc()
	refreshDurationMetric.With(prometheus.Labels{managerLabel: manager}).Observe(duration.Seconds())
}

func UpdateClusterUsage(manager string, u ClusterUsage) {
	labels := prometheus.Labels{managerLabel: manager}
	clusterCPUUsageRateMetric.With(labels).Set(u.CPUUsageRate)
	clusterMemoryUsageRateMetric.With(labels).Set(u.MemoryUsageRate)
	clusterHostsMetric.With(labels).Set(float64(u.Hosts))
	clusterVMsMetric.With(prometheus.Labels{managerLabel: manager, powerLabel: "on"}).Set(float64(u.VMsOn))
	clusterVMsMetric.With(prometheus.Labels{managerLabel: manager, powerLabel: "off"}).Set(float64(u.VMsOff))
}

func UpdateHostUsage(manager, host string, u HostUsage) {
	labels := prometheus.Labels{managerLabel: manager, hostLabel: host}
	hostCPUUsageRateMetric.With(labels).Set(u.CPUUsageRate)
	hostMemoryUsageRateMetric.With(labels).Set(u.MemoryUsageRate)
	hostDiskUsageRateMetric.With(labels).Set(u.DiskUsageRate)
}

// ForgetManager drops every series of a deleted manager.
func ForgetManager(manager string) {
	labels := prometheus.Labels{managerLabel: manager}
	for _, vec := range []*prometheus.MetricVec{
		refreshTotalMetric.MetricVec,
		refreshDurationMetric.MetricVec,
		clusterCPUUsageRateMetric.MetricVec,
		clusterMemoryUsageRateMetric.MetricVec,
		clusterHostsMetric.MetricVec,
		clusterVMsMetric.MetricVec,
		hostCPUUsageRateMetric.MetricVec,
		hostMemoryUsageRateMetric.MetricVec,
		hostDiskUsageRateMetric.MetricVec,
	} {
		vec.DeletePartialMatch(labels)
	}
}

func IncreaseTasksFinishedMetric(operation, status string) {
	tasksFinishedTotalMetric.With(prometheus.Labels{operationLabel: operation, statusLabel: status}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(refreshTotalMetric)
	prometheus.MustRegister(refreshDurationMetric)
	prometheus.MustRegister(clusterCPUUsageRateMetric)
	prometheus.MustRegister(clusterMemoryUsageRateMetric)
	prometheus.MustRegister(clusterHostsMetric)
	prometheus.MustRegister(clusterVMsMetric)
	prometheus.MustRegister(hostCPUUsageRateMetric)
	prometheus.MustRegister(hostMemoryUsageRateMetric)
	prometheus.MustRegister(hostDiskUsageRateMetric)
	prometheus.MustRegister(tasksFinishedTotalMetric)
	prometheus.MustRegister(totalUniqueTaskUsersPerWeekMetric)
}
