package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type uniqueUsers struct {
	counter    prometheus.Gauge
	usersCache map[string]struct{}
	mu         sync.RWMutex
}

// Users submitting tasks
const taskUsersCountPerWeek = "task_users_count_per_week"

var totalUniqueTaskUsersPerWeekMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: proxmoxManager,
		Name:      taskUsersCountPerWeek,
		Help:      "metrics to record the number of distinct users submitting tasks per week",
	},
)

var UniqueTaskUsersPerWeek = &uniqueUsers{
	counter:    totalUniqueTaskUsersPerWeekMetric,
	usersCache: make(map[string]struct{}),
}

func (v *uniqueUsers) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.usersCache = make(map[string]struct{})
	v.counter.Set(0)
}

func (v *uniqueUsers) Record(user string) {
	if user == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.usersCache[user]; exists {
		return
	}

	v.usersCache[user] = struct{}{}
	v.counter.Inc()
}

func (v *uniqueUsers) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.usersCache)
}
