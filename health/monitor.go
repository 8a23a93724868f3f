package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor collects per-shard health reports for a manager. Shards push
// status transitions as they happen; readers get a point-in-time view
// or an aggregate for the whole manager.
type Monitor struct {
	mu      sync.RWMutex
	byShard map[string]Status
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		byShard: make(map[string]Status),
	}
}

// Update records the latest status for a shard, replacing whatever was
// reported before. The shard id and a timestamp are stamped onto the
// status when the caller left them unset.
func (m *Monitor) Update(shardID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = shardID
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.byShard[shardID] = status
}

// UpdateHealthy reports a shard as healthy.
func (m *Monitor) UpdateHealthy(shardID, message string) {
	m.Update(shardID, NewHealthy(shardID, message))
}

// UpdateUnhealthy reports a shard as unhealthy.
func (m *Monitor) UpdateUnhealthy(shardID, message string) {
	m.Update(shardID, NewUnhealthy(shardID, message))
}

// UpdateDegraded reports a shard as degraded, typically while it is
// between connections.
func (m *Monitor) UpdateDegraded(shardID, message string) {
	m.Update(shardID, NewDegraded(shardID, message))
}

// Get returns the last reported status for a shard.
func (m *Monitor) Get(shardID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.byShard[shardID]
	return status, ok
}

// Snapshot returns the current per-shard statuses ordered by shard id.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.byShard))
	for _, status := range m.byShard {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})
	return statuses
}

// AggregateHealth rolls the per-shard statuses up into one status for
// the manager: any unhealthy shard makes it unhealthy, otherwise any
// degraded shard degrades it.
func (m *Monitor) AggregateHealth(managerName string) Status {
	return Aggregate(managerName, m.Snapshot())
}
