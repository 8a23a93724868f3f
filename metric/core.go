package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all core shard-management metrics
type Metrics struct {
	// Shard lifecycle metrics
	ShardState      *prometheus.GaugeVec
	ChannelsTracked *prometheus.GaugeVec
	ReconnectsTotal *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec

	// Frame flow metrics
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	JoinsSent      *prometheus.CounterVec

	// Assignment metrics
	AssignmentsTotal   *prometheus.CounterVec
	AssignmentFailures *prometheus.CounterVec

	// Health metrics
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ShardState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "twitchio",
				Subsystem: "shard",
				Name:      "state",
				Help: "Shard connection state (0=disconnected, 1=connecting, 2=authenticating, " +
					"3=joining, 4=active, 5=reconnect_wait, 6=stopped)",
			},
			[]string{"shard"},
		),

		ChannelsTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "twitchio",
				Subsystem: "shard",
				Name:      "channels_tracked",
				Help:      "Number of channels tracked by each shard",
			},
			[]string{"shard"},
		),

		ReconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "shard",
				Name:      "reconnects_total",
				Help:      "Total number of reconnection cycles per shard",
			},
			[]string{"shard"},
		),

		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "shard",
				Name:      "auth_failures_total",
				Help:      "Total number of terminal authentication failures per shard",
			},
			[]string{"shard"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total number of frames received",
			},
			[]string{"shard"},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Total number of frames sent",
			},
			[]string{"shard"},
		),

		JoinsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "frames",
				Name:      "joins_total",
				Help:      "Total number of JOIN commands sent, including reconnect replays",
			},
			[]string{"shard"},
		),

		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "manager",
				Name:      "assignments_total",
				Help:      "Total number of channel-to-shard assignments",
			},
			[]string{"manager", "policy"},
		),

		AssignmentFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitchio",
				Subsystem: "manager",
				Name:      "assignment_failures_total",
				Help:      "Total number of assignments rejected for capacity",
			},
			[]string{"manager", "policy"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "twitchio",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordShardState updates the shard state gauge
func (c *Metrics) RecordShardState(shard string, state int) {
	c.ShardState.WithLabelValues(shard).Set(float64(state))
}

// RecordChannelsTracked updates the tracked channel count for a shard
func (c *Metrics) RecordChannelsTracked(shard string, count int) {
	c.ChannelsTracked.WithLabelValues(shard).Set(float64(count))
}

// RecordReconnect increments the reconnect counter for a shard
func (c *Metrics) RecordReconnect(shard string) {
	c.ReconnectsTotal.WithLabelValues(shard).Inc()
}

// RecordAuthFailure increments the auth failure counter for a shard
func (c *Metrics) RecordAuthFailure(shard string) {
	c.AuthFailures.WithLabelValues(shard).Inc()
}

// RecordFrameReceived increments the received frame counter
func (c *Metrics) RecordFrameReceived(shard string) {
	c.FramesReceived.WithLabelValues(shard).Inc()
}

// RecordFrameSent increments the sent frame counter
func (c *Metrics) RecordFrameSent(shard string) {
	c.FramesSent.WithLabelValues(shard).Inc()
}

// RecordJoinSent increments the JOIN counter
func (c *Metrics) RecordJoinSent(shard string) {
	c.JoinsSent.WithLabelValues(shard).Inc()
}

// RecordAssignment increments the assignment counter
func (c *Metrics) RecordAssignment(manager, policy string) {
	c.AssignmentsTotal.WithLabelValues(manager, policy).Inc()
}

// RecordAssignmentFailure increments the rejected assignment counter
func (c *Metrics) RecordAssignmentFailure(manager, policy string) {
	c.AssignmentFailures.WithLabelValues(manager, policy).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}
