package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zarithya/TwitchIO/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test counter",
	})

	err := registry.RegisterCounter("shard", "test_counter", counter)
	require.NoError(t, err)

	// Same key again is rejected
	err = registry.RegisterCounter("shard", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterGauge_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_name", Help: "a"})
	gauge2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_name", Help: "a"})

	require.NoError(t, registry.RegisterGauge("a", "g1", gauge1))

	// Different registry key, identical prometheus identity
	err := registry.RegisterGauge("b", "g2", gauge2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unregister_me_total",
		Help: "test",
	})
	require.NoError(t, registry.RegisterCounter("shard", "unregister_me", counter))

	assert.True(t, registry.Unregister("shard", "unregister_me"))
	assert.False(t, registry.Unregister("shard", "unregister_me"))

	// Can register again after unregistering
	require.NoError(t, registry.RegisterCounter("shard", "unregister_me", counter))
}

func TestRegisterVecs(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vec_counter_total", Help: "test",
	}, []string{"label"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vec_gauge", Help: "test",
	}, []string{"label"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "vec_histogram", Help: "test",
	}, []string{"label"})

	require.NoError(t, registry.RegisterCounterVec("shard", "vec_counter", cv))
	require.NoError(t, registry.RegisterGaugeVec("shard", "vec_gauge", gv))
	require.NoError(t, registry.RegisterHistogramVec("shard", "vec_histogram", hv))
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	// Recording helpers must not panic and should be gatherable
	core.RecordShardState("s1", 4)
	core.RecordChannelsTracked("s1", 12)
	core.RecordReconnect("s1")
	core.RecordAuthFailure("s1")
	core.RecordFrameReceived("s1")
	core.RecordFrameSent("s1")
	core.RecordJoinSent("s1")
	core.RecordAssignment("mgr", "distributed")
	core.RecordAssignmentFailure("mgr", "distributed")
	core.RecordHealthStatus("mgr", true)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["twitchio_shard_state"])
	assert.True(t, names["twitchio_shard_channels_tracked"])
	assert.True(t, names["twitchio_manager_assignments_total"])
}
