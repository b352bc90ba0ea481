package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.PacketReceived("response")
	m.PacketReceived("response")
	m.PacketSent("query")
	m.Malformed()
	m.SendError()
	m.CacheSize(7)
	m.CacheEvicted()
	m.OperationStarted("browse")
	m.OperationStarted("browse")
	m.OperationStopped("browse")
	m.Conflict()

	families := gather(t, reg)

	received := families["dnssd_packets_received_total"]
	require.NotNil(t, received)
	require.Len(t, received.GetMetric(), 1)
	assert.Equal(t, "response", labelValue(received.GetMetric()[0], "kind"))
	assert.Equal(t, 2.0, received.GetMetric()[0].GetCounter().GetValue())

	assert.Equal(t, 7.0, families["dnssd_cache_entries"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["dnssd_active_operations"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["dnssd_malformed_packets_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, families["dnssd_name_conflicts_total"].GetMetric()[0].GetCounter().GetValue())
}

// TestMetrics_ReusesRegisteredCollectors covers a session being recreated
// against the same registerer.
func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	first.PacketSent("probe")

	second, err := New(reg)
	require.NoError(t, err)
	second.PacketSent("probe")

	sent := gather(t, reg)["dnssd_packets_sent_total"]
	require.NotNil(t, sent)
	assert.Equal(t, 2.0, sent.GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PacketReceived("query")
		m.PacketSent("query")
		m.Malformed()
		m.SendError()
		m.CacheSize(1)
		m.CacheEvicted()
		m.OperationStarted("resolve")
		m.OperationStopped("resolve")
		m.Conflict()
	})

	unregistered, err := New(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { unregistered.PacketSent("query") })
}
