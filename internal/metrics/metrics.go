// Package metrics exposes Prometheus collectors for the protocol engine.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dnssd"

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	packetsReceived  *prometheus.CounterVec
	packetsSent      *prometheus.CounterVec
	malformed        prometheus.Counter
	sendErrors       prometheus.Counter
	cacheEntries     prometheus.Gauge
	cacheEvictions   prometheus.Counter
	activeOperations *prometheus.GaugeVec
	conflicts        prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil.
// Collectors already registered by an earlier engine are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "mDNS datagrams received, by message kind.",
		}, []string{"kind"}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "mDNS datagrams sent, by purpose.",
		}, []string{"kind"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packets_total",
			Help:      "Datagrams dropped because they could not be decoded.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed datagram transmissions.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Records held in the cache.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Records evicted to honour the cache size bound.",
		}),
		activeOperations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_operations",
			Help:      "Running operations, by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "name_conflicts_total",
			Help:      "Name conflicts detected for local registrations.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.packetsReceived, err = register(reg, m.packetsReceived); err != nil {
		return nil, err
	}
	if m.packetsSent, err = register(reg, m.packetsSent); err != nil {
		return nil, err
	}
	if m.malformed, err = register(reg, m.malformed); err != nil {
		return nil, err
	}
	if m.sendErrors, err = register(reg, m.sendErrors); err != nil {
		return nil, err
	}
	if m.cacheEntries, err = register(reg, m.cacheEntries); err != nil {
		return nil, err
	}
	if m.cacheEvictions, err = register(reg, m.cacheEvictions); err != nil {
		return nil, err
	}
	if m.activeOperations, err = register(reg, m.activeOperations); err != nil {
		return nil, err
	}
	if m.conflicts, err = register(reg, m.conflicts); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// PacketReceived counts a received datagram of kind "query" or "response".
func (m *Metrics) PacketReceived(kind string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(kind).Inc()
}

// PacketSent counts a sent datagram: "query", "response", "probe",
// "announcement" or "goodbye".
func (m *Metrics) PacketSent(kind string) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(kind).Inc()
}

// Malformed counts a datagram that failed to decode.
func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// SendError counts a failed transmission.
func (m *Metrics) SendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

// CacheSize sets the number of cached records.
func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// CacheEvicted counts a record evicted for space.
func (m *Metrics) CacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

// OperationStarted increments the running operations of kind.
func (m *Metrics) OperationStarted(kind string) {
	if m == nil {
		return
	}
	m.activeOperations.WithLabelValues(kind).Inc()
}

// OperationStopped decrements the running operations of kind.
func (m *Metrics) OperationStopped(kind string) {
	if m == nil {
		return
	}
	m.activeOperations.WithLabelValues(kind).Dec()
}

// Conflict counts a name conflict.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
