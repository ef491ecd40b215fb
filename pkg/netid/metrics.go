package netid

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the manager's Prometheus collectors on an isolated
// registry so they never collide with the global default registry.
// All use sites are nil-safe; passing a nil *Metrics disables
// instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	// Probe outcomes from the prober's client side.
	ProbeTotal *prometheus.CounterVec

	// Inbound SecretPing dispositions on the server side.
	PingHandledTotal *prometheus.CounterVec

	// Reckoner runs and reassignments by path.
	ReckonTotal   prometheus.Counter
	ReassignTotal *prometheus.CounterVec

	// Current group count and our published network id.
	GroupCount   prometheus.Gauge
	OurNetworkID prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all collectors
// registered on a fresh registry. Each test gets its own instance.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ProbeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netid_probe_total",
				Help: "Total secret-ping probe attempts by result.",
			},
			[]string{"result"},
		),
		PingHandledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netid_ping_handled_total",
				Help: "Inbound SecretPing messages by disposition.",
			},
			[]string{"outcome"},
		),
		ReckonTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netid_reckon_total",
				Help: "Total reckoner runs.",
			},
		),
		ReassignTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netid_reassign_total",
				Help: "Group id assignments by path.",
			},
			[]string{"path"},
		),
		GroupCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netid_group_count",
				Help: "Number of network groups after the last reckon.",
			},
		),
		OurNetworkID: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netid_our_network_id",
				Help: "The network id of the group the local node belongs to.",
			},
		),
	}

	reg.MustRegister(
		m.ProbeTotal,
		m.PingHandledTotal,
		m.ReckonTotal,
		m.ReassignTotal,
		m.GroupCount,
		m.OurNetworkID,
	)

	return m
}

// Handler returns an http.Handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) probeResult(result string) {
	if m != nil {
		m.ProbeTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) pingOutcome(outcome string) {
	if m != nil {
		m.PingHandledTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) reassign(path string) {
	if m != nil {
		m.ReassignTotal.WithLabelValues(path).Inc()
	}
}
