package rpcserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics exposes the server's Prometheus gauges/counters: in-flight call
// count and per-method call totals, registered against the default
// registerer so a standard promhttp.Handler() exposes them on /metrics.
type metrics struct {
	inFlight *prometheus.GaugeVec
	total    *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rpchost",
			Name:      "calls_in_flight",
			Help:      "Number of RPC calls currently being dispatched.",
		}, []string{"service", "method"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpchost",
			Name:      "calls_total",
			Help:      "Total number of RPC calls dispatched.",
		}, []string{"service", "method"}),
	}
	_ = prometheus.Register(m.inFlight)
	_ = prometheus.Register(m.total)
	return m
}

func (m *metrics) callStarted(service, method string) {
	m.inFlight.WithLabelValues(service, method).Inc()
	m.total.WithLabelValues(service, method).Inc()
}

func (m *metrics) callFinished(service, method string) {
	m.inFlight.WithLabelValues(service, method).Dec()
}
