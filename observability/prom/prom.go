// Package prom exports server metrics to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oniproject/tto/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ServerObserver exports server metrics to Prometheus.
type ServerObserver struct {
	connGauge        prometheus.Gauge
	packetsTotal     *prometheus.CounterVec
	deniedTotal      *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
}

var _ observability.ServerObserver = (*ServerObserver)(nil)

// NewServerObserver registers server metrics on the registry.
func NewServerObserver(reg *prometheus.Registry) *ServerObserver {
	o := &ServerObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tto_server_connections",
			Help: "Current established connection count.",
		}),
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tto_server_packets_total",
			Help: "Inbound packets by kind and result.",
		}, []string{"kind", "result"}),
		deniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tto_server_denied_total",
			Help: "Refused admission attempts by reason.",
		}, []string{"reason"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tto_server_handshake_latency_seconds",
			Help:    "Latency from pending-entry creation to promotion.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		o.connGauge,
		o.packetsTotal,
		o.deniedTotal,
		o.handshakeLatency,
	)
	return o
}

func (o *ServerObserver) ConnCount(n int) {
	o.connGauge.Set(float64(n))
}

func (o *ServerObserver) PacketRecv(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "dropped"
	}
	o.packetsTotal.WithLabelValues(kind, result).Inc()
}

func (o *ServerObserver) Denied(reason observability.DenyReason) {
	o.deniedTotal.WithLabelValues(string(reason)).Inc()
}

func (o *ServerObserver) HandshakeLatency(d time.Duration) {
	o.handshakeLatency.Observe(d.Seconds())
}
