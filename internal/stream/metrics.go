package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the manager's Prometheus collectors, labelled by channel.
type Metrics struct {
	ConnectAttempts *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	Events          *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	Listeners       *prometheus.GaugeVec
}

// NewMetrics creates the manager's collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered, which tests use to
// avoid duplicate registration across managers.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_stream_connect_attempts_total",
			Help: "Connect attempts per stream channel.",
		}, []string{"channel"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_stream_reconnects_total",
			Help: "Reconnect transitions per stream channel.",
		}, []string{"channel"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_stream_events_total",
			Help: "Events decoded and delivered per stream channel.",
		}, []string{"channel"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_stream_decode_failures_total",
			Help: "Frames dropped because they could not be decoded.",
		}, []string{"channel"}),
		Listeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kiosk_stream_listeners",
			Help: "Currently attached listeners per stream channel.",
		}, []string{"channel"}),
	}

	if reg != nil {
		reg.MustRegister(m.ConnectAttempts, m.Reconnects, m.Events, m.DecodeFailures, m.Listeners)
	}
	return m
}
