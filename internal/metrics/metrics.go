// Package metrics exposes relay counters in Prometheus format.
// All methods are safe on a nil *Metrics so callers never need to guard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for forwarded frames.
const (
	DropTargetOffline = "target_offline"
	DropBackpressure  = "backpressure"
	DropClosed        = "closed"
)

const namespace = "callrelay"

type Metrics struct {
	registry *prometheus.Registry

	signals      *prometheus.CounterVec
	callsOpened  prometheus.Counter
	callOutcomes *prometheus.CounterVec
	callErrors   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	onlineUsers  prometheus.Gauge
	connections  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Inbound signaling messages by type.",
		}, []string{"type"}),
		callsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_opened_total",
			Help:      "Call sessions created.",
		}),
		callOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call session transitions by target state.",
		}, []string{"state"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "Call initiation failures reported to callers.",
		}, []string{"code"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames that were not delivered.",
		}, []string{"reason"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users currently present.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
	}
	m.registry.MustRegister(
		m.signals, m.callsOpened, m.callOutcomes, m.callErrors,
		m.dropped, m.onlineUsers, m.connections,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Signal(msgType string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(msgType).Inc()
}

func (m *Metrics) CallOpened() {
	if m == nil {
		return
	}
	m.callsOpened.Inc()
}

func (m *Metrics) CallTransition(state string) {
	if m == nil {
		return
	}
	m.callOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) CallError(code string) {
	if m == nil {
		return
	}
	m.callErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
