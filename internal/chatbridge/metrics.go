package chatbridge

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the bridge's Prometheus collectors. Each Server has its
// own registry.
type Metrics struct {
	registry    *prometheus.Registry
	turns       *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	sessions    prometheus.Gauge
	connections prometheus.Gauge
	rejected    *prometheus.CounterVec
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godel",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Turns finished, by outcome.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godel",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Tool calls completed, by tool and success.",
		}, []string{"tool", "success"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "godel",
			Subsystem: "chat",
			Name:      "active_sessions",
			Help:      "Sessions held for chat users.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "godel",
			Subsystem: "chat",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godel",
			Subsystem: "chat",
			Name:      "rejected_messages_total",
			Help:      "Messages refused before a turn started, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.turns, m.toolCalls, m.sessions, m.connections, m.rejected)
	return m
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) toolCall(tool string, ok bool) {
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(ok)).Inc()
}
