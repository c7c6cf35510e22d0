// Package metrics: метрики Prometheus сервиса чата.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "ws_active_connections",
		Help:      "Active websocket connections",
	})

	EvictedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "ws_evicted_sessions_total",
		Help:      "Connections closed because the user exceeded the session cap",
	})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "ws_events_total",
		Help:      "Inbound realtime events by type and result",
	}, []string{"event", "result"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages committed",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
