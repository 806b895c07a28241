package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarm_gateway"

// Metrics groups the collectors shared by the gateway components.
type Metrics struct {
	EventsReceived   prometheus.Counter
	RecordsProcessed prometheus.Counter
	TickErrors       prometheus.Counter
	Broadcasts       *prometheus.CounterVec
	HistorySize      prometheus.Gauge
	WebsocketClients prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Raw alarm events accepted for processing",
		}),
		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records built, stored and broadcast by the loop",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Broadcast loop ticks that failed",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to websocket subscribers",
		}, []string{"event"}),
		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Records currently held in history",
		}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket subscribers",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.EventsReceived,
		m.RecordsProcessed,
		m.TickErrors,
		m.Broadcasts,
		m.HistorySize,
		m.WebsocketClients,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
