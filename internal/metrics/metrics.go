// Package metrics provides the Prometheus collectors of the bridge.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message outcomes.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusIgnored  = "ignored"
)

// Metrics holds the bridge collectors.
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	CommandsTotal    *prometheus.CounterVec
	CommandErrors    prometheus.Counter
	BroadcastsTotal  *prometheus.CounterVec
	PersistTotal     *prometheus.CounterVec
	PersistDuration  prometheus.Histogram
	Viewers          prometheus.Gauge
	QueryDuration    *prometheus.HistogramVec
	ThresholdCurrent prometheus.Gauge
	TemperatureLast  prometheus.Gauge
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler exposes reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// New creates the bridge metrics and registers them with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "messages_total",
				Help:      "Total number of inbound sensor messages",
			},
			[]string{"kind", "status"}, // kind: temperature, led, threshold
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actuator",
				Name:      "commands_total",
				Help:      "Total number of actuator commands sent",
			},
			[]string{"command"},
		),
		CommandErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actuator",
				Name:      "errors_total",
				Help:      "Total number of actuator commands that failed to publish",
			},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "broadcasts_total",
				Help:      "Total number of events broadcast to viewers",
			},
			[]string{"event"},
		),
		PersistTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "appends_total",
				Help:      "Total number of reading appends",
			},
			[]string{"status"}, // status: success, error, dropped
		),
		PersistDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "append_duration_seconds",
				Help:      "Duration of reading appends",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Viewers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "viewers",
				Help:      "Number of connected viewers",
			},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Duration of history and stats queries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		ThresholdCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "control",
				Name:      "threshold_celsius",
				Help:      "Current LED threshold",
			},
		),
		TemperatureLast: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "control",
				Name:      "temperature_celsius",
				Help:      "Most recent accepted temperature",
			},
		),
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.CommandsTotal,
		m.CommandErrors,
		m.BroadcastsTotal,
		m.PersistTotal,
		m.PersistDuration,
		m.Viewers,
		m.QueryDuration,
		m.ThresholdCurrent,
		m.TemperatureLast,
	)
	return m
}

// Message counts an inbound message of the given kind.
func (m *Metrics) Message(kind, status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind, status).Inc()
}

// Command counts an actuator command; failed marks a publish error.
func (m *Metrics) Command(cmd string, failed bool) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(cmd).Inc()
	if failed {
		m.CommandErrors.Inc()
	}
}

// Broadcast counts an event sent to viewers.
func (m *Metrics) Broadcast(event string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(event).Inc()
}

// Persist records the outcome and duration in seconds of an append.
func (m *Metrics) Persist(status string, seconds float64) {
	if m == nil {
		return
	}
	m.PersistTotal.WithLabelValues(status).Inc()
	if seconds > 0 {
		m.PersistDuration.Observe(seconds)
	}
}

// SetViewers sets the connected viewer gauge.
func (m *Metrics) SetViewers(n int) {
	if m == nil {
		return
	}
	m.Viewers.Set(float64(n))
}

// Query records the duration in seconds of a named query.
func (m *Metrics) Query(name string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(name).Observe(seconds)
}

// Threshold sets the threshold gauge.
func (m *Metrics) Threshold(v float64) {
	if m == nil {
		return
	}
	m.ThresholdCurrent.Set(v)
}

// Temperature sets the last-temperature gauge.
func (m *Metrics) Temperature(v float64) {
	if m == nil {
		return
	}
	m.TemperatureLast.Set(v)
}
