// Package metrics exposes bot activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gardenbot"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	// Harvested counts completed harvest rounds.
	Harvested prometheus.Counter
	// Maintenance counts watering and feeding passes, by category.
	Maintenance *prometheus.CounterVec
	// Sessions counts ended sessions, by exit reason.
	Sessions *prometheus.CounterVec
	// SessionDuration tracks how long sessions ran.
	SessionDuration prometheus.Histogram
	// KeyEvents counts synthetic key presses, by key.
	KeyEvents *prometheus.CounterVec
	// Classifications counts scan results, by category.
	Classifications *prometheus.CounterVec
	// RecognizeDuration tracks recognizer latency, by result.
	RecognizeDuration *prometheus.HistogramVec
	// BreakerState is the remote recognizer circuit state (0 closed, 1 open, 2 half-open).
	BreakerState prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Harvested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_harvested_total",
			Help:      "Harvest rounds completed",
		}),
		Maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_total",
			Help:      "Watering and feeding passes",
		}, []string{"kind"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions ended, by reason",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session run time",
			Buckets:   prometheus.ExponentialBuckets(10, 3, 8),
		}),
		KeyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_events_total",
			Help:      "Synthetic key presses sent to the game",
		}, []string{"key"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Scan classifications, by category",
		}, []string{"category"}),
		RecognizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognize_duration_seconds",
			Help:      "Text recognition latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recognizer_breaker_state",
			Help:      "Remote recognizer circuit breaker state",
		}),
	}
	m.reg.MustRegister(
		m.Harvested, m.Maintenance, m.Sessions, m.SessionDuration,
		m.KeyEvents, m.Classifications, m.RecognizeDuration, m.BreakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRecognize records one recognizer call.
func (m *Metrics) ObserveRecognize(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RecognizeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveSession records an ended session.
func (m *Metrics) ObserveSession(reason string, d time.Duration) {
	m.Sessions.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(d.Seconds())
}
