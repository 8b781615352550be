// Package metrics exposes Prometheus collectors for delivery cycles.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	outcomes      *prometheus.CounterVec
	userDuration  *prometheus.HistogramVec
	lastCycle     prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "creatormind_cycles_total",
			Help: "Delivery cycles by result",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "creatormind_cycle_duration_seconds",
			Help:    "Duration of complete delivery cycles",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "creatormind_user_outcomes_total",
			Help: "Per-user outcomes by kind and skip reason",
		}, []string{"outcome", "reason"}),
		userDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "creatormind_user_duration_seconds",
			Help:    "Time spent processing one user",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"outcome"}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "creatormind_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed cycle",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "creatormind_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// CycleFinished records one cycle. err is the top-level cycle error, if any.
func (m *Metrics) CycleFinished(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if err == nil {
		m.lastCycle.SetToCurrentTime()
	}
}

// UserProcessed records the outcome of one user in a cycle.
func (m *Metrics) UserProcessed(outcome, reason string, d time.Duration) {
	m.outcomes.WithLabelValues(outcome, reason).Inc()
	m.userDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
