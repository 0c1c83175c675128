// Package metrics exposes Prometheus collectors for the refresh coordinator
// and the watch API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "balancewatch"

// Refresh results.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultUnavailable = "unavailable"
)

// Throttle actions.
const (
	ActionTrailing = "trailing"
	ActionDropped  = "dropped"
)

// Recorder records coordinator activity.
type Recorder struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	throttledTotal  *prometheus.CounterVec
	inflight        prometheus.Gauge
	balanceLow      *prometheus.GaugeVec
	persistErrors   prometheus.Counter
}

// NewRecorder creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Balance refreshes by provider and result",
			},
			[]string{"provider", "result"},
		),
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Balance refresh duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		throttledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_throttled_total",
				Help:      "Refresh triggers suppressed by the throttle window",
			},
			[]string{"provider", "action"}, // "trailing" / "dropped"
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_inflight",
			Help:      "Balance refreshes currently in flight",
		}),
		balanceLow: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "balance_low",
				Help:      "1 when the provider's last snapshot is under a warning threshold",
			},
			[]string{"provider"},
		),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed refresh state writes",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.refreshTotal, r.refreshDuration, r.throttledTotal, r.inflight, r.balanceLow, r.persistErrors)
	}
	return r
}

// RefreshStarted marks a refresh as in flight.
func (r *Recorder) RefreshStarted(string) {
	r.inflight.Inc()
}

// RefreshFinished records a completed refresh.
func (r *Recorder) RefreshFinished(provider, result string, d time.Duration) {
	r.inflight.Dec()
	r.refreshTotal.WithLabelValues(provider, result).Inc()
	r.refreshDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Throttled records a suppressed trigger.
func (r *Recorder) Throttled(provider, action string) {
	r.throttledTotal.WithLabelValues(provider, action).Inc()
}

// SetLow sets the low-balance gauge for provider.
func (r *Recorder) SetLow(provider string, low bool) {
	v := 0.0
	if low {
		v = 1
	}
	r.balanceLow.WithLabelValues(provider).Set(v)
}

// Forget drops per-provider series for a removed provider.
func (r *Recorder) Forget(provider string) {
	r.balanceLow.DeleteLabelValues(provider)
}

// PersistFailed counts a failed state write.
func (r *Recorder) PersistFailed() {
	r.persistErrors.Inc()
}
