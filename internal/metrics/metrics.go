package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the sync counters on a private prometheus registry so
// tests and embedders never collide with the global one.
type Registry struct {
	reg         *prometheus.Registry
	Runs        *prometheus.CounterVec
	Accepted    prometheus.Counter
	Rejected    prometheus.Counter
	Unmatched   prometheus.Counter
	Skipped     prometheus.Counter
	DurationSec prometheus.Histogram
	LastSuccess prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_runs_total",
		Help: "Sync runs by final status.",
	}, []string{"status"})
	accepted := prometheus.NewCounter(prometheus.CounterOpts{Name: "catalogsync_products_accepted_total"})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "catalogsync_products_rejected_total"})
	unmatched := prometheus.NewCounter(prometheus.CounterOpts{Name: "catalogsync_products_unmatched_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "catalogsync_products_skipped_total"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalogsync_run_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Name: "catalogsync_last_success_timestamp_seconds"})

	r.MustRegister(runs, accepted, rejected, unmatched, skipped, duration, lastSuccess)
	return &Registry{
		reg:         r,
		Runs:        runs,
		Accepted:    accepted,
		Rejected:    rejected,
		Unmatched:   unmatched,
		Skipped:     skipped,
		DurationSec: duration,
		LastSuccess: lastSuccess,
	}
}

// Run is the per-run tally the service reports.
type Run struct {
	Status    string
	Accepted  int
	Rejected  int
	Unmatched int
	Skipped   int
	Duration  time.Duration
	Finished  time.Time
}

// Observe records one finished run. A nil registry is a no-op.
func (r *Registry) Observe(run Run) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(run.Status).Inc()
	r.Accepted.Add(float64(run.Accepted))
	r.Rejected.Add(float64(run.Rejected))
	r.Unmatched.Add(float64(run.Unmatched))
	r.Skipped.Add(float64(run.Skipped))
	r.DurationSec.Observe(run.Duration.Seconds())
	if run.Status == "success" {
		r.LastSuccess.Set(float64(run.Finished.Unix()))
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
