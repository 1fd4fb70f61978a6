package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionsweep",
			Subsystem: "http",
			Name:      "request_total",
			Help:      "Total number of HTTP requests by method and path",
		},
		[]string{"method", "path", "code"},
	)

	// Sweep runs by trigger (schedule, api) and result (ok, skipped, error)
	SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessionsweep",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Number of sweep runs by trigger and result",
	}, []string{"trigger", "result"})
	SweepDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "sessionsweep",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Duration of sweep runs that reached the database",
	})
	SweepCounted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessionsweep",
		Subsystem: "sweep",
		Name:      "counted_total",
		Help:      "Number of expired sessions counted before deletion",
	})
	SweepDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessionsweep",
		Subsystem: "sweep",
		Name:      "deleted_total",
		Help:      "Number of sessions the database reported as deleted",
	})
	SweepLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionsweep",
		Subsystem: "sweep",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful sweep",
	})
)

var initOnce sync.Once

// Init registers collectors with the default registry (idempotent).
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			SweepRuns,
			SweepDuration,
			SweepCounted,
			SweepDeleted,
			SweepLastSuccess,
		)
	})
}

// Handler returns a Prometheus metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// IncHTTP increments HTTP request counters.
func IncHTTP(method, path, code string) {
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// ObserveSweep records one finished run. result is "ok", "skipped" or "error".
func ObserveSweep(trigger, result string, took time.Duration, counted, deleted int64) {
	SweepRuns.WithLabelValues(trigger, result).Inc()
	if result == "skipped" {
		return
	}
	SweepDuration.Observe(took.Seconds())
	if result != "ok" {
		return
	}
	SweepCounted.Add(float64(counted))
	SweepDeleted.Add(float64(deleted))
	SweepLastSuccess.SetToCurrentTime()
}
