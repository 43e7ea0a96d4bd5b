// Package metrics registers the Prometheus collectors of the API and the
// worker on the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemaster_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotemaster_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemaster_jobs_processed_total",
		Help: "Jobs handled by the worker, by queue and result",
	}, []string{"queue", "result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotemaster_job_duration_seconds",
		Help:    "Duration of job handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemaster_jobs_enqueued_total",
		Help: "Jobs accepted by the queue",
	}, []string{"queue"})

	jobsEnqueueFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueue_failures_total",
		Help: "Jobs that could not be enqueued; the originating request still succeeded",
	}, []string{"queue"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotemaster_jobs_in_flight",
		Help: "Jobs currently being handled by this worker",
	})

	adminLoginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemaster_admin_login_failures_total",
		Help: "Rejected admin logins by reason",
	}, []string{"reason"})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveJob records one handled job. result is completed, retry or failed.
func ObserveJob(queue, result string, duration time.Duration) {
	jobsProcessed.WithLabelValues(queue, result).Inc()
	jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func IncJobsEnqueued(queue string) {
	jobsEnqueued.WithLabelValues(queue).Inc()
}

func IncEnqueueFailure(queue string) {
	jobsEnqueueFailures.WithLabelValues(queue).Inc()
}

func JobStarted()  { jobsInFlight.Inc() }
func JobFinished() { jobsInFlight.Dec() }

// ObserveAdminLoginFailure counts rejected logins: invalid or locked.
func ObserveAdminLoginFailure(reason string) {
	adminLoginFailures.WithLabelValues(reason).Inc()
}
