// Package metrics provides Prometheus metrics for monitoring the fieldpay services.
package metrics

import (
	"time"

	"github.com/nadmax/fieldpay/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DashboardLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldpay_dashboard_loads_total",
			Help: "Total number of dashboard loads by result",
		},
		[]string{"result"},
	)
	DashboardActivations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldpay_dashboard_activations_active",
			Help: "Number of live dashboard connections",
		},
	)
	NegativeDurations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldpay_negative_durations_total",
			Help: "Completed tasks whose pause exceeded the elapsed time",
		},
	)
	TrackingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldpay_tracking_sessions_active",
			Help: "Number of workers currently reporting their location",
		},
	)
	LocationReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldpay_location_reports_total",
			Help: "Total number of location reports by result",
		},
		[]string{"result"},
	)
	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldpay_task_transitions_total",
			Help: "Total number of task lifecycle transitions",
		},
		[]string{"transition", "result"},
	)
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldpay_tasks",
			Help: "Current number of tasks by status",
		},
		[]string{"status"},
	)
	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldpay_job_queue_depth",
			Help: "Number of background jobs waiting in the queue",
		},
	)
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldpay_jobs_processed_total",
			Help: "Total number of background jobs processed",
		},
		[]string{"type", "result"},
	)
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldpay_job_duration_seconds",
			Help:    "Background job execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type"},
	)
	DigestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldpay_digests_sent_total",
			Help: "Total number of earnings digest emails sent",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldpay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordDashboardLoad(ok bool) {
	if ok {
		DashboardLoads.WithLabelValues("ok").Inc()
		return
	}
	DashboardLoads.WithLabelValues("fetch_failed").Inc()
}

func RecordNegativeDurations(n int) {
	if n > 0 {
		NegativeDurations.Add(float64(n))
	}
}

func DashboardActivated() {
	DashboardActivations.Inc()
}

func DashboardDeactivated() {
	DashboardActivations.Dec()
}

func TrackingStarted() {
	TrackingSessions.Inc()
}

func TrackingStopped() {
	TrackingSessions.Dec()
}

func RecordLocationReport(err error) {
	LocationReports.WithLabelValues(result(err)).Inc()
}

func RecordTaskTransition(transition string, err error) {
	TaskTransitions.WithLabelValues(transition, result(err)).Inc()
}

func UpdateTaskGauges(counts map[task.Status]int) {
	TasksByStatus.Reset()
	for status, count := range counts {
		TasksByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}

func UpdateJobQueueDepth(depth int64) {
	JobQueueDepth.Set(float64(depth))
}

func RecordJob(jobType string, duration time.Duration, err error) {
	JobsProcessed.WithLabelValues(jobType, result(err)).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func RecordDigestSent() {
	DigestsSent.Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
