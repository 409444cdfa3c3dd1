// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler and jobs
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_job_runs_total",
			Help: "Total number of background job invocations",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_job_duration_seconds",
			Help:    "Duration of background job invocations",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"job"},
	)

	PendingTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_pending_triggers",
			Help: "Current number of registered one-shot reminder triggers",
		},
	)

	// Delivery
	RemindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_reminders_sent_total",
			Help: "Total number of delivered task reminders",
		},
		[]string{"kind"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_delivery_failures_total",
			Help: "Total number of failed message deliveries",
		},
		[]string{"job"},
	)

	RenderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_render_fallbacks_total",
			Help: "Total number of messages rendered from static templates",
		},
		[]string{"kind"},
	)

	// Finance
	PaymentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_payments_processed_total",
			Help: "Total number of recurring payment cycles materialized",
		},
		[]string{"status"},
	)

	// Chat
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_inbound_messages_total",
			Help: "Total number of inbound chat messages by handling route",
		},
		[]string{"route"},
	)

	// Storage
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nudge_store_retries_total",
			Help: "Total number of unit-of-work retries after transient failures",
		},
	)

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// TrackJob returns a timer observing one invocation of job.
func TrackJob(job string) *prometheus.Timer {
	return prometheus.NewTimer(JobDuration.WithLabelValues(job))
}
