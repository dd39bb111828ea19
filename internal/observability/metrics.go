package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	VisitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visit_transitions_total",
			Help: "Committed visit lifecycle operations.",
		},
		[]string{"transition"},
	)

	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Control log writes by outcome (written, skipped, failed).",
		},
		[]string{"outcome"},
	)

	VisitCodeCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visit_code_collisions_total",
			Help: "Visit codes that were drawn but already existed.",
		},
	)
)

// MustRegister registers every collector on the default registry. Call it
// once from main; tests use the collectors unregistered.
func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		VisitTransitionsTotal,
		AuditEntriesTotal,
		VisitCodeCollisionsTotal,
	)
}
