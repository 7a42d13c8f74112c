// Package telemetry provides logging setup and Prometheus metrics for the activities service.
//
// All metrics are registered against the default Prometheus registry and exposed by the
// side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<MHS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// The endpoint is not served by the Gin router, so it is never rate limited and never
// reachable through the public listener.
//
// HTTP metrics use c.FullPath() (route template such as /activities/:activity_name/signup)
// rather than the raw URL, so activity names typed by callers cannot inflate label cardinality.
// Roster gauges are labelled by canonical activity name, which is bounded by the seed.
package telemetry

import (
	"context"

	"github.com/mergington/activities/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics are labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "path"},
	)
)

// Roster metrics.
//
// RosterOperationsTotal counts signup/unregister attempts by outcome ("success", "invalid_email",
// "not_found", "duplicate", "full", "not_registered", "error").
//
// Example PromQL queries:
//   - Rejected signups by reason:  sum by (outcome) (rate(roster_operations_total{operation="signup",outcome!="success"}[1h]))
//
// ActivityParticipants and ActivityCapacity are gauges per canonical activity name.
//
//   - Fill ratio:  activity_participants / activity_capacity
var (
	RosterOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_operations_total",
			Help: "Total number of signup and unregister attempts, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	ActivityParticipants = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "activity_participants",
			Help: "Current number of participants on each activity roster.",
		},
		[]string{"activity"},
	)

	ActivityCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "activity_capacity",
			Help: "Maximum number of participants allowed for each activity.",
		},
		[]string{"activity"},
	)
)

// AuditShipFailuresTotal is incremented whenever an audit entry could not be delivered
// to at least one configured shipper.
var AuditShipFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_ship_failures_total",
		Help: "Total number of audit entries that failed to ship to a destination.",
	},
)

// RecordRoster sets the roster gauges for one activity.
func RecordRoster(activity string, participants, capacity int) {
	ActivityParticipants.WithLabelValues(activity).Set(float64(participants))
	ActivityCapacity.WithLabelValues(activity).Set(float64(capacity))
}

// RecordRegistry initialises the roster gauges for every activity in the snapshot.
func RecordRegistry(activities map[string]registry.Activity) {
	for name, a := range activities {
		RecordRoster(name, len(a.Participants), a.MaxParticipants)
	}
}

// RosterObserver returns a registry observer that keeps the roster gauges current.
func RosterObserver() registry.Observer {
	return registry.ObserverFunc(func(_ context.Context, ev registry.Event) {
		RecordRoster(ev.Activity, ev.Participants, ev.MaxParticipants)
	})
}
