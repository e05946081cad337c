// ABOUTME: Prometheus instruments for sync attempts, token refreshes and mapping failures
// ABOUTME: Registered on the default registry and served from /metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var SyncAttemptsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crmsync",
	Subsystem: "orchestrator",
	Name:      "sync_attempts_total",
	Help:      "Count of CRM delivery attempts by provider, sync type and terminal status",
}, []string{"provider", "sync_type", "status"})

var SyncAttemptsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "crmsync",
	Subsystem: "orchestrator",
	Name:      "sync_attempt_duration_seconds",
	Help:      "Duration of CRM delivery attempts",
	Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
}, []string{"provider", "status"})

var TokenRefreshesCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crmsync",
	Subsystem: "token",
	Name:      "refreshes_total",
	Help:      "Count of OAuth token refreshes by provider and outcome",
}, []string{"provider", "outcome"})

var MappingTransformErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crmsync",
	Subsystem: "mapping",
	Name:      "transform_errors_total",
	Help:      "Count of field mappings skipped because their transform failed",
}, []string{"provider"})

// Token refresh outcomes.
const (
	RefreshSucceeded = "refreshed"
	RefreshRejected  = "rejected"
	RefreshFailed    = "failed"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
