package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository lifecycle metrics
	RepositoriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deepfreeze_repositories_total",
			Help: "Total number of repository records by thaw_state",
		},
		[]string{"thaw_state"},
	)

	RotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfreeze_rotations_total",
			Help: "Total number of rotate invocations by outcome",
		},
		[]string{"outcome"},
	)

	RepositoriesDemotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_repositories_demoted_total",
			Help: "Total number of repositories unmounted and demoted to cold storage",
		},
	)

	PoliciesVersionedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_policies_versioned_total",
			Help: "Total number of versioned ILM policies created",
		},
	)

	PoliciesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_policies_deleted_total",
			Help: "Total number of orphaned ILM policies deleted",
		},
	)

	TemplatesRetargetedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_templates_retargeted_total",
			Help: "Total number of index templates retargeted to a versioned policy",
		},
	)

	// Thaw metrics
	ThawRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfreeze_thaw_requests_total",
			Help: "Total number of thaw requests created by outcome",
		},
		[]string{"outcome"},
	)

	ObjectsRestoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfreeze_objects_restored_total",
			Help: "Total number of objects for which a Glacier restore was initiated",
		},
		[]string{"retrieval_tier"},
	)

	ThawPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_thaw_polls_total",
			Help: "Total number of restore-status waits and checks: one per repository waited on by a sync thaw, one per unmounted repository checked by a thaw status check",
		},
	)

	// Cleanup/refreeze metrics
	RepositoriesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_repositories_expired_total",
			Help: "Total number of repositories transitioned to expired",
		},
	)

	IndicesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_indices_deleted_total",
			Help: "Total number of indices deleted by cleanup/refreeze",
		},
	)

	ThawRequestsRetiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_thaw_requests_retired_total",
			Help: "Total number of thaw-request documents deleted by retention policy",
		},
	)

	// Controller run duration, by controller name
	ControllerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepfreeze_controller_run_duration_seconds",
			Help:    "Time taken for a controller invocation to complete",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800, 3600, 14400},
		},
		[]string{"controller"},
	)

	// Object-store adapter latency
	ObjectStoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepfreeze_objectstore_request_duration_seconds",
			Help:    "Object-store adapter call duration by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cluster API latency
	ClusterRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepfreeze_cluster_request_duration_seconds",
			Help:    "Elasticsearch request duration by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Repair-metadata metrics
	MetadataDriftDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfreeze_metadata_drift_detected_total",
			Help: "Total number of repositories found with a storage-class/thaw_state mismatch",
		},
		[]string{"observed_class"},
	)

	MetadataDriftFixedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfreeze_metadata_drift_fixed_total",
			Help: "Total number of repositories corrected by repair-metadata",
		},
	)
)

func init() {
	prometheus.MustRegister(RepositoriesTotal)
	prometheus.MustRegister(RotationsTotal)
	prometheus.MustRegister(RepositoriesDemotedTotal)
	prometheus.MustRegister(PoliciesVersionedTotal)
	prometheus.MustRegister(PoliciesDeletedTotal)
	prometheus.MustRegister(TemplatesRetargetedTotal)
	prometheus.MustRegister(ThawRequestsTotal)
	prometheus.MustRegister(ObjectsRestoredTotal)
	prometheus.MustRegister(ThawPollsTotal)
	prometheus.MustRegister(RepositoriesExpiredTotal)
	prometheus.MustRegister(IndicesDeletedTotal)
	prometheus.MustRegister(ThawRequestsRetiredTotal)
	prometheus.MustRegister(ControllerRunDuration)
	prometheus.MustRegister(ObjectStoreRequestDuration)
	prometheus.MustRegister(ClusterRequestDuration)
	prometheus.MustRegister(MetadataDriftDetectedTotal)
	prometheus.MustRegister(MetadataDriftFixedTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
