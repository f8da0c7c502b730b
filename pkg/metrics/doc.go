/*
Package metrics defines and exposes every Prometheus metric the lifecycle
controllers emit: repository/rotation/thaw/cleanup/policy counters and
gauges, registered against the default registry and served over HTTP by
Handler.

	mux.Handle("/metrics", metrics.Handler())

NewTimer/ObserveDurationVec wrap the controller-run duration histogram so
each of pkg/controller's Run methods can time itself with a single
deferred call:

	defer runTimer("rotate")()

RegisterComponent/HealthHandler/ReadyHandler/LivenessHandler are a
separate, smaller facility for the "/health", "/ready", and "/healthz"
endpoints served alongside "/metrics": cmd/deepfreeze registers the
Elasticsearch and object-store connections as components once at
startup, and readiness reflects whichever of them last reported unhealthy.
*/
package metrics
