// Package prometheus renders goSession client metrics in Prometheus text
// exposition format.
//
// Counter names are gosession_*_total; the single histogram is
// gosession_renewal_latency_seconds. Mount [PrometheusExporter.Handler] on
// whatever mux serves /metrics.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry.
//   - Mutate client state.
package prometheus
