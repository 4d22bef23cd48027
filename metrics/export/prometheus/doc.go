// Package prometheus exposes authpipe metrics as a client_golang Collector.
//
// Counter names are authpipe_*_total; the single histogram is
// authpipe_renewal_latency_seconds. [NewPrometheusExporter] never touches the
// global registry: callers either register [PrometheusExporter.Collector]
// themselves or mount [PrometheusExporter.Handler], which serves a private
// registry.
package prometheus
