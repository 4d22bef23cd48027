// Package otel publishes authpipe counters through OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [authpipe.Client.MetricsSnapshot] on each collection. Callers own the
// MeterProvider.
package otel
