// Package metrics provides lock-free counters and a renewal latency histogram
// for the request-authentication client.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The histogram uses 8 fixed buckets (<=10ms ... +Inf). Both are
// allocation-free on the write path.
//
// # Architecture boundaries
//
// This package owns metric storage and snapshot creation. Export to
// Prometheus or OpenTelemetry lives in metrics/export/ and reads Snapshot
// values.
package metrics
