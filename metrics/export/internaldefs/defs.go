package internaldefs

import (
	"github.com/MrEthical07/authpipe/internal/metrics"
)

// CounterDef describes one exported counter.
type CounterDef struct {
	ID   metrics.MetricID
	Name string
	Help string
}

// HistogramDef describes one exported histogram.
type HistogramDef struct {
	ID   metrics.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authpipe_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: metrics.MetricLoginSuccess, Name: "authpipe_login_success_total", Help: "Successful explicit logins."},
	{ID: metrics.MetricLoginFailure, Name: "authpipe_login_failure_total", Help: "Failed explicit logins."},
	{ID: metrics.MetricRenewalStarted, Name: "authpipe_renewal_started_total", Help: "Renewal cycles started."},
	{ID: metrics.MetricRenewalSuccess, Name: "authpipe_renewal_success_total", Help: "Renewal cycles that stored a new credential."},
	{ID: metrics.MetricRenewalFailure, Name: "authpipe_renewal_failure_total", Help: "Renewal cycles that failed and cleared the session."},
	{ID: metrics.MetricRenewalJoined, Name: "authpipe_renewal_joined_total", Help: "Callers that waited on a renewal already in flight."},
	{ID: metrics.MetricRenewalSkipped, Name: "authpipe_renewal_skipped_total", Help: "Callers that found a credential renewed by another caller."},
	{ID: metrics.MetricRefreshExchange, Name: "authpipe_refresh_exchange_total", Help: "Refresh-token exchanges attempted."},
	{ID: metrics.MetricFallbackLogin, Name: "authpipe_fallback_login_total", Help: "Logins performed with fallback credentials."},
	{ID: metrics.MetricRequestAuthorized, Name: "authpipe_request_authorized_total", Help: "Requests sent with a credential and not rejected."},
	{ID: metrics.MetricRequestUnauthenticated, Name: "authpipe_request_unauthenticated_total", Help: "Requests abandoned because no credential could be obtained."},
	{ID: metrics.MetricCredentialExpired, Name: "authpipe_credential_expired_total", Help: "Stored credentials found expired before sending."},
	{ID: metrics.MetricRequestRejected, Name: "authpipe_request_rejected_total", Help: "Requests rejected by the server with an auth status."},
	{ID: metrics.MetricRetrySuccess, Name: "authpipe_retry_success_total", Help: "Rejected requests that succeeded on retry."},
	{ID: metrics.MetricRetryRejected, Name: "authpipe_retry_rejected_total", Help: "Rejected requests that were rejected again on retry."},
	{ID: metrics.MetricLogout, Name: "authpipe_logout_total", Help: "Logouts."},
}

var HistogramDefs = []HistogramDef{
	{ID: metrics.MetricRenewalLatency, Name: "authpipe_renewal_latency_seconds", Help: "Identity exchange latency for renewal cycles."},
}

// HistogramBounds are the bucket upper bounds in seconds; the last bucket is
// +Inf and is not listed.
var HistogramBounds = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// HistogramBoundLabels renders each bucket's upper bound as an "le" label,
// +Inf included.
var HistogramBoundLabels = []string{"0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}

// RenewingName is the gauge that reads 1 while a renewal is in flight.
const RenewingName = "authpipe_renewing"

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [metrics.HistBucketCount]uint64 {
	var out [metrics.HistBucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [metrics.HistBucketCount]uint64) [metrics.HistBucketCount]uint64 {
	var out [metrics.HistBucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
