package authpipe

import (
	"context"
	"io"

	"github.com/MrEthical07/authpipe/credential"
	"github.com/MrEthical07/authpipe/fallback"
	internalaudit "github.com/MrEthical07/authpipe/internal/audit"
	internalmetrics "github.com/MrEthical07/authpipe/internal/metrics"
	"github.com/go-logr/logr"
)

// Phase reports whether a renewal is in flight.
type Phase uint8

const (
	// PhaseIdle means no exchange is running.
	PhaseIdle Phase = iota
	// PhaseRenewing means exactly one exchange is running and callers that
	// need a credential are waiting for it.
	PhaseRenewing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}

// Exchanger trades a login form or a refresh token for a credential record.
// [exchange.Client] is the REST implementation.
type Exchanger interface {
	Login(ctx context.Context, identifier, secret string) (credential.Record, error)
	Refresh(ctx context.Context, refreshToken string) (credential.Record, error)
}

type (
	// Identity is the authenticated user's profile.
	Identity = credential.Identity
	// Store persists the credential record.
	Store = credential.Store
	// LoginCredentials is a login form submitted on the caller's behalf.
	LoginCredentials = fallback.Credentials
	// FallbackProvider supplies LoginCredentials when no renewal path exists.
	FallbackProvider = fallback.Provider
)

// AuditEvent is one credential lifecycle record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the client's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink writes audit events through a logr.Logger.
type LogSink = internalaudit.LogSink

// MultiSink delivers each audit event to several sinks.
type MultiSink = internalaudit.MultiSink

// NewLogSink returns a LogSink logging at verbosity level.
func NewLogSink(logger logr.Logger, level int) LogSink {
	return internalaudit.NewLogSink(logger, level)
}

// NewChannelSink returns a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID names one counter or histogram.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess           MetricID = internalmetrics.MetricLoginSuccess
	MetricLoginFailure           MetricID = internalmetrics.MetricLoginFailure
	MetricRenewalStarted         MetricID = internalmetrics.MetricRenewalStarted
	MetricRenewalSuccess         MetricID = internalmetrics.MetricRenewalSuccess
	MetricRenewalFailure         MetricID = internalmetrics.MetricRenewalFailure
	MetricRenewalJoined          MetricID = internalmetrics.MetricRenewalJoined
	MetricRenewalSkipped         MetricID = internalmetrics.MetricRenewalSkipped
	MetricRefreshExchange        MetricID = internalmetrics.MetricRefreshExchange
	MetricFallbackLogin          MetricID = internalmetrics.MetricFallbackLogin
	MetricRequestAuthorized      MetricID = internalmetrics.MetricRequestAuthorized
	MetricRequestUnauthenticated MetricID = internalmetrics.MetricRequestUnauthenticated
	MetricCredentialExpired      MetricID = internalmetrics.MetricCredentialExpired
	MetricRequestRejected        MetricID = internalmetrics.MetricRequestRejected
	MetricRetrySuccess           MetricID = internalmetrics.MetricRetrySuccess
	MetricRetryRejected          MetricID = internalmetrics.MetricRetryRejected
	MetricLogout                 MetricID = internalmetrics.MetricLogout
	MetricRenewalLatency         MetricID = internalmetrics.MetricRenewalLatency
)

// Metrics holds the client's counters. It is safe for concurrent use.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of the client's metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
