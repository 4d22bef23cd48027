package audit

import "time"

// Event types emitted by the client.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventRenewalStarted    = "renewal_started"
	EventRenewalSuccess    = "renewal_success"
	EventRenewalFailure    = "renewal_failure"
	EventCredentialExpired = "credential_expired"
	EventRequestRejected   = "request_rejected"
	EventRetryRejected     = "retry_rejected"
	EventLogout            = "logout"
)

// Event is a single credential lifecycle record. CycleID ties together the
// events of one renewal or login cycle.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	CycleID   string            `json:"cycle_id,omitempty"`
	Method    string            `json:"method,omitempty"`
	Host      string            `json:"host,omitempty"`
	Status    int               `json:"status,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
