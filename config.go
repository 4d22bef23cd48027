package authpipe

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authpipe/exchange"
)

// Config defines the client's behavior.
//
// Config values are copied by [Builder.WithConfig] and treated as immutable
// after [Builder.Build].
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Expiry   ExpiryConfig   `yaml:"expiry"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

/*
====================================
EXCHANGE CONFIG
====================================
*/

// ExchangeConfig locates the identity service.
type ExchangeConfig struct {
	BaseURL     string `yaml:"base_url"`
	LoginPath   string `yaml:"login_path"`
	RefreshPath string `yaml:"refresh_path"` // empty disables refresh exchanges
	// Timeout bounds one exchange round trip. Zero means no client timeout.
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

/*
====================================
PIPELINE CONFIG
====================================
*/

// PipelineConfig controls how outgoing requests are authenticated.
type PipelineConfig struct {
	// Bypass attaches a stored credential when present but never renews or
	// retries.
	Bypass bool `yaml:"bypass"`
	// ScopeToBaseURL limits credential attachment to the identity service's
	// origin (scheme and host).
	ScopeToBaseURL bool `yaml:"scope_to_base_url"`
	// RejectStatuses are the response codes that trigger one renew-and-retry.
	RejectStatuses     []int `yaml:"reject_statuses"`
	MaxReplayBodyBytes int64 `yaml:"max_replay_body_bytes"`
}

// ExpiryConfig tunes local expiry checks.
type ExpiryConfig struct {
	// Skew reports tokens that expire within this window as already expired.
	Skew time.Duration `yaml:"skew"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULTS
====================================
*/

const defaultMaxReplayBodyBytes = 10 << 20

// DefaultConfig returns the baseline configuration. BaseURL must still be
// set before building a client.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{
			LoginPath:        exchange.DefaultLoginPath,
			Timeout:          10 * time.Second,
			MaxResponseBytes: 1 << 20,
		},
		Pipeline: PipelineConfig{
			Bypass:             false,
			ScopeToBaseURL:     true,
			RejectStatuses:     []int{http.StatusUnauthorized, http.StatusForbidden},
			MaxReplayBodyBytes: defaultMaxReplayBodyBytes,
		},
		Expiry: ExpiryConfig{
			Skew: 0,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Pipeline.RejectStatuses != nil {
		out.Pipeline.RejectStatuses = append([]int(nil), cfg.Pipeline.RejectStatuses...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first invalid field it finds and does not mutate c.
func (c *Config) Validate() error {
	// Exchange
	base, err := url.Parse(strings.TrimSpace(c.Exchange.BaseURL))
	if err != nil || base.Host == "" {
		return fmt.Errorf("Exchange BaseURL must be an absolute URL, got %q", c.Exchange.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return errors.New("Exchange BaseURL scheme must be http or https")
	}
	if c.Exchange.Timeout < 0 {
		return errors.New("Exchange Timeout must be >= 0")
	}
	if c.Exchange.MaxResponseBytes < 0 {
		return errors.New("Exchange MaxResponseBytes must be >= 0")
	}

	// Pipeline
	if len(c.Pipeline.RejectStatuses) == 0 && !c.Pipeline.Bypass {
		return errors.New("Pipeline RejectStatuses must not be empty")
	}
	for _, status := range c.Pipeline.RejectStatuses {
		if status < 400 || status > 599 {
			return fmt.Errorf("Pipeline RejectStatuses contains non-error status %d", status)
		}
	}
	if c.Pipeline.MaxReplayBodyBytes <= 0 {
		return errors.New("Pipeline MaxReplayBodyBytes must be > 0")
	}

	// Expiry
	if c.Expiry.Skew < 0 {
		return errors.New("Expiry Skew must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
