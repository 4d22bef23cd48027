package authpipe

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/MrEthical07/authpipe/credential"
	"github.com/MrEthical07/authpipe/exchange"
	"github.com/MrEthical07/authpipe/fallback"
	internalaudit "github.com/MrEthical07/authpipe/internal/audit"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/juju/clock"
)

// Builder assembles a [Client]. A Builder can be used for one Build call.
type Builder struct {
	config Config

	store      credential.Store
	exchanger  Exchanger
	fallback   fallback.Provider
	logger     *logr.Logger
	clock      clock.Clock
	auditSink  AuditSink
	httpClient *http.Client
	base       http.RoundTripper

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Config.Exchange.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.Exchange.BaseURL = baseURL
	return b
}

// WithStore sets the credential store. The default is an in-memory store.
func (b *Builder) WithStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithExchanger replaces the REST exchange client.
func (b *Builder) WithExchanger(ex Exchanger) *Builder {
	b.exchanger = ex
	return b
}

// WithFallbackProvider sets the source of fallback login credentials.
func (b *Builder) WithFallbackProvider(p FallbackProvider) *Builder {
	b.fallback = p
	return b
}

// WithLogger sets the logger. The default writes through the standard log
// package.
func (b *Builder) WithLogger(logger logr.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithClock sets the clock used for expiry checks and latency.
func (b *Builder) WithClock(clk clock.Clock) *Builder {
	b.clock = clk
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithHTTPClient sets the client used for exchange calls.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithBaseTransport sets the round tripper authenticated requests are sent
// through. The default is http.DefaultTransport.
func (b *Builder) WithBaseTransport(rt http.RoundTripper) *Builder {
	b.base = rt
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the renewal latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, fills in defaults for every collaborator
// not supplied, and returns a ready Client. Build may be called once.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(strings.TrimSpace(cfg.Exchange.BaseURL))
	if err != nil {
		return nil, err
	}

	logger := defaultLogger()
	if b.logger != nil {
		logger = *b.logger
	}
	clk := b.clock
	if clk == nil {
		clk = clock.WallClock
	}
	store := b.store
	if store == nil {
		store = credential.NewMemoryStore()
	}
	base := b.base
	if base == nil {
		base = http.DefaultTransport
	}

	exchanger := b.exchanger
	if exchanger == nil {
		hc := b.httpClient
		if hc == nil {
			hc = &http.Client{Transport: base, Timeout: cfg.Exchange.Timeout}
		}
		ec, err := exchange.NewClient(exchange.Config{
			BaseURL:          cfg.Exchange.BaseURL,
			LoginPath:        cfg.Exchange.LoginPath,
			RefreshPath:      cfg.Exchange.RefreshPath,
			Timeout:          cfg.Exchange.Timeout,
			MaxResponseBytes: cfg.Exchange.MaxResponseBytes,
		}, hc)
		if err != nil {
			return nil, err
		}
		exchanger = ec
	}

	checker := jwt.NewChecker(clk, cfg.Expiry.Skew)
	metrics := NewMetrics(cfg.Metrics)
	audit := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Clock:      clk,
	}, b.auditSink)

	coord := &renewalCoordinator{
		store:     store,
		checker:   checker,
		exchanger: exchanger,
		fallback:  b.fallback,
		clock:     clk,
		logger:    logger.WithName("renewal"),
		metrics:   metrics,
		audit:     audit,
	}

	rejects := make(map[int]struct{}, len(cfg.Pipeline.RejectStatuses))
	for _, status := range cfg.Pipeline.RejectStatuses {
		rejects[status] = struct{}{}
	}
	tr := &transport{
		base:      base,
		store:     store,
		checker:   checker,
		coord:     coord,
		bypass:    cfg.Pipeline.Bypass,
		rejects:   rejects,
		maxReplay: cfg.Pipeline.MaxReplayBodyBytes,
		logger:    logger.WithName("pipeline"),
		metrics:   metrics,
	}
	if m, ok := exchanger.(exchangeMatcher); ok {
		tr.matcher = m
	}
	if cfg.Pipeline.ScopeToBaseURL {
		tr.scope = baseURL
	}

	client := &Client{
		config:     cfg,
		store:      store,
		checker:    checker,
		coord:      coord,
		transport:  tr,
		httpClient: &http.Client{Transport: tr},
		clock:      clk,
		logger:     logger,
		metrics:    metrics,
		audit:      audit,
	}

	b.built = true
	return client, nil
}

func defaultLogger() logr.Logger {
	return stdr.New(log.New(os.Stderr, "authpipe: ", log.LstdFlags))
}
