package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authpipe/credential"
)

const (
	// DefaultLoginPath is the login endpoint used when none is configured.
	DefaultLoginPath = "/auth/login"

	defaultMaxResponseBytes = 1 << 20
)

// Config configures a [Client].
type Config struct {
	BaseURL          string
	LoginPath        string
	RefreshPath      string // empty disables Refresh
	Timeout          time.Duration
	MaxResponseBytes int64
}

// Client performs identity exchanges against a REST backend.
// A Client is stateless per call and safe for concurrent use.
type Client struct {
	http       *http.Client
	maxBody    int64
	loginURL   *url.URL
	refreshURL *url.URL
}

// NewClient validates cfg and returns a Client. hc is used as-is when non-nil;
// its transport must not be the authenticating pipeline.
func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("exchange: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		http:     hc,
		maxBody:  cfg.MaxResponseBytes,
		loginURL: base.ResolveReference(&url.URL{Path: joinPath(base.Path, cfg.LoginPath)}),
	}
	if cfg.RefreshPath != "" {
		c.refreshURL = base.ResolveReference(&url.URL{Path: joinPath(base.Path, cfg.RefreshPath)})
	}
	return c, nil
}

// Login exchanges an identifier and secret for a credential record.
func (c *Client) Login(ctx context.Context, identifier, secret string) (credential.Record, error) {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: identifier, Password: secret}
	return c.post(ctx, c.loginURL, body)
}

// Refresh exchanges a renewal credential for a new credential record.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credential.Record, error) {
	if c.refreshURL == nil {
		return credential.Record{}, ErrRefreshUnsupported
	}
	if refreshToken == "" {
		return credential.Record{}, &RejectedError{Status: http.StatusUnauthorized, Message: "missing refresh token"}
	}
	body := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refreshToken}

	rec, err := c.post(ctx, c.refreshURL, body)
	if err != nil {
		return credential.Record{}, err
	}
	return rec, nil
}

// CanRefresh reports whether a renewal path is configured.
func (c *Client) CanRefresh() bool {
	return c.refreshURL != nil
}

// IsExchangeRequest reports whether req targets the login or refresh endpoint.
func (c *Client) IsExchangeRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return sameEndpoint(req.URL, c.loginURL) || (c.refreshURL != nil && sameEndpoint(req.URL, c.refreshURL))
}

func (c *Client) post(ctx context.Context, target *url.URL, payload any) (credential.Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return credential.Record{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(data))
	if err != nil {
		return credential.Record{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return credential.Record{}, ctxErr
		}
		return credential.Record{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return credential.Record{}, fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed:
		// A missing endpoint is a misconfigured path, not refused credentials.
		return credential.Record{}, &StatusError{Status: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return credential.Record{}, &RejectedError{Status: resp.StatusCode, Message: errorMessage(body)}
	default:
		return credential.Record{}, &StatusError{Status: resp.StatusCode}
	}

	rec, err := normalize(body)
	if err != nil {
		return credential.Record{}, fmt.Errorf("%w: %w: %v", ErrUnreachable, ErrMalformedResponse, err)
	}
	if !rec.Present() {
		return credential.Record{}, fmt.Errorf("%w: %w: missing token", ErrUnreachable, ErrMalformedResponse)
	}
	return rec, nil
}

func sameEndpoint(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Host, b.Host) &&
		strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/")
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		if !strings.HasPrefix(p, "/") {
			return "/" + p
		}
		return p
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}
