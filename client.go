package authpipe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authpipe/credential"
	"github.com/MrEthical07/authpipe/fallback"
	internalaudit "github.com/MrEthical07/authpipe/internal/audit"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/go-logr/logr"
	"github.com/juju/clock"
)

// Client authenticates outgoing requests and owns the credential lifecycle.
//
// Client methods are safe for concurrent use. Construct one with [New].
type Client struct {
	config     Config
	store      credential.Store
	checker    *jwt.Checker
	coord      *renewalCoordinator
	transport  *transport
	httpClient *http.Client
	clock      clock.Clock
	logger     logr.Logger
	metrics    *Metrics
	audit      *internalaudit.Dispatcher
}

// Login describes the login operation and its observable behavior.
//
// Login exchanges identifier and secret for a credential and replaces the
// stored record. Requests that need a credential while Login runs wait for
// it. A rejected login returns an error matching [ErrAuthRejected]; on any
// failure the store is left empty.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*Identity, error) {
	if c == nil || c.coord == nil {
		return nil, ErrNotReady
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return nil, ErrAuthRejected
	}

	rec, err := c.coord.login(ctx, fallback.Credentials{Identifier: identifier, Secret: secret})
	if err != nil {
		return nil, err
	}
	return rec.Identity, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout removes the access token, refresh token, and identity together. A
// renewal in flight completes but its result is discarded.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.coord == nil {
		return ErrNotReady
	}

	var userID string
	if rec, err := c.store.Get(ctx); err == nil && rec.Identity != nil {
		userID = rec.Identity.ID
	}
	if err := c.coord.logout(ctx); err != nil {
		return err
	}

	c.metrics.Inc(MetricLogout)
	c.coord.emit(ctx, AuditEvent{EventType: internalaudit.EventLogout, UserID: userID, Success: true})
	c.logger.Info("logged out", "user", userID)
	return nil
}

// IsLoggedIn reports whether an access token is stored. It does not check
// expiry.
func (c *Client) IsLoggedIn(ctx context.Context) bool {
	if c == nil || c.store == nil {
		return false
	}
	rec, err := c.store.Get(ctx)
	return err == nil && rec.Present()
}

// IsTokenExpired reports whether the stored access token is absent or
// expired.
func (c *Client) IsTokenExpired(ctx context.Context) bool {
	if c == nil || c.store == nil {
		return true
	}
	rec, err := c.store.Get(ctx)
	if err != nil || !rec.Present() {
		return true
	}
	return c.checker.IsExpired(rec.AccessToken)
}

// CurrentUser returns the stored identity, or nil when none is stored.
func (c *Client) CurrentUser(ctx context.Context) (*Identity, error) {
	if c == nil || c.store == nil {
		return nil, ErrNotReady
	}
	rec, err := c.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Identity, nil
}

// HasRole reports whether the stored identity has any of roles.
func (c *Client) HasRole(ctx context.Context, roles ...string) bool {
	id, err := c.CurrentUser(ctx)
	if err != nil || id == nil {
		return false
	}
	return id.HasRole(roles...)
}

// AwaitCredential describes the awaitcredential operation and its observable behavior.
//
// AwaitCredential returns a valid access token. A missing or expired token is
// renewed first; concurrent callers share one renewal. Cancelling ctx
// abandons only this caller's wait.
func (c *Client) AwaitCredential(ctx context.Context) (string, error) {
	if c == nil || c.transport == nil {
		return "", ErrNotReady
	}
	return c.transport.credential(ctx)
}

// Phase reports whether a renewal is in flight.
func (c *Client) Phase() Phase {
	if c == nil || c.coord == nil {
		return PhaseIdle
	}
	return c.coord.phase()
}

// Transport returns the authenticating round tripper.
func (c *Client) Transport() http.RoundTripper {
	if c == nil || c.transport == nil {
		return nil
	}
	return c.transport
}

// HTTPClient returns an *http.Client using [Client.Transport].
func (c *Client) HTTPClient() *http.Client {
	if c == nil {
		return nil
	}
	return c.httpClient
}

// MetricsSnapshot returns a copy of the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped because the
// buffer was full.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}

// Close waits for a renewal in flight and flushes the audit buffer. The
// store is not closed.
func (c *Client) Close() error {
	if c == nil || c.coord == nil {
		return ErrNotReady
	}
	c.coord.close()
	c.audit.Close()
	return nil
}

// IsAuthError reports whether err means the user must log in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthRejected) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrRequestRejected)
}
