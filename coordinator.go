package authpipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/authpipe/credential"
	"github.com/MrEthical07/authpipe/exchange"
	"github.com/MrEthical07/authpipe/fallback"
	internalaudit "github.com/MrEthical07/authpipe/internal/audit"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

type cycleKind uint8

const (
	// cycleRenewal is started by the pipeline when a credential is needed.
	cycleRenewal cycleKind = iota
	// cycleLogin is an explicit Client.Login.
	cycleLogin
)

func (k cycleKind) String() string {
	if k == cycleLogin {
		return "login"
	}
	return "renewal"
}

// renewalCycle is one in-flight exchange. record and err are written before
// done is closed and never after.
type renewalCycle struct {
	id    string
	kind  cycleKind
	login *fallback.Credentials
	done  chan struct{}

	// discarded is set by logout while the cycle runs; guarded by the
	// coordinator mutex.
	discarded bool

	record credential.Record
	err    error
}

// renewalCoordinator serializes identity exchanges. current is non-nil exactly
// while an exchange runs (the Renewing phase). Every store write happens with
// mu held so no reader sees a partially written credential.
type renewalCoordinator struct {
	mu      sync.Mutex
	current *renewalCycle
	wg      sync.WaitGroup

	store     credential.Store
	checker   *jwt.Checker
	exchanger Exchanger
	fallback  fallback.Provider
	clock     clock.Clock
	logger    logr.Logger
	metrics   *Metrics
	audit     *internalaudit.Dispatcher
}

func (c *renewalCoordinator) phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return PhaseRenewing
	}
	return PhaseIdle
}

// awaitCredential returns a valid access token, renewing when necessary.
// stale is the token the caller already knows to be unusable; a stored token
// equal to stale never satisfies the call.
func (c *renewalCoordinator) awaitCredential(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	if cycle := c.current; cycle != nil {
		c.mu.Unlock()
		c.metrics.Inc(MetricRenewalJoined)
		c.logger.V(1).Info("joining renewal in flight", "cycle", cycle.id)
		rec, err := c.wait(ctx, cycle)
		return rec.AccessToken, err
	}

	rec, err := c.store.Get(ctx)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("read credential: %w", err)
	}
	if rec.AccessToken != "" && rec.AccessToken != stale && !c.checker.IsExpired(rec.AccessToken) {
		c.mu.Unlock()
		c.metrics.Inc(MetricRenewalSkipped)
		return rec.AccessToken, nil
	}

	cycle := c.startLocked(ctx, cycleRenewal, nil)
	c.mu.Unlock()

	rec, err = c.wait(ctx, cycle)
	return rec.AccessToken, err
}

// login runs an explicit login as its own cycle. A cycle already in flight
// is allowed to finish first.
func (c *renewalCoordinator) login(ctx context.Context, creds fallback.Credentials) (credential.Record, error) {
	for {
		c.mu.Lock()
		cycle := c.current
		if cycle == nil {
			cycle = c.startLocked(ctx, cycleLogin, &creds)
			c.mu.Unlock()
			return c.wait(ctx, cycle)
		}
		c.mu.Unlock()

		select {
		case <-cycle.done:
		case <-ctx.Done():
			return credential.Record{}, ctx.Err()
		}
	}
}

// invalidate drops the access token if it is still token and nothing is
// renewing. A rejection that arrives after a renewal already replaced the
// token leaves the fresh token alone.
func (c *renewalCoordinator) invalidate(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return nil
	}
	rec, err := c.store.Get(ctx)
	if err != nil {
		return err
	}
	if rec.AccessToken != token {
		return nil
	}
	return c.store.DropAccess(ctx)
}

// logout clears the store. A cycle in flight finishes but its result is
// discarded.
func (c *renewalCoordinator) logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.discarded = true
	}
	return c.store.Clear(ctx)
}

// close waits for any exchange still running.
func (c *renewalCoordinator) close() {
	c.wg.Wait()
}

func (c *renewalCoordinator) startLocked(ctx context.Context, kind cycleKind, creds *fallback.Credentials) *renewalCycle {
	cycle := &renewalCycle{
		id:    uuid.NewString(),
		kind:  kind,
		login: creds,
		done:  make(chan struct{}),
	}
	c.current = cycle

	c.wg.Add(1)
	go c.run(context.WithoutCancel(ctx), cycle)
	return cycle
}

func (c *renewalCoordinator) wait(ctx context.Context, cycle *renewalCycle) (credential.Record, error) {
	select {
	case <-cycle.done:
		if cycle.err != nil {
			return credential.Record{}, cycle.err
		}
		return cycle.record.Clone(), nil
	case <-ctx.Done():
		return credential.Record{}, ctx.Err()
	}
}

func (c *renewalCoordinator) run(ctx context.Context, cycle *renewalCycle) {
	defer c.wg.Done()

	if cycle.kind == cycleRenewal {
		c.metrics.Inc(MetricRenewalStarted)
		c.emit(ctx, AuditEvent{EventType: internalaudit.EventRenewalStarted, CycleID: cycle.id, Success: true})
	}
	c.logger.V(1).Info("exchange started", "cycle", cycle.id, "kind", cycle.kind.String())

	start := c.clock.Now()
	rec, replace, err := c.exchange(ctx, cycle)
	if err == nil && rec.AccessToken == "" {
		err = fmt.Errorf("%w: exchange returned no credential", ErrUnreachable)
	}
	if err == nil && rec.Identity == nil && replace {
		rec.Identity = c.identityFromToken(rec.AccessToken)
	}

	c.finish(ctx, cycle, rec, replace, err)
	c.observe(ctx, cycle, c.clock.Now().Sub(start))
}

// exchange picks the renewal path. replace reports whether the result is a
// full login that replaces the stored record rather than updating it.
func (c *renewalCoordinator) exchange(ctx context.Context, cycle *renewalCycle) (rec credential.Record, replace bool, err error) {
	if cycle.kind == cycleLogin {
		rec, err = c.exchanger.Login(ctx, cycle.login.Identifier, cycle.login.Secret)
		return rec, true, err
	}

	stored, err := c.store.Get(ctx)
	if err != nil {
		c.logger.Error(err, "read renewal credential failed", "cycle", cycle.id)
		stored = credential.Record{}
	}

	var refreshErr error
	if stored.RefreshToken != "" {
		c.metrics.Inc(MetricRefreshExchange)
		rec, err = c.exchanger.Refresh(ctx, stored.RefreshToken)
		if err == nil {
			return rec, false, nil
		}
		if !errors.Is(err, ErrAuthRejected) && !errors.Is(err, exchange.ErrRefreshUnsupported) {
			return credential.Record{}, false, err
		}
		refreshErr = err
		c.logger.V(1).Info("refresh exchange unusable, trying fallback login", "cycle", cycle.id, "reason", err.Error())
	}

	creds, ok, err := c.fallbackCredentials(ctx)
	if err != nil {
		return credential.Record{}, false, fmt.Errorf("fallback credentials: %w", err)
	}
	if !ok {
		if refreshErr != nil {
			return credential.Record{}, false, fmt.Errorf("%w: %w", ErrSessionExpired, refreshErr)
		}
		return credential.Record{}, false, ErrSessionExpired
	}

	c.metrics.Inc(MetricFallbackLogin)
	rec, err = c.exchanger.Login(ctx, creds.Identifier, creds.Secret)
	return rec, true, err
}

func (c *renewalCoordinator) fallbackCredentials(ctx context.Context) (fallback.Credentials, bool, error) {
	if c.fallback == nil {
		return fallback.Credentials{}, false, nil
	}
	return c.fallback.FallbackCredentials(ctx)
}

// finish records the outcome, writes the store, and wakes every waiter, all
// under one critical section.
func (c *renewalCoordinator) finish(ctx context.Context, cycle *renewalCycle, rec credential.Record, replace bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case cycle.discarded:
		err = ErrSessionExpired
	case err == nil:
		err = c.write(ctx, rec, replace)
	default:
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.Error(clearErr, "clear credential after failed exchange", "cycle", cycle.id)
		}
	}

	if err != nil {
		cycle.err = err
	} else {
		cycle.record = rec
	}
	c.current = nil
	close(cycle.done)
}

func (c *renewalCoordinator) write(ctx context.Context, rec credential.Record, replace bool) error {
	if replace {
		if err := c.store.Clear(ctx); err != nil {
			return fmt.Errorf("replace credential: %w", err)
		}
	}
	if err := c.store.Set(ctx, rec); err != nil {
		_ = c.store.Clear(ctx)
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (c *renewalCoordinator) identityFromToken(token string) *credential.Identity {
	claims, err := c.checker.Claims(token)
	if err != nil || claims.Subject == "" {
		return nil
	}
	return &credential.Identity{ID: claims.Subject, Active: true}
}

// observe reports a finished cycle. It runs after waiters are released.
func (c *renewalCoordinator) observe(ctx context.Context, cycle *renewalCycle, elapsed time.Duration) {
	event := AuditEvent{CycleID: cycle.id, Success: cycle.err == nil}
	if cycle.err != nil {
		event.Error = cycle.err.Error()
	} else if id := cycle.record.Identity; id != nil {
		event.UserID = id.ID
	}

	switch cycle.kind {
	case cycleLogin:
		if cycle.err != nil {
			c.metrics.Inc(MetricLoginFailure)
			event.EventType = internalaudit.EventLoginFailure
			c.logger.Info("login failed", "cycle", cycle.id, "error", cycle.err.Error())
		} else {
			c.metrics.Inc(MetricLoginSuccess)
			event.EventType = internalaudit.EventLoginSuccess
			c.logger.Info("login succeeded", "cycle", cycle.id, "user", event.UserID)
		}
	default:
		c.metrics.Observe(MetricRenewalLatency, elapsed)
		if cycle.err != nil {
			c.metrics.Inc(MetricRenewalFailure)
			event.EventType = internalaudit.EventRenewalFailure
			c.logger.Error(cycle.err, "credential renewal failed", "cycle", cycle.id, "elapsed", elapsed)
		} else {
			c.metrics.Inc(MetricRenewalSuccess)
			event.EventType = internalaudit.EventRenewalSuccess
			c.logger.Info("credential renewed", "cycle", cycle.id, "elapsed", elapsed)
		}
	}
	c.emit(ctx, event)
}

func (c *renewalCoordinator) emit(ctx context.Context, event AuditEvent) {
	c.audit.Emit(ctx, event)
}
