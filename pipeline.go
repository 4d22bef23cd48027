package authpipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/authpipe/credential"
	internalaudit "github.com/MrEthical07/authpipe/internal/audit"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/go-logr/logr"
)

const drainLimit = 64 << 10

// exchangeMatcher is implemented by exchangers whose own requests must not be
// authenticated (exchange.Client does).
type exchangeMatcher interface {
	IsExchangeRequest(req *http.Request) bool
}

// transport is the request pipeline. It decorates base with credential
// attachment, renewal, and a single retry on rejection.
type transport struct {
	base    http.RoundTripper
	store   credential.Store
	checker *jwt.Checker
	coord   *renewalCoordinator
	matcher exchangeMatcher
	scope   *url.URL // nil when every host is authenticated

	bypass    bool
	rejects   map[int]struct{}
	maxReplay int64

	logger  logr.Logger
	metrics *Metrics
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.authenticates(req) {
		return t.base.RoundTrip(req)
	}

	pending, err := newPendingRequest(req, t.maxReplay)
	if err != nil {
		return nil, err
	}
	defer pending.discard()
	ctx := req.Context()

	if t.bypass {
		rec, err := t.store.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("read credential: %w", err)
		}
		return t.send(pending, rec.AccessToken)
	}

	token, err := t.credential(ctx)
	if err != nil {
		t.metrics.Inc(MetricRequestUnauthenticated)
		return nil, err
	}

	resp, err := t.send(pending, token)
	if err != nil {
		return nil, err
	}
	if !t.rejected(resp.StatusCode) {
		t.metrics.Inc(MetricRequestAuthorized)
		return resp, nil
	}
	return t.retry(ctx, pending, token, resp)
}

// retry renews after a rejection and resends the request once. The retry's
// outcome is returned as is. A request whose body was streamed cannot be
// resent, so its rejection is returned unmodified and the next request renews.
func (t *transport) retry(ctx context.Context, pending *pendingRequest, used string, rejected *http.Response) (*http.Response, error) {
	status := rejected.StatusCode
	t.metrics.Inc(MetricRequestRejected)
	t.coord.emit(ctx, pending.event(internalaudit.EventRequestRejected, status))

	if err := t.coord.invalidate(ctx, used); err != nil {
		t.logger.Error(err, "drop rejected credential failed")
	}
	if !pending.replayable() {
		t.logger.V(1).Info("request rejected, body cannot be replayed", "method", pending.orig.Method, "host", pending.orig.URL.Host, "status", status)
		return rejected, nil
	}

	drainAndClose(rejected.Body)
	t.logger.V(1).Info("request rejected, renewing credential", "method", pending.orig.Method, "host", pending.orig.URL.Host, "status", status)
	fresh, err := t.coord.awaitCredential(ctx, used)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestRejected, err)
	}

	resp, err := t.send(pending, fresh)
	if err != nil {
		return nil, err
	}
	if t.rejected(resp.StatusCode) {
		t.metrics.Inc(MetricRetryRejected)
		t.coord.emit(ctx, pending.event(internalaudit.EventRetryRejected, resp.StatusCode))
	} else {
		t.metrics.Inc(MetricRetrySuccess)
	}
	return resp, nil
}

// credential returns a usable token without renewing when the stored one is
// valid.
func (t *transport) credential(ctx context.Context) (string, error) {
	rec, err := t.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if rec.AccessToken == "" {
		return t.coord.awaitCredential(ctx, "")
	}
	if !t.checker.IsExpired(rec.AccessToken) {
		return rec.AccessToken, nil
	}

	t.metrics.Inc(MetricCredentialExpired)
	t.coord.emit(ctx, AuditEvent{EventType: internalaudit.EventCredentialExpired, Success: false, Error: ErrTokenExpired.Error()})
	t.logger.V(1).Info("stored credential expired", "error", ErrTokenExpired.Error())
	if err := t.coord.invalidate(ctx, rec.AccessToken); err != nil {
		t.logger.Error(err, "drop expired credential failed")
	}
	return t.coord.awaitCredential(ctx, rec.AccessToken)
}

func (t *transport) send(pending *pendingRequest, token string) (*http.Response, error) {
	req, err := pending.build(token)
	if err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

func (t *transport) rejected(status int) bool {
	_, ok := t.rejects[status]
	return ok
}

// authenticates reports whether req goes through the pipeline. Exchange
// calls, foreign hosts, and requests that already carry Authorization pass
// straight to the base transport.
func (t *transport) authenticates(req *http.Request) bool {
	if req.Header.Get("Authorization") != "" {
		return false
	}
	if t.matcher != nil && t.matcher.IsExchangeRequest(req) {
		return false
	}
	if t.scope != nil && !sameOrigin(t.scope, req.URL) {
		return false
	}
	return true
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

// pendingRequest holds the original request and its body for the lifetime
// of one RoundTrip. Bodies over the replay limit are kept as a one-shot
// stream.
type pendingRequest struct {
	orig    *http.Request
	getBody func() (io.ReadCloser, error)
	body    []byte
	hasBody bool

	oneShot bool
	stream  io.ReadCloser // nil once handed to the base transport
}

type streamBody struct {
	io.Reader
	io.Closer
}

func newPendingRequest(req *http.Request, limit int64) (*pendingRequest, error) {
	p := &pendingRequest{orig: req}
	if req.Body == nil || req.Body == http.NoBody {
		return p, nil
	}
	p.hasBody = true

	if req.GetBody != nil {
		_ = req.Body.Close()
		p.getBody = req.GetBody
		return p, nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		_ = req.Body.Close()
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	if int64(len(data)) <= limit {
		_ = req.Body.Close()
		p.body = data
		return p, nil
	}

	p.oneShot = true
	p.stream = streamBody{Reader: io.MultiReader(bytes.NewReader(data), req.Body), Closer: req.Body}
	return p, nil
}

func (p *pendingRequest) replayable() bool {
	return !p.oneShot
}

// discard closes a streamed body that was never sent.
func (p *pendingRequest) discard() {
	if p.stream != nil {
		_ = p.stream.Close()
		p.stream = nil
	}
}

// build returns a fresh copy of the original request carrying token. An
// empty token sends the request unauthenticated.
func (p *pendingRequest) build(token string) (*http.Request, error) {
	out := p.orig.Clone(p.orig.Context())
	if p.hasBody {
		switch {
		case p.getBody != nil:
			body, err := p.getBody()
			if err != nil {
				return nil, fmt.Errorf("replay request body: %w", err)
			}
			out.Body = body
		case p.oneShot:
			if p.stream == nil {
				return nil, ErrBodyTooLarge
			}
			out.Body = p.stream
			out.GetBody = nil
			p.stream = nil
		default:
			data := p.body
			out.Body = io.NopCloser(bytes.NewReader(data))
			out.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
			out.ContentLength = int64(len(data))
		}
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out, nil
}

func (p *pendingRequest) event(name string, status int) AuditEvent {
	return AuditEvent{
		EventType: name,
		Method:    p.orig.Method,
		Host:      p.orig.URL.Host,
		Status:    status,
		Success:   false,
	}
}
