package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authpipe/exchange"
	"github.com/MrEthical07/authpipe/internal/rate"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/juju/clock/testclock"
	"github.com/redis/go-redis/v9"
)

type fixture struct {
	srv   *Server
	http  *httptest.Server
	clock *testclock.Clock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	clk := testclock.NewClock(time.Now())
	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("devserver-test-signing-key-0001"),
		Issuer:        "authpipe-dev",
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	cfg.Issuer = issuer

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, err := srv.AddUser("Ada@Example.com", "Ada", "admin", "analytical-engine"); err != nil {
		t.Fatalf("add user: %v", err)
	}

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, http: hs, clock: clk}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(f.http.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, f.http.URL+path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) exchange(t *testing.T) *exchange.Client {
	t.Helper()
	c, err := exchange.NewClient(exchange.Config{BaseURL: f.http.URL, RefreshPath: "/auth/refresh"}, nil)
	if err != nil {
		t.Fatalf("new exchange client: %v", err)
	}
	return c
}

func TestLoginIssuesUsableTokens(t *testing.T) {
	f := newFixture(t, Config{})

	rec, err := f.exchange(t).Login(context.Background(), "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.AccessToken == "" || rec.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", rec)
	}
	if rec.Identity == nil || rec.Identity.ID != "1" || rec.Identity.Role != "admin" {
		t.Fatalf("unexpected identity %+v", rec.Identity)
	}

	resp := f.get(t, "/api/me", rec.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/me, got %d", resp.StatusCode)
	}
	var me map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&me)
	if me["email"] != "ada@example.com" {
		t.Fatalf("unexpected /api/me body %v", me)
	}
	if got := f.srv.Stats().Logins; got != 1 {
		t.Fatalf("expected 1 login, got %d", got)
	}
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.exchange(t)

	_, err := c.Login(context.Background(), "ada@example.com", "wrong")
	var rejected *exchange.RejectedError
	if !errors.As(err, &rejected) || rejected.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %v", err)
	}
	if rejected.Message != "Invalid email or password" {
		t.Fatalf("unexpected message %q", rejected.Message)
	}

	f.srv.SetActive("ada@example.com", false)
	_, err = c.Login(context.Background(), "ada@example.com", "analytical-engine")
	if !errors.As(err, &rejected) || rejected.Status != http.StatusForbidden {
		t.Fatalf("expected 403 rejection, got %v", err)
	}
	if got := f.srv.Stats().Rejected; got != 2 {
		t.Fatalf("expected 2 rejections, got %d", got)
	}
}

func TestResponseShapesNormalize(t *testing.T) {
	for _, shape := range []ResponseShape{ShapeNested, ShapeFlat, ShapeEnvelope} {
		t.Run(string(shape), func(t *testing.T) {
			f := newFixture(t, Config{Shape: shape})
			rec, err := f.exchange(t).Login(context.Background(), "ada@example.com", "analytical-engine")
			if err != nil {
				t.Fatalf("login: %v", err)
			}
			if rec.AccessToken == "" || rec.RefreshToken == "" {
				t.Fatalf("missing tokens for %s: %+v", shape, rec)
			}
			if rec.Identity == nil || rec.Identity.Email != "ada@example.com" {
				t.Fatalf("missing identity for %s: %+v", shape, rec.Identity)
			}
		})
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.exchange(t)

	rec, err := c.Login(context.Background(), "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	f.clock.Advance(2 * time.Minute)

	if resp := f.get(t, "/api/me", rec.AccessToken); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected expired access token to be refused, got %d", resp.StatusCode)
	}

	next, err := c.Refresh(context.Background(), rec.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == rec.AccessToken {
		t.Fatal("expected a new access token")
	}
	if next.Identity != nil {
		t.Fatalf("refresh responses carry no user, got %+v", next.Identity)
	}
	if resp := f.get(t, "/api/me", next.AccessToken); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected refreshed token to work, got %d", resp.StatusCode)
	}

	if _, err := c.Refresh(context.Background(), next.AccessToken); !errors.Is(err, exchange.ErrAuthRejected) {
		t.Fatalf("access token used as refresh should be rejected, got %v", err)
	}
	if got := f.srv.Stats().Refreshes; got != 1 {
		t.Fatalf("expected 1 refresh, got %d", got)
	}
}

func TestRevokeAllInvalidatesIssuedTokens(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.exchange(t)

	rec, err := c.Login(context.Background(), "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if resp := f.post(t, "/admin/revoke", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from revoke, got %d", resp.StatusCode)
	}

	if resp := f.get(t, "/api/me", rec.AccessToken); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked access token to be refused, got %d", resp.StatusCode)
	}
	if _, err := c.Refresh(context.Background(), rec.RefreshToken); !errors.Is(err, exchange.ErrAuthRejected) {
		t.Fatalf("expected revoked refresh token to be rejected, got %v", err)
	}

	again, err := c.Login(context.Background(), "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login after revoke: %v", err)
	}
	if resp := f.get(t, "/api/me", again.AccessToken); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected fresh token to work, got %d", resp.StatusCode)
	}
}

func TestDisableRefresh(t *testing.T) {
	f := newFixture(t, Config{DisableRefresh: true})
	resp := f.post(t, "/auth/refresh", map[string]string{"refreshToken": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestResourceRoutes(t *testing.T) {
	f := newFixture(t, Config{})

	if resp := f.get(t, "/api/orders", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	rec, err := f.exchange(t).Login(context.Background(), "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp := f.get(t, "/api/orders/42", rec.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["resource"] != "orders" || body["id"] != "42" || body["user"] != "1" || body["method"] != http.MethodGet {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc": "abc",
		"Bearer ":    "",
		"bearer abc": "",
		"Basic abc":  "",
		"":           "",
	}
	for header, want := range cases {
		got, ok := bearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("bearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}

func TestAddUserValidation(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.srv.AddUser("ada@example.com", "Dup", "member", "pw"); err == nil {
		t.Fatal("expected duplicate email to fail")
	}
	if _, err := f.srv.AddUser("  ", "Blank", "member", "pw"); err == nil {
		t.Fatal("expected blank email to fail")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected missing issuer to fail")
	}
}

func newLimiter(t *testing.T, cfg rate.Config) *rate.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rate.New(client, cfg)
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t, Config{Limiter: newLimiter(t, rate.Config{MaxLoginFailures: 2, LoginWindow: time.Minute})})
	c := f.exchange(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, exchange.ErrAuthRejected) {
			t.Fatalf("attempt %d: expected rejection, got %v", i, err)
		}
	}

	_, err := c.Login(ctx, "ada@example.com", "analytical-engine")
	var rejected *exchange.RejectedError
	if !errors.As(err, &rejected) || rejected.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 rejection, got %v", err)
	}
	if got := f.srv.Stats().Throttled; got != 1 {
		t.Fatalf("expected 1 throttled login, got %d", got)
	}
}

func TestRefreshThrottle(t *testing.T) {
	f := newFixture(t, Config{Limiter: newLimiter(t, rate.Config{MaxRefreshAttempts: 1, RefreshWindow: time.Minute})})
	c := f.exchange(t)
	ctx := context.Background()

	rec, err := c.Login(ctx, "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	next, err := c.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := c.Refresh(ctx, next.RefreshToken); !errors.Is(err, exchange.ErrAuthRejected) {
		t.Fatalf("expected throttled refresh to be rejected, got %v", err)
	}
}
