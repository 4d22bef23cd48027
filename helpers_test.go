package authpipe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authpipe/credential"
	"github.com/MrEthical07/authpipe/fallback"
	"github.com/go-logr/logr"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock/testclock"
)

var testEpoch = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func mintToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: gjwt.NewNumericDate(exp),
		IssuedAt:  gjwt.NewNumericDate(exp.Add(-time.Hour)),
	})
	signed, err := tok.SignedString([]byte("test-signing-key-0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// fakeExchanger counts calls and can hold every exchange until released.
type fakeExchanger struct {
	t *testing.T

	logins    atomic.Int32
	refreshes atomic.Int32

	mu      sync.Mutex
	gate    chan struct{}
	login   func(n int32, identifier, secret string) (credential.Record, error)
	refresh func(n int32, token string) (credential.Record, error)
}

func newFakeExchanger(t *testing.T) *fakeExchanger {
	f := &fakeExchanger{t: t}
	f.login = func(n int32, identifier, _ string) (credential.Record, error) {
		return credential.Record{
			AccessToken:  mintToken(t, identifier, testEpoch.Add(time.Hour+time.Duration(n)*time.Second)),
			RefreshToken: fmt.Sprintf("refresh-%d", n),
			Identity:     &credential.Identity{ID: identifier, Role: "member", Active: true},
		}, nil
	}
	f.refresh = func(n int32, _ string) (credential.Record, error) {
		return credential.Record{
			AccessToken:  mintToken(t, "refreshed", testEpoch.Add(2*time.Hour+time.Duration(n)*time.Second)),
			RefreshToken: fmt.Sprintf("rotated-%d", n),
		}, nil
	}
	return f
}

// hold makes every exchange block until the returned func is called.
func (f *fakeExchanger) hold() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeExchanger) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeExchanger) Login(ctx context.Context, identifier, secret string) (credential.Record, error) {
	n := f.logins.Add(1)
	if err := f.wait(ctx); err != nil {
		return credential.Record{}, err
	}
	return f.login(n, identifier, secret)
}

func (f *fakeExchanger) Refresh(ctx context.Context, token string) (credential.Record, error) {
	n := f.refreshes.Add(1)
	if err := f.wait(ctx); err != nil {
		return credential.Record{}, err
	}
	return f.refresh(n, token)
}

type testClient struct {
	*Client
	store     *credential.MemoryStore
	exchanger *fakeExchanger
	clock     *testclock.Clock
}

type clientOption func(b *Builder)

func withFallback(p fallback.Provider) clientOption {
	return func(b *Builder) { b.WithFallbackProvider(p) }
}

func withBaseURL(u string) clientOption {
	return func(b *Builder) { b.WithBaseURL(u) }
}

func withConfig(mutate func(cfg *Config)) clientOption {
	return func(b *Builder) { mutate(&b.config) }
}

func newTestClient(t *testing.T, opts ...clientOption) *testClient {
	t.Helper()

	store := credential.NewMemoryStore()
	ex := newFakeExchanger(t)
	clk := testclock.NewClock(testEpoch)

	b := New().
		WithBaseURL("https://api.example.test").
		WithStore(store).
		WithExchanger(ex).
		WithClock(clk).
		WithLogger(logr.Discard()).
		WithMetricsEnabled(true)
	for _, opt := range opts {
		opt(b)
	}

	c, err := b.Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &testClient{Client: c, store: store, exchanger: ex, clock: clk}
}

func (tc *testClient) seed(t *testing.T, rec credential.Record) {
	t.Helper()
	if err := tc.store.Set(context.Background(), rec); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

func (tc *testClient) stored(t *testing.T) credential.Record {
	t.Helper()
	rec, err := tc.store.Get(context.Background())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	return rec
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
