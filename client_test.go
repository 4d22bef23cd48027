package authpipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authpipe/credential"
	"github.com/MrEthical07/authpipe/fallback"
	"github.com/go-logr/logr"
)

func TestNilClientNotReady(t *testing.T) {
	var c *Client
	ctx := context.Background()

	if _, err := c.Login(ctx, "a", "b"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := c.Logout(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := c.AwaitCredential(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if c.IsLoggedIn(ctx) || !c.IsTokenExpired(ctx) || c.Phase() != PhaseIdle {
		t.Fatal("nil client must report logged out")
	}
}

func TestLoginRejectsBlankCredentials(t *testing.T) {
	tc := newTestClient(t)
	if _, err := tc.Login(context.Background(), "  ", "pw"); !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if tc.exchanger.logins.Load() != 0 {
		t.Fatal("blank credentials must not reach the exchanger")
	}
}

func TestLoginReplacesPreviousRecord(t *testing.T) {
	tc := newTestClient(t)
	tc.seed(t, credential.Record{
		AccessToken:  mintToken(t, "old", testEpoch.Add(time.Hour)),
		RefreshToken: "old-refresh",
		Identity:     &credential.Identity{ID: "old", Role: "admin"},
	})
	tc.exchanger.login = func(int32, string, string) (credential.Record, error) {
		return credential.Record{AccessToken: mintToken(t, "new", testEpoch.Add(time.Hour))}, nil
	}

	id, err := tc.Login(context.Background(), "new@example.com", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if id == nil || id.ID != "new" {
		t.Fatalf("expected identity derived from token, got %+v", id)
	}
	rec := tc.stored(t)
	if rec.RefreshToken != "" {
		t.Fatalf("login must not inherit the previous refresh token, got %q", rec.RefreshToken)
	}
	if tc.HasRole(context.Background(), "admin") {
		t.Fatal("login must not inherit the previous role")
	}
	if tc.metrics.Value(MetricLoginSuccess) != 1 {
		t.Fatal("expected login success metric")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	tc := newTestClient(t)
	tc.seed(t, credential.Record{
		AccessToken:  mintToken(t, "u-1", testEpoch.Add(time.Hour)),
		RefreshToken: "r",
		Identity:     &credential.Identity{ID: "u-1"},
	})
	ctx := context.Background()

	if !tc.IsLoggedIn(ctx) {
		t.Fatal("expected seeded session")
	}
	if err := tc.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	rec := tc.stored(t)
	if rec.AccessToken != "" || rec.RefreshToken != "" || rec.Identity != nil {
		t.Fatalf("logout left state behind: %+v", rec)
	}
	if user, _ := tc.CurrentUser(ctx); user != nil {
		t.Fatal("expected no current user after logout")
	}
}

func TestIsTokenExpiredFollowsClock(t *testing.T) {
	tc := newTestClient(t)
	ctx := context.Background()
	if !tc.IsTokenExpired(ctx) {
		t.Fatal("absent token must count as expired")
	}

	tc.seed(t, credential.Record{AccessToken: mintToken(t, "u-1", testEpoch.Add(time.Minute))})
	if tc.IsTokenExpired(ctx) {
		t.Fatal("token should be valid before exp")
	}
	tc.clock.Advance(2 * time.Minute)
	if !tc.IsTokenExpired(ctx) {
		t.Fatal("token should be expired after exp")
	}
	if !tc.IsLoggedIn(ctx) {
		t.Fatal("IsLoggedIn reports presence, not validity")
	}
}

func TestTokenSourceUsesRenewal(t *testing.T) {
	tc := newTestClient(t, withFallback(fallback.Static("bot@example.com", "pw")))

	tok, err := tc.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != tc.stored(t).AccessToken || tok.TokenType != "Bearer" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if !tok.Expiry.Equal(testEpoch.Add(time.Hour + time.Second)) {
		t.Fatalf("expiry should come from the exp claim, got %v", tok.Expiry)
	}
}

func TestAuditEventsForLifecycle(t *testing.T) {
	sink := NewChannelSink(16)
	store := credential.NewMemoryStore()
	ex := newFakeExchanger(t)

	c, err := New().
		WithBaseURL("https://api.example.test").
		WithStore(store).
		WithExchanger(ex).
		WithFallbackProvider(fallback.Static("bot@example.com", "pw")).
		WithLogger(logr.Discard()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	ctx := context.Background()

	if _, err := c.AwaitCredential(ctx); err != nil {
		t.Fatalf("AwaitCredential failed: %v", err)
	}
	if _, err := c.Login(ctx, "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	_ = c.Close()

	byType := map[string]AuditEvent{}
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		byType[ev.EventType] = ev
	}
	for _, name := range []string{"renewal_started", "renewal_success", "login_success", "logout"} {
		if _, ok := byType[name]; !ok {
			t.Fatalf("missing %s event, got %v", name, byType)
		}
	}
	if len(byType) != 4 {
		t.Fatalf("unexpected extra events: %v", byType)
	}
	started, renewed := byType["renewal_started"], byType["renewal_success"]
	if started.CycleID == "" || started.CycleID != renewed.CycleID {
		t.Fatal("renewal events must share a cycle ID")
	}
	if byType["login_success"].CycleID == started.CycleID {
		t.Fatal("login must run as its own cycle")
	}
	if byType["logout"].UserID != "alice@example.com" {
		t.Fatalf("logout should name the user, got %q", byType["logout"].UserID)
	}
	if c.AuditDropped() != 0 {
		t.Fatal("no events should be dropped")
	}
}

func TestMetricsSnapshotDisabledByDefault(t *testing.T) {
	c, err := New().WithBaseURL("https://api.example.test").WithLogger(logr.Discard()).Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	defer c.Close()
	if snap := c.MetricsSnapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseIdle.String() != "idle" || PhaseRenewing.String() != "renewing" || Phase(9).String() != "unknown" {
		t.Fatal("unexpected phase names")
	}
}
