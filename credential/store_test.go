package credential

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeFactory func(t *testing.T) Store

func newTestRedisStore(t *testing.T) Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test", 0)
}

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "creds.db"), "test")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis":  newTestRedisStore,
		"sqlite": newTestSQLiteStore,
	}
}

func TestStoreEmptyGetReturnsAbsent(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			rec, err := store.Get(context.Background())
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if rec.Present() || rec.RefreshToken != "" || rec.Identity != nil {
				t.Fatalf("expected absent record, got %+v", rec)
			}
		})
	}
}

func TestStoreSetGetRoundTrip(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			in := Record{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				Identity:     &Identity{ID: "u1", DisplayName: "Alice", Role: "admin", Active: true},
			}
			if err := store.Set(ctx, in); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			got, err := store.Get(ctx)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" {
				t.Fatalf("unexpected tokens: %+v", got)
			}
			if got.Identity == nil || *got.Identity != *in.Identity {
				t.Fatalf("unexpected identity: %+v", got.Identity)
			}
		})
	}
}

func TestStoreSetKeepsOptionalFieldsWhenOmitted(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			if err := store.Set(ctx, Record{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				Identity:     &Identity{ID: "u1", Active: true},
			}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := store.Set(ctx, Record{AccessToken: "access-2"}); err != nil {
				t.Fatalf("second Set failed: %v", err)
			}

			got, err := store.Get(ctx)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.AccessToken != "access-2" {
				t.Fatalf("expected access token to be replaced, got %q", got.AccessToken)
			}
			if got.RefreshToken != "refresh-1" {
				t.Fatalf("expected refresh token to survive, got %q", got.RefreshToken)
			}
			if got.Identity == nil || got.Identity.ID != "u1" {
				t.Fatalf("expected identity to survive, got %+v", got.Identity)
			}
		})
	}
}

func TestStoreSetRejectsEmptyCredential(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			err := factory(t).Set(context.Background(), Record{RefreshToken: "r"})
			if !errors.Is(err, ErrEmptyCredential) {
				t.Fatalf("expected ErrEmptyCredential, got %v", err)
			}
		})
	}
}

func TestStoreClearRemovesAllFields(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			if err := store.Set(ctx, Record{
				AccessToken:  "a",
				RefreshToken: "r",
				Identity:     &Identity{ID: "u"},
			}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}

			got, err := store.Get(ctx)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.AccessToken != "" || got.RefreshToken != "" || got.Identity != nil {
				t.Fatalf("expected no partial state after Clear, got %+v", got)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear on empty store failed: %v", err)
			}
		})
	}
}

func TestStoreDropAccessKeepsRenewalCredential(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			if err := store.Set(ctx, Record{
				AccessToken:  "a",
				RefreshToken: "r",
				Identity:     &Identity{ID: "u"},
			}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := store.DropAccess(ctx); err != nil {
				t.Fatalf("DropAccess failed: %v", err)
			}

			got, err := store.Get(ctx)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Present() {
				t.Fatalf("expected access token to be gone, got %q", got.AccessToken)
			}
			if got.RefreshToken != "r" || got.Identity == nil {
				t.Fatalf("expected renewal credential and identity to remain, got %+v", got)
			}
		})
	}
}

func TestStoreConcurrentSetClearNeverPartial(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_ = store.Set(ctx, Record{AccessToken: "a", RefreshToken: "r", Identity: &Identity{ID: "u"}})
				}()
				go func() {
					defer wg.Done()
					_ = store.Clear(ctx)
				}()
			}
			wg.Wait()

			got, err := store.Get(ctx)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Present() != (got.RefreshToken != "") || got.Present() != (got.Identity != nil) {
				t.Fatalf("observed partial record: %+v", got)
			}
		})
	}
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "ttl", time.Minute)
	if err := store.Set(context.Background(), Record{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if ttl := mr.TTL(store.Keys().Access); ttl != time.Minute {
		t.Fatalf("expected access TTL of 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Present() || got.RefreshToken != "" {
		t.Fatalf("expected expired keys to be gone, got %+v", got)
	}
}

func TestRedisStoreSetRenewsTTLOnKeptFields(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	store := NewRedisStore(rdb, "renew", time.Hour)
	login := Record{
		AccessToken:  "a1",
		RefreshToken: "r1",
		Identity:     &Identity{ID: "u1"},
	}
	if err := store.Set(ctx, login); err != nil {
		t.Fatalf("Set login failed: %v", err)
	}

	mr.FastForward(50 * time.Minute)
	if err := store.Set(ctx, Record{AccessToken: "a2", RefreshToken: "r2"}); err != nil {
		t.Fatalf("Set refresh failed: %v", err)
	}
	if ttl := mr.TTL(store.Keys().Identity); ttl != time.Hour {
		t.Fatalf("expected identity TTL renewed to 1h, got %v", ttl)
	}

	mr.FastForward(20 * time.Minute)
	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessToken != "a2" || got.RefreshToken != "r2" {
		t.Fatalf("unexpected tokens: %+v", got)
	}
	if got.Identity == nil || got.Identity.ID != "u1" {
		t.Fatalf("expected identity u1 to outlive the first TTL, got %+v", got.Identity)
	}
}

func TestRedisStoreSetWithoutTTLKeepsKeysPersistent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	store := NewRedisStore(rdb, "nottl", 0)
	if err := store.Set(ctx, Record{AccessToken: "a1", RefreshToken: "r1", Identity: &Identity{ID: "u1"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, Record{AccessToken: "a2"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := mr.TTL(store.Keys().Identity); ttl != 0 {
		t.Fatalf("expected no TTL on identity, got %v", ttl)
	}
}

func TestRedisStoreCorruptIdentity(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "", 0)
	if err := mr.Set(store.Keys().Identity, "{not-json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := store.Get(context.Background()); !errors.Is(err, ErrCorruptIdentity) {
		t.Fatalf("expected ErrCorruptIdentity, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := NewRedisStore(rdb, "down", 0)
	mr.Close()

	if _, err := store.Get(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")

	first, err := OpenSQLiteStore(path, "app")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Set(context.Background(), Record{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := OpenSQLiteStore(path, "app")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Fatalf("expected persisted record, got %+v", got)
	}
}

func TestNewKeysDefaultsPrefix(t *testing.T) {
	keys := NewKeys("  ")
	if keys.Access != "auth:token" || keys.Refresh != "auth:refreshToken" || keys.Identity != "auth:currentUser" {
		t.Fatalf("unexpected default keys: %+v", keys)
	}
}

func TestIdentityHasRole(t *testing.T) {
	id := Identity{ID: "u", Role: "Admin"}
	if !id.HasRole("user", "admin") {
		t.Fatal("expected case-insensitive role match")
	}
	if id.HasRole("user") {
		t.Fatal("unexpected role match")
	}
	if (Identity{}).HasRole("") {
		t.Fatal("empty role must not match")
	}
}
