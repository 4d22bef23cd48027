package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists credentials in Redis under three keys.
//
// Writes and clears run inside MULTI/EXEC so readers never observe a partially
// cleared record. A positive ttl is applied to every key on each write.
type RedisStore struct {
	redis redis.UniversalClient
	keys  Keys
	ttl   time.Duration
}

// NewRedisStore creates a [RedisStore] using prefix as the key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{
		redis: client,
		keys:  NewKeys(prefix),
		ttl:   ttl,
	}
}

// Keys returns the storage keys used by the store.
func (s *RedisStore) Keys() Keys {
	return s.keys
}

func (s *RedisStore) Get(ctx context.Context) (Record, error) {
	vals, err := s.redis.MGet(ctx, s.keys.Access, s.keys.Refresh, s.keys.Identity).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec := Record{
		AccessToken:  stringValue(vals, 0),
		RefreshToken: stringValue(vals, 1),
	}
	id, err := decodeIdentity(stringValue(vals, 2))
	if err != nil {
		return Record{}, err
	}
	rec.Identity = id
	return rec, nil
}

func (s *RedisStore) Set(ctx context.Context, rec Record) error {
	if !rec.Present() {
		return ErrEmptyCredential
	}
	identity, err := encodeIdentity(rec.Identity)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.Access, rec.AccessToken, s.ttl)
		if rec.RefreshToken != "" {
			pipe.Set(ctx, s.keys.Refresh, rec.RefreshToken, s.ttl)
		} else if s.ttl > 0 {
			pipe.Expire(ctx, s.keys.Refresh, s.ttl)
		}
		// Kept fields share the new access token's lifetime.
		if identity != "" {
			pipe.Set(ctx, s.keys.Identity, identity, s.ttl)
		} else if s.ttl > 0 {
			pipe.Expire(ctx, s.keys.Identity, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.Access, s.keys.Refresh, s.keys.Identity)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) DropAccess(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.keys.Access).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func stringValue(vals []interface{}, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return ""
	}
	s, _ := vals[i].(string)
	return s
}
