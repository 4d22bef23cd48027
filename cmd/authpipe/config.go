package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/credential"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk layout: the client config plus CLI-only sections.
type fileConfig struct {
	authpipe.Config `yaml:",inline"`
	Store           storeConfig    `yaml:"store"`
	Backend         backendConfig  `yaml:"backend"`
	Fallback        fallbackConfig `yaml:"fallback"`
}

// storeConfig names persisted keys for the sqlite and redis backends.
type storeConfig struct {
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type backendConfig struct {
	Kind       string `yaml:"kind"` // memory, sqlite, redis, miniredis
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
}

type fallbackConfig struct {
	File        string `yaml:"file"`
	IdentityEnv string `yaml:"identity_env"`
	SecretEnv   string `yaml:"secret_env"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Config:  authpipe.DefaultConfig(),
		Store:   storeConfig{KeyPrefix: credential.DefaultPrefix},
		Backend: backendConfig{Kind: "memory"},
		Fallback: fallbackConfig{
			IdentityEnv: "AUTHPIPE_IDENTIFIER",
			SecretEnv:   "AUTHPIPE_SECRET",
		},
	}
}

// loadConfig overlays path onto the defaults. An empty path yields defaults.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// openStore builds the configured credential store. The returned cleanup is
// never nil.
func openStore(backend backendConfig, sc storeConfig) (credential.Store, func(), error) {
	noop := func() {}
	if sc.TTL < 0 {
		return nil, noop, errors.New("store ttl must be >= 0")
	}

	switch backend.Kind {
	case "", "memory":
		return credential.NewMemoryStore(), noop, nil

	case "sqlite":
		if backend.SQLitePath == "" {
			return nil, noop, errors.New("sqlite backend requires sqlite_path")
		}
		store, err := credential.OpenSQLiteStore(backend.SQLitePath, sc.KeyPrefix)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil

	case "redis":
		addr := backend.RedisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			return nil, noop, errors.New("redis backend requires redis_addr or REDIS_ADDR")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		return credential.NewRedisStore(client, sc.KeyPrefix, sc.TTL), func() { _ = client.Close() }, nil

	case "miniredis":
		mr, err := miniredis.Run()
		if err != nil {
			return nil, noop, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup := func() {
			_ = client.Close()
			mr.Close()
		}
		return credential.NewRedisStore(client, sc.KeyPrefix, sc.TTL), cleanup, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", backend.Kind)
	}
}
