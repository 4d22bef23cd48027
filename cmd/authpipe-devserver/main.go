package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authpipe/internal/devserver"
	"github.com/MrEthical07/authpipe/internal/rate"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/stdr"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "listen address")
		accessTTL  = flag.Duration("access-ttl", time.Minute, "access token lifetime")
		refreshTTL = flag.Duration("refresh-ttl", time.Hour, "refresh token lifetime")
		shape      = flag.String("shape", string(devserver.ShapeNested), "login response shape: nested, flat, envelope")
		noRefresh  = flag.Bool("no-refresh", false, "disable the /auth/refresh endpoint")
		email      = flag.String("user", "demo@example.com", "seeded user email")
		password   = flag.String("password", "demo-password", "seeded user password")
		role       = flag.String("role", "admin", "seeded user role")
		maxFails   = flag.Int("max-login-failures", 0, "failed logins per identifier per minute before 429; 0 disables")
		redisAddr  = flag.String("redis-addr", "", "redis for throttling; if empty, REDIS_ADDR env or miniredis is used")
		verbosity  = flag.Int("v", 0, "log verbosity")
	)
	flag.Parse()

	stdr.SetVerbosity(*verbosity)
	logger := stdr.New(log.New(os.Stderr, "authpipe-devserver: ", log.LstdFlags))

	key := os.Getenv("AUTHPIPE_DEV_SIGNING_KEY")
	if key == "" {
		key = "authpipe-development-signing-key"
	}
	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{
		AccessTTL:     *accessTTL,
		RefreshTTL:    *refreshTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(key),
		Issuer:        "authpipe-dev",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuer: %v\n", err)
		os.Exit(2)
	}

	var limiter *rate.Limiter
	if *maxFails > 0 {
		client, cleanup, err := redisClient(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		limiter = rate.New(client, rate.Config{
			KeyPrefix:        "devserver",
			MaxLoginFailures: *maxFails,
			LoginWindow:      time.Minute,
		})
	}

	srv, err := devserver.New(devserver.Config{
		Issuer:         issuer,
		Shape:          devserver.ResponseShape(*shape),
		DisableRefresh: *noRefresh,
		Limiter:        limiter,
		Logger:         logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "devserver: %v\n", err)
		os.Exit(2)
	}
	if _, err := srv.AddUser(*email, "Demo User", *role, *password); err != nil {
		fmt.Fprintf(os.Stderr, "seed user: %v\n", err)
		os.Exit(2)
	}

	hs := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", *addr, "user", *email, "accessTTL", accessTTL.String())
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "server stopped")
		os.Exit(1)
	}

	stats := srv.Stats()
	logger.Info("shutdown", "logins", stats.Logins, "refreshes", stats.Refreshes, "rejected", stats.Rejected)
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
