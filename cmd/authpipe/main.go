// Command authpipe drives a protected API through the authentication
// pipeline and reports what the pipeline did.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/fallback"
	"github.com/MrEthical07/authpipe/metrics/export/internaldefs"
	promexport "github.com/MrEthical07/authpipe/metrics/export/prometheus"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath  string
	baseURL     string
	store       string
	path        string
	requests    int
	concurrency int
	metrics     bool
	metricsAddr string
	logout      bool
}

func main() {
	var (
		opts      options
		verbosity int
	)
	flag.StringVar(&opts.configPath, "config", "", "YAML config file")
	flag.StringVar(&opts.baseURL, "base-url", "", "identity service base URL (overrides config)")
	flag.StringVar(&opts.store, "store", "", "credential store: memory, sqlite, redis, miniredis (overrides config)")
	flag.StringVar(&opts.path, "path", "/api/me", "protected path to request")
	flag.IntVar(&opts.requests, "requests", 8, "number of requests to send")
	flag.IntVar(&opts.concurrency, "concurrency", 8, "concurrent requests in flight")
	flag.BoolVar(&opts.metrics, "metrics", false, "collect and print pipeline metrics")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address after the run")
	flag.BoolVar(&opts.logout, "logout", false, "clear the stored session after the run")
	flag.IntVar(&verbosity, "v", 0, "log verbosity")
	flag.Parse()

	if opts.requests <= 0 || opts.concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "requests and concurrency must be > 0")
		os.Exit(2)
	}

	stdr.SetVerbosity(verbosity)
	logger := stdr.New(log.New(os.Stderr, "authpipe: ", log.LstdFlags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "authpipe: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer, logger logr.Logger) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.baseURL != "" {
		cfg.Exchange.BaseURL = opts.baseURL
	}
	if opts.store != "" {
		cfg.Backend.Kind = opts.store
	}
	if opts.metrics || opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.EnableLatencyHistograms = true
	}

	store, closeStore, err := openStore(cfg.Backend, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	var providers []fallback.Provider
	if cfg.Fallback.File != "" {
		fp, err := fallback.NewFileProvider(cfg.Fallback.File, logger)
		if err != nil {
			return err
		}
		defer fp.Close()
		if err := fp.Watch(); err != nil {
			logger.Error(err, "fallback file watch disabled", "path", cfg.Fallback.File)
		}
		providers = append(providers, fp)
	}
	if cfg.Fallback.IdentityEnv != "" && cfg.Fallback.SecretEnv != "" {
		providers = append(providers, fallback.Env(cfg.Fallback.IdentityEnv, cfg.Fallback.SecretEnv))
	}

	client, err := authpipe.New().
		WithConfig(cfg.Config).
		WithStore(store).
		WithFallbackProvider(fallback.Chain(providers...)).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer client.Close()

	target, err := resolve(cfg.Exchange.BaseURL, opts.path)
	if err != nil {
		return err
	}

	start := time.Now()
	statuses, runErr := fanOut(ctx, client.HTTPClient(), target, opts.requests, opts.concurrency)
	elapsed := time.Since(start)

	printStatuses(out, statuses, elapsed)
	if user, err := client.CurrentUser(ctx); err == nil && user != nil {
		fmt.Fprintf(out, "session: user=%s role=%s expired=%v\n", user.ID, user.Role, client.IsTokenExpired(ctx))
	} else {
		fmt.Fprintf(out, "session: none\n")
	}
	if cfg.Metrics.Enabled {
		printMetrics(out, client.MetricsSnapshot())
	}

	if opts.logout {
		if err := client.Logout(ctx); err != nil {
			return err
		}
	}

	if opts.metricsAddr != "" {
		if err := serveMetrics(ctx, opts.metricsAddr, promexport.NewPrometheusExporter(client), logger); err != nil {
			return err
		}
	}
	return runErr
}

// fanOut sends n GET requests through hc with at most limit in flight and
// tallies response statuses.
func fanOut(ctx context.Context, hc *http.Client, target string, n, limit int) (map[int]int, error) {
	var (
		mu       sync.Mutex
		statuses = make(map[int]int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := hc.Do(req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return statuses, err
}

func resolve(baseURL, path string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func printStatuses(out io.Writer, statuses map[int]int, elapsed time.Duration) {
	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Fprintf(out, "requests: elapsed=%s\n", elapsed.Round(time.Millisecond))
	for _, code := range codes {
		fmt.Fprintf(out, "  %d %s: %d\n", code, http.StatusText(code), statuses[code])
	}
}

func printMetrics(out io.Writer, snap authpipe.MetricsSnapshot) {
	fmt.Fprintln(out, "metrics:")
	for _, def := range internaldefs.CounterDefs {
		if v := snap.Counters[def.ID]; v > 0 {
			fmt.Fprintf(out, "  %s %d\n", def.Name, v)
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := snap.Histograms[def.ID]
		for i, v := range buckets {
			if v > 0 {
				fmt.Fprintf(out, "  %s{le=%q} %d\n", def.Name, internaldefs.HistogramBoundLabels[i], v)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, exp *promexport.PrometheusExporter, logger logr.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
