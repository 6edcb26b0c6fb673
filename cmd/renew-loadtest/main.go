// Command renew-loadtest revokes a live session and fires a storm of
// concurrent requests at the in-process fake API, then reports how many
// renewals the storm cost. One renewal per round is the expected outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/apitest"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/store"
)

func main() {
	var (
		requests     = flag.Int("requests", 2000, "requests per storm")
		concurrency  = flag.Int("concurrency", 256, "number of concurrent workers")
		rounds       = flag.Int("rounds", 5, "number of revoke-then-storm rounds")
		backend      = flag.String("store", "redis", "session store: redis or memory")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		refreshDelay = flag.Duration("refresh-delay", 20*time.Millisecond, "artificial latency of the refresh endpoint")
	)
	flag.Parse()

	if *requests <= 0 || *concurrency <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "requests, concurrency, and rounds must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	kv, cleanup, err := openStore(*backend, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := apitest.New(apitest.Options{RefreshDelay: *refreshDelay})
	defer srv.Close()
	srv.AddUser("loadtest", "loadtest@example.com", "loadtest")

	// One idle connection per worker, or the storm measures dialing instead
	// of renewal.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = *concurrency

	cfg := goSession.DefaultConfig()
	cfg.API.BaseURL = srv.BaseURL()
	client, err := goSession.New().
		WithConfig(cfg).
		WithStore(kv).
		WithHTTPClient(&http.Client{Transport: transport}).
		WithLogger(logging.New(logging.WithFormat(logging.FormatText))).
		WithLatencyHistograms(true).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Login(ctx, goSession.LoginInput{Username: "loadtest", Password: "loadtest"}); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	var all []roundStats
	for r := 0; r < *rounds; r++ {
		before := srv.Refreshes()
		srv.Revoke()
		stats := runStorm(ctx, client, *requests, *concurrency)
		stats.renewals = srv.Refreshes() - before
		all = append(all, stats)
		printStats(fmt.Sprintf("round %d", r+1), stats)
	}

	snap := client.MetricsSnapshot()
	fmt.Println("---- results ----")
	fmt.Printf("store=%s rounds=%d requests/round=%d\n", *backend, *rounds, *requests)
	fmt.Printf("renewals: started=%d joined=%d success=%d failure=%d\n",
		snap.Counters[goSession.MetricRenewalStarted],
		snap.Counters[goSession.MetricRenewalJoined],
		snap.Counters[goSession.MetricRenewalSuccess],
		snap.Counters[goSession.MetricRenewalFailure],
	)
	fmt.Printf("replays: success=%d rejected=%d forced-logouts=%d\n",
		snap.Counters[goSession.MetricReplaySuccess],
		snap.Counters[goSession.MetricReplayRejected],
		snap.Counters[goSession.MetricForcedLogout],
	)

	ok := true
	for _, s := range all {
		if s.renewals != 1 || s.failures != 0 {
			ok = false
		}
	}
	if !ok {
		fmt.Println("FAIL: expected exactly one renewal and no failures per round")
		os.Exit(1)
	}
	fmt.Println("PASS: one renewal per round")
}

func openStore(backend, addr string) (store.Store, func(), error) {
	switch backend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", backend)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return store.NewRedisStore(client, "renew-loadtest:"), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return store.NewRedisStore(client, "renew-loadtest:"), func() { _ = client.Close() }, nil
}

func runStorm(ctx context.Context, client *goSession.Client, requests, concurrency int) roundStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, requests)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= requests {
					return
				}
				t0 := time.Now()
				err := get(ctx, client, "/me")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func get(ctx context.Context, client *goSession.Client, path string) error {
	req, err := client.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type roundStats struct {
	total    time.Duration
	ops      int
	failures int64
	renewals int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) roundStats {
	if len(samples) == 0 {
		return roundStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return roundStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s roundStats) {
	fmt.Printf("%s: ops=%d failures=%d renewals=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.renewals,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
