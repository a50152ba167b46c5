package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/deskflow/authcore"
	"github.com/deskflow/authcore/identity/redisstore"
)

const loadPassword = "load-test-password"

type account struct {
	email   string
	access  string
	refresh string
}

func main() {
	var (
		identities  = flag.Int("identities", 2000, "number of identities to register and sign in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (validate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authcore-load", "identity key prefix")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, err := newEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("registering and signing in %d identities...\n", *identities)
	startSeed := time.Now()
	accounts, err := seed(ctx, engine, *identities, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(accounts, *ops, *concurrency, func(a *account) error {
		_, err := engine.ValidateAccess(ctx, a.access)
		return err
	})
	refreshStats := runPhase(accounts, *ops, *concurrency, func(a *account) error {
		_, err := engine.Refresh(ctx, a.refresh)
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: logins=%d refreshes=%d refresh_failures=%d store_conflicts=%d\n",
		snap.Counters[authcore.MetricLoginSuccess],
		snap.Counters[authcore.MetricRefreshSuccess],
		snap.Counters[authcore.MetricRefreshFailure],
		snap.Counters[authcore.MetricStoreConflict],
	)
}

func newEngine(client redis.UniversalClient, prefix string) (*authcore.Engine, error) {
	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessPrivateKey = []byte("loadtest-access-secret-000000001")
	cfg.JWT.RefreshPrivateKey = []byte("loadtest-refresh-secret-00000001")
	// Cheap hashing keeps the seed phase about the store, not argon2.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.EmailVerification.SendOnRegister = false
	cfg.Metrics.Enabled = true

	return authcore.New().
		WithConfig(cfg).
		WithStore(redisstore.New(client, prefix)).
		Build()
}

func seed(ctx context.Context, engine *authcore.Engine, n, concurrency int) ([]account, error) {
	accounts := make([]account, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			email := fmt.Sprintf("load-%d@example.com", i)
			if _, err := engine.Register(gctx, authcore.RegisterRequest{Email: email, Password: loadPassword}, authcore.ClientInfo{}); err != nil {
				return fmt.Errorf("register %s: %w", email, err)
			}
			res, err := engine.Login(gctx, email, loadPassword, false, authcore.ClientInfo{UserAgent: "authcore-loadtest"})
			if err != nil {
				return fmt.Errorf("login %s: %w", email, err)
			}
			accounts[i] = account{email: email, access: res.AccessToken, refresh: res.RefreshToken}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func runPhase(accounts []account, ops, concurrency int, op func(*account) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				a := &accounts[r.Intn(len(accounts))]
				t0 := time.Now()
				err := op(a)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
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
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
