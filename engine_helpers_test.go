package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/identity/memstore"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// outbox records deliveries; fail makes Deliver return an error.
type outbox struct {
	mu   sync.Mutex
	sent []Delivery
	fail bool
}

func (o *outbox) Deliver(_ context.Context, d Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("smtp down")
	}
	o.sent = append(o.sent, d)
	return nil
}

func (o *outbox) setFail(v bool) {
	o.mu.Lock()
	o.fail = v
	o.mu.Unlock()
}

func (o *outbox) byPurpose(p DeliveryPurpose) []Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Delivery
	for _, d := range o.sent {
		if d.Purpose == p {
			out = append(out, d)
		}
	}
	return out
}

func (o *outbox) last(t *testing.T, p DeliveryPurpose) Delivery {
	t.Helper()
	all := o.byPurpose(p)
	if len(all) == 0 {
		t.Fatalf("no %s delivery recorded", p)
	}
	return all[len(all)-1]
}

type testEnv struct {
	engine *Engine
	store  *memstore.Store
	clock  *testClock
	box    *outbox
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessPrivateKey = []byte("access-secret-access-secret-0001")
	cfg.JWT.RefreshPrivateKey = []byte("refresh-secret-refresh-secret-01")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env := &testEnv{
		store: memstore.New(),
		clock: newTestClock(),
		box:   &outbox{},
	}
	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithNotifier(env.box).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// seed stores an active, verified password identity and returns its id.
func (env *testEnv) seed(t testing.TB, email string) string {
	t.Helper()
	digest, err := env.engine.hasher.Hash(context.Background(), testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ident := &identity.Identity{
		ID:            "id-" + email,
		Email:         email,
		EmailVerified: true,
		PasswordHash:  digest,
		Role:          "user",
		Active:        true,
	}
	if err := env.store.Create(context.Background(), ident); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ident.ID
}

func (env *testEnv) get(t *testing.T, id string) *identity.Identity {
	t.Helper()
	ident, err := env.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return ident
}

func (env *testEnv) login(t testing.TB, email string, remember bool) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, testPassword, remember, ClientInfo{UserAgent: "test", IP: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return res
}

func metricValue(e *Engine, id MetricID) uint64 {
	return e.metrics.Value(id)
}

// countingHasher records how often the engine spends hashing work.
type countingHasher struct {
	passwordHasher
	hashes   atomic.Int32
	verifies atomic.Int32
	dummies  atomic.Int32
}

func (h *countingHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	h.hashes.Add(1)
	return h.passwordHasher.Hash(ctx, plaintext)
}

func (h *countingHasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	h.verifies.Add(1)
	return h.passwordHasher.Verify(ctx, plaintext, digest)
}

func (h *countingHasher) VerifyDummy(ctx context.Context, plaintext string) {
	h.dummies.Add(1)
	h.passwordHasher.VerifyDummy(ctx, plaintext)
}

// countHashing swaps in a countingHasher. Call it after seeding.
func (env *testEnv) countHashing() *countingHasher {
	h := &countingHasher{passwordHasher: env.engine.hasher}
	env.engine.hasher = h
	return h
}
