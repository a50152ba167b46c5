package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deskflow/authcore/external"
	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal/audit"
	"github.com/deskflow/authcore/internal/limiters"
	"github.com/deskflow/authcore/jwt"
	"github.com/deskflow/authcore/password"
	"github.com/deskflow/authcore/session"
	"github.com/deskflow/authcore/singleuse"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	store  identity.Store
	redis  redis.UniversalClient

	notifier  Notifier
	auditSink AuditSink
	log       *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the identity backend. It is required.
func (b *Builder) WithStore(store identity.Store) *Builder {
	b.store = store
	return b
}

// WithRedis enables request throttling. Without it reset, verification and
// registration requests are not rate limited.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithClock replaces time.Now across the engine and its components.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	hasher, err := password.New(cfg.hasherConfig())
	if err != nil {
		return nil, err
	}
	issuer, err := jwt.NewIssuer(cfg.issuerConfig())
	if err != nil {
		return nil, err
	}
	issuer.SetClock(now)

	store := identity.NewAdapter(b.store)

	sessions := session.NewManager(store, cfg.Session.MaxPerIdentity)
	sessions.SetClock(now)

	tokens := singleuse.NewManager(store)
	tokens.SetClock(now)

	var verifier *external.Verifier
	if cfg.External.Enabled {
		verifier, err = external.NewVerifier(cfg.External.BotToken, cfg.External.MaxAge)
		if err != nil {
			return nil, err
		}
		verifier.SetClock(now)
	}

	engine := &Engine{
		config:    cfg,
		store:     store,
		hasher:    hasher,
		lockout:   cfg.lockoutPolicy(),
		issuer:    issuer,
		sessions:  sessions,
		singleUse: tokens,
		external:  verifier,
		limiter: limiters.NewRequestLimiter(b.redis, cfg.Throttle.RedisPrefix, limiters.RequestConfig{
			Window:           cfg.Throttle.Window,
			MaxPerIdentifier: cfg.Throttle.MaxPerIdentifier,
			MaxPerIP:         cfg.Throttle.MaxPerIP,
		}),
		notifier: notifier,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		log:     log.Named("authcore"),
		now:     now,
	}

	b.built = true
	return engine, nil
}
