package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oncosaferx/authcore/internal/audit"
	"github.com/oncosaferx/authcore/internal/rate"
	"github.com/oncosaferx/authcore/internal/stores"
	"github.com/oncosaferx/authcore/mfa"
	"github.com/oncosaferx/authcore/rbac"
	"github.com/oncosaferx/authcore/token"
)

// Builder assembles an [Engine]. Configure it during initialization and
// call [Builder.Build] exactly once. Dependencies left unset fall back to
// in-process implementations suitable for dev and tests; a Redis client
// upgrades the session flags and rate counters to shared state.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	mfaStore mfa.Store
	profiles ProfileStore
	oracle   rbac.Oracle
	sessions SessionFlagStore
	counter  rate.Counter
	sink     AuditSink
	logger   *zap.Logger

	built bool
}

// New returns a builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the full configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the shared cache used for MFA session flags and
// rate counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMFAStore supplies the MFA credential backend.
func (b *Builder) WithMFAStore(store mfa.Store) *Builder {
	b.mfaStore = store
	return b
}

// WithProfileStore supplies the role-hydration source. Optional; without
// it the token-asserted role stands.
func (b *Builder) WithProfileStore(profiles ProfileStore) *Builder {
	b.profiles = profiles
	return b
}

// WithOracle supplies the tenant grant oracle behind the RBAC guards.
func (b *Builder) WithOracle(oracle rbac.Oracle) *Builder {
	b.oracle = oracle
	return b
}

// WithSessionFlags overrides the MFA session flag store.
func (b *Builder) WithSessionFlags(sessions SessionFlagStore) *Builder {
	b.sessions = sessions
	return b
}

// WithRateCounter overrides the verification throttle backend.
func (b *Builder) WithRateCounter(counter rate.Counter) *Builder {
	b.counter = counter
	return b
}

// WithAuditSink supplies the destination for sealed audit records.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger supplies the structured logger shared by all components.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("authcore: builder already used")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	// The engine-level flag is authoritative: a hand-assembled Config must
	// not be able to leave the token codec in development mode, or the
	// unverified-decode and query-token paths would open in production.
	b.config.Token.Production = b.config.Production

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sink := b.sink
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	trail := audit.NewTrail(b.config.Audit, sink, logger)

	mfaStore := b.mfaStore
	if mfaStore == nil {
		mfaStore = mfa.NewMemoryStore()
	}
	mfaService, err := mfa.NewService(b.config.MFA, mfaStore, trail, logger)
	if err != nil {
		trail.Close()
		return nil, err
	}

	oracle := b.oracle
	if oracle == nil {
		oracle = rbac.NewStaticOracle()
	}
	checker, err := rbac.NewChecker(oracle, b.config.RBAC)
	if err != nil {
		trail.Close()
		return nil, err
	}

	sessions := b.sessions
	if sessions == nil {
		if b.redis != nil {
			sessions = stores.NewRedisSessionFlags(b.redis, "")
		} else {
			sessions = stores.NewMemorySessionFlags()
		}
	}

	counter := b.counter
	if counter == nil {
		if b.redis != nil {
			counter = rate.NewRedisCounter(b.redis)
		} else {
			counter = rate.NewMemoryCounter()
		}
	}
	limiter := rate.NewLimiter(counter, rate.Config{
		MaxAttempts: b.config.Rate.MaxAttempts,
		Window:      b.config.Rate.Window,
		KeyPrefix:   "authrl:",
	})

	codec, err := token.NewCodec(b.config.Token)
	if err != nil {
		trail.Close()
		return nil, err
	}

	b.built = true
	return &Engine{
		config:   b.config,
		codec:    codec,
		resolver: NewIdentityResolver(b.config.Resolver, b.profiles, logger),
		mfa:      mfaService,
		rbac:     checker,
		trail:    trail,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger,
	}, nil
}
