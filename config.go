package authcore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oncosaferx/authcore/mfa"
	"github.com/oncosaferx/authcore/rbac"
	"github.com/oncosaferx/authcore/token"
)

// RedisConfig selects the shared cache used for MFA session flags and
// rate-limit counters. An empty Addr means in-process fallbacks.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig selects the credential/profile/grant database. An empty
// DSN means in-memory stores (dev and tests only).
type PostgresConfig struct {
	DSN string
}

// RateLimitConfig tunes the per-user/IP verification throttle.
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// Config aggregates the configuration of every component the engine
// wires together. Build it with [FromEnv] or literal values; treat it as
// immutable after [Builder.Build].
type Config struct {
	// Production gates the development-only token paths (unverified
	// decode, query-string extraction).
	Production bool
	// Listen is the HTTP bind address for cmd/authd.
	Listen string

	Token    token.Config
	Resolver ResolverConfig
	MFA      mfa.Config
	RBAC     rbac.Config
	Audit    AuditConfig
	Rate     RateLimitConfig

	Redis    RedisConfig
	Postgres PostgresConfig
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Listen: ":8080",
		Audit:  AuditConfig{Enabled: true, BufferSize: 1024},
		Rate:   RateLimitConfig{MaxAttempts: 10, Window: time.Minute},
	}
}

// FromEnv loads configuration from AUTHCORE_* environment variables on
// top of the defaults.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Production = strings.EqualFold(envOr("AUTHCORE_ENV", ""), "production")
	cfg.Listen = envOr("AUTHCORE_LISTEN", cfg.Listen)

	cfg.Token.Production = cfg.Production
	cfg.Token.ServiceSecret = []byte(os.Getenv("AUTHCORE_JWT_SECRET"))
	cfg.Token.IdPSecret = []byte(os.Getenv("AUTHCORE_IDP_JWT_SECRET"))
	cfg.Token.AllowInsecureDecode = envBool("AUTHCORE_ALLOW_INSECURE_DECODE")
	cfg.Token.AllowQueryToken = envBool("AUTHCORE_ALLOW_QUERY_TOKEN")

	cfg.Resolver.BootstrapAdminEmail = os.Getenv("AUTHCORE_BOOTSTRAP_ADMIN_EMAIL")
	cfg.Resolver.SuperAdminEmails = envList("AUTHCORE_SUPERADMIN_EMAILS")

	key, err := envKey("AUTHCORE_MFA_ENCRYPTION_KEY")
	if err != nil {
		return Config{}, err
	}
	cfg.MFA.EncryptionKey = key
	cfg.MFA.Issuer = envOr("AUTHCORE_MFA_ISSUER", "OncoSafeRx")
	if v, err := envInt("AUTHCORE_MFA_MAX_ATTEMPTS"); err != nil {
		return Config{}, err
	} else if v > 0 {
		cfg.MFA.MaxAttempts = v
	}
	if v, err := envInt("AUTHCORE_MFA_LOCKOUT_MINUTES"); err != nil {
		return Config{}, err
	} else if v > 0 {
		cfg.MFA.LockoutDuration = time.Duration(v) * time.Minute
	}

	if v, err := envInt("AUTHCORE_RATE_MAX"); err != nil {
		return Config{}, err
	} else if v > 0 {
		cfg.Rate.MaxAttempts = v
	}
	if d := os.Getenv("AUTHCORE_RATE_WINDOW"); d != "" {
		window, err := time.ParseDuration(d)
		if err != nil {
			return Config{}, fmt.Errorf("AUTHCORE_RATE_WINDOW: %w", err)
		}
		cfg.Rate.Window = window
	}

	cfg.Redis.Addr = os.Getenv("AUTHCORE_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("AUTHCORE_REDIS_PASSWORD")
	if v, err := envInt("AUTHCORE_REDIS_DB"); err != nil {
		return Config{}, err
	} else {
		cfg.Redis.DB = v
	}
	cfg.Postgres.DSN = os.Getenv("AUTHCORE_POSTGRES_DSN")

	return cfg, cfg.Validate()
}

// Validate rejects configurations that must not reach production. It is
// called by FromEnv and again by [Builder.Build].
func (c Config) Validate() error {
	if c.Production {
		if len(c.Token.ServiceSecret) == 0 && len(c.Token.IdPSecret) == 0 {
			return errors.New("authcore: production requires at least one JWT verification secret")
		}
		if len(c.MFA.EncryptionKey) == 0 {
			return fmt.Errorf("authcore: production requires an MFA encryption key: %w", ErrEncryptionKeyMissing)
		}
	}
	if c.Rate.MaxAttempts < 0 {
		return errors.New("authcore: rate limit max attempts must not be negative")
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

func envInt(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func envList(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envKey reads a 32-byte key given either as 64 hex digits or as raw
// bytes.
func envKey(name string) ([]byte, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}
	if len(raw) == 64 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%s: expected 32 raw bytes or 64 hex digits, got %d bytes", name, len(raw))
	}
	return []byte(raw), nil
}
