package authcore

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oncosaferx/authcore/token"
)

const defaultProfileTimeout = 3 * time.Second

// ProfileStore looks up the authoritative role for a user profile. A
// store returns an empty role (and nil error) when no profile exists.
type ProfileStore interface {
	RoleByEmail(ctx context.Context, email string) (string, error)
}

// ResolverConfig configures principal resolution.
type ResolverConfig struct {
	// BootstrapAdminEmail is the fixed address elevated to super_admin
	// even before any allow-list is configured.
	BootstrapAdminEmail string
	// SuperAdminEmails is the elevation allow-list. Matching is
	// case-insensitive.
	SuperAdminEmails []string
	// ProfileTimeout bounds the role-hydration lookup. Hydration is
	// best-effort: a timeout or store error leaves the token role in place.
	ProfileTimeout time.Duration
}

// IdentityResolver turns verified token claims into the canonical
// [Principal]. Resolution is a fixed pipeline:
//
//	claims -> base principal -> elevate -> hydrate role -> elevate
//
// Elevation runs both before and after hydration so a profile-store role
// can never downgrade an allow-listed admin; the final step is always
// elevation. Role precedence is: allow-list > profile store > token claim.
type IdentityResolver struct {
	bootstrap  string
	superAdmin map[string]bool
	profiles   ProfileStore
	timeout    time.Duration
	logger     *zap.Logger
}

// NewIdentityResolver builds a resolver. profiles may be nil, in which
// case hydration is skipped and the token-asserted role stands.
func NewIdentityResolver(cfg ResolverConfig, profiles ProfileStore, logger *zap.Logger) *IdentityResolver {
	allow := make(map[string]bool, len(cfg.SuperAdminEmails))
	for _, email := range cfg.SuperAdminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			allow[email] = true
		}
	}
	timeout := cfg.ProfileTimeout
	if timeout <= 0 {
		timeout = defaultProfileTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{
		bootstrap:  strings.ToLower(strings.TrimSpace(cfg.BootstrapAdminEmail)),
		superAdmin: allow,
		profiles:   profiles,
		timeout:    timeout,
		logger:     logger,
	}
}

// Resolve builds the principal for verified claims.
func (r *IdentityResolver) Resolve(ctx context.Context, claims *token.Claims) Principal {
	p := Principal{
		ID:    claims.ID(),
		Email: claims.Email,
		Role:  ParseRole(claims.ResolvedRole()),
	}

	p = r.elevate(p)
	p = r.hydrateRole(ctx, p)
	return r.elevate(p)
}

// elevate forces super_admin for allow-listed addresses.
func (r *IdentityResolver) elevate(p Principal) Principal {
	email := strings.ToLower(p.Email)
	if email == "" {
		return p
	}
	if (r.bootstrap != "" && email == r.bootstrap) || r.superAdmin[email] {
		p.Role = RoleSuperAdmin
	}
	return p
}

// hydrateRole overwrites the token-asserted role with the profile-store
// role when one exists. Failures are swallowed: hydration must never turn
// a verified token into an authentication failure.
func (r *IdentityResolver) hydrateRole(ctx context.Context, p Principal) Principal {
	if r.profiles == nil || p.Email == "" {
		return p
	}

	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	role, err := r.profiles.RoleByEmail(hctx, p.Email)
	if err != nil {
		r.logger.Debug("role hydration skipped",
			zap.String("email", p.Email),
			zap.Error(err))
		return p
	}
	if role != "" {
		p.Role = ParseRole(role)
	}
	return p
}
