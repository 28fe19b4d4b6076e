package authcore

import (
	"context"

	"github.com/oncosaferx/authcore/internal/reqmeta"
)

type principalKey struct{}

// WithPrincipal attaches the resolved principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by authentication, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Request metadata helpers, re-exported so callers outside this module
// can feed client IP, user agent, and tenant into the audit trail and
// tenant guards.

func WithClientIP(ctx context.Context, ip string) context.Context {
	return reqmeta.WithClientIP(ctx, ip)
}

func ClientIP(ctx context.Context) string { return reqmeta.ClientIP(ctx) }

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return reqmeta.WithUserAgent(ctx, ua)
}

func UserAgent(ctx context.Context) string { return reqmeta.UserAgent(ctx) }

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return reqmeta.WithTenantID(ctx, tenantID)
}

func TenantID(ctx context.Context) string { return reqmeta.TenantID(ctx) }
