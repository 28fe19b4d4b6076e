package authcore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oncosaferx/authcore/internal/audit"
	"github.com/oncosaferx/authcore/internal/rate"
	"github.com/oncosaferx/authcore/mfa"
	"github.com/oncosaferx/authcore/rbac"
	"github.com/oncosaferx/authcore/token"
)

const defaultMFASessionTTL = 12 * time.Hour

// SessionFlagStore persists the per-user "MFA verified this session"
// flag consulted by the MFA guard.
type SessionFlagStore interface {
	MarkVerified(ctx context.Context, userID string, ttl time.Duration) error
	IsVerified(ctx context.Context, userID string) (bool, error)
	Clear(ctx context.Context, userID string) error
}

// Engine is the assembled authentication core: token verification,
// principal resolution, MFA, tenant-scoped permission checks, and the
// audit trail. Construct it with [Builder.Build]; it is safe for
// concurrent use.
type Engine struct {
	config   Config
	codec    *token.Codec
	resolver *IdentityResolver
	mfa      *mfa.Service
	rbac     *rbac.Checker
	trail    *audit.Trail
	sessions SessionFlagStore
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Authenticate extracts and verifies the request's bearer credential and
// resolves it to a principal. Every failure mode (missing token, bad
// signature, unknown issuer, expired claims) collapses to ErrInvalidToken
// so handlers respond uniformly with 401.
func (e *Engine) Authenticate(r *http.Request) (Principal, error) {
	raw, ok := e.codec.Extract(r)
	if !ok {
		return Principal{}, fmt.Errorf("%w: no credential in request", ErrInvalidToken)
	}

	claims, err := e.codec.Verify(raw)
	if err != nil {
		e.trail.Record(r.Context(), audit.Record{
			EventType:   "auth.token.rejected",
			Action:      "authenticate",
			IPAddress:   ClientIP(r.Context()),
			UserAgent:   r.UserAgent(),
			Sensitivity: audit.SensitivityMedium,
			Outcome:     audit.OutcomeDenied,
		})
		return Principal{}, err
	}

	return e.resolver.Resolve(r.Context(), claims), nil
}

// MarkMFAVerified records that the user passed MFA for the current
// session.
func (e *Engine) MarkMFAVerified(ctx context.Context, userID string) error {
	return e.sessions.MarkVerified(ctx, userID, defaultMFASessionTTL)
}

// MFAVerified reports whether the user's session carries a valid MFA
// flag. Store errors fail closed.
func (e *Engine) MFAVerified(ctx context.Context, userID string) bool {
	ok, err := e.sessions.IsVerified(ctx, userID)
	if err != nil {
		e.logger.Warn("mfa session lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

// ClearMFAVerified drops the user's session flag (logout, admin disable).
func (e *Engine) ClearMFAVerified(ctx context.Context, userID string) error {
	return e.sessions.Clear(ctx, userID)
}

// MFA exposes the MFA service for setup/verify handlers.
func (e *Engine) MFA() *mfa.Service { return e.mfa }

// RBAC exposes the permission checker consumed by the request guards.
func (e *Engine) RBAC() *rbac.Checker { return e.rbac }

// Audit records an application-level event through the engine's trail.
func (e *Engine) Audit(ctx context.Context, rec AuditRecord) AuditRecord {
	return e.trail.Record(ctx, rec)
}

// RecentAuditRecords returns up to limit of the newest audit records,
// newest first, with checksums re-verified.
func (e *Engine) RecentAuditRecords(limit int) []AuditRecord {
	return e.trail.Recent(limit)
}

// VerifyLimiter is the shared attempt throttle for the verification
// endpoints.
func (e *Engine) VerifyLimiter() *rate.Limiter { return e.limiter }

// Production reports whether the engine runs with production gating.
func (e *Engine) Production() bool { return e.config.Production }

// Logger returns the engine's structured logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Close drains the audit dispatcher. Call during shutdown after the HTTP
// server has stopped.
func (e *Engine) Close() {
	e.trail.Close()
}
