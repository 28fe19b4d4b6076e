package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	authcore "github.com/oncosaferx/authcore"
	"github.com/oncosaferx/authcore/rbac"
)

// TenantHeader names the request header carrying the tenant context.
const TenantHeader = "X-Tenant-ID"

// maxBodyBytes bounds the request body read by the tenant guard.
const maxBodyBytes = 1 << 20

type decisionContextKey struct{}

// DecisionFrom returns the RBAC decision attached by a permission guard.
func DecisionFrom(ctx context.Context) (*rbac.Decision, bool) {
	dec, ok := ctx.Value(decisionContextKey{}).(*rbac.Decision)
	return dec, ok
}

// Authenticate verifies the request credential and attaches the resolved
// principal plus client metadata (IP, user agent, tenant header) to the
// context. Responds 401 on any credential failure.
func Authenticate(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authcore.WithClientIP(r.Context(), clientIP(r))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			if tenant := r.Header.Get(TenantHeader); tenant != "" {
				ctx = authcore.WithTenantID(ctx, tenant)
			}
			r = r.WithContext(ctx)

			principal, err := engine.Authenticate(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "authentication required", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(authcore.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireMFA rejects requests whose session has not passed MFA
// verification. The 403 body tells the client which user must verify.
func RequireMFA(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := authcore.PrincipalFrom(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "authentication required", nil)
				return
			}

			if !engine.MFAVerified(r.Context(), principal.ID) {
				respondError(w, http.StatusForbidden, "mfa verification required", map[string]any{
					"requiresMFA": true,
					"userId":      principal.ID,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission enforces a single tenant-scoped permission and
// attaches the resulting decision to the context.
func RequirePermission(engine *authcore.Engine, permission string) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, c *rbac.Checker, userID, tenantID string) (*rbac.Decision, error) {
		return c.RequirePermission(ctx, userID, tenantID, permission)
	}, map[string]any{"requiredPermission": permission})
}

// RequireAnyPermission succeeds when the caller holds at least one of the
// listed permissions in the tenant.
func RequireAnyPermission(engine *authcore.Engine, permissions ...string) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, c *rbac.Checker, userID, tenantID string) (*rbac.Decision, error) {
		return c.RequireAnyPermission(ctx, userID, tenantID, permissions)
	}, map[string]any{"requiredPermissions": permissions})
}

// RequireRole enforces a named tenant role.
func RequireRole(engine *authcore.Engine, role string) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, c *rbac.Checker, userID, tenantID string) (*rbac.Decision, error) {
		return c.RequireRole(ctx, userID, tenantID, role)
	}, map[string]any{"requiredRole": role})
}

// RequireMinRoleLevel enforces a minimum numeric role level.
func RequireMinRoleLevel(engine *authcore.Engine, level int) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, c *rbac.Checker, userID, tenantID string) (*rbac.Decision, error) {
		return c.RequireMinRoleLevel(ctx, userID, tenantID, level)
	}, map[string]any{"requiredLevel": level})
}

type check func(ctx context.Context, c *rbac.Checker, userID, tenantID string) (*rbac.Decision, error)

func guard(engine *authcore.Engine, run check, details map[string]any) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := authcore.PrincipalFrom(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "authentication required", nil)
				return
			}
			tenantID := authcore.TenantID(r.Context())
			if tenantID == "" {
				respondError(w, http.StatusBadRequest, "tenant context required", nil)
				return
			}

			dec, err := run(r.Context(), engine.RBAC(), principal.ID, tenantID)
			if err != nil {
				denyRBAC(w, r, engine, principal, tenantID, err, details)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, dec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func denyRBAC(w http.ResponseWriter, r *http.Request, engine *authcore.Engine, principal authcore.Principal, tenantID string, err error, details map[string]any) {
	engine.Audit(r.Context(), authcore.AuditRecord{
		EventType:    "rbac.denied",
		UserID:       principal.ID,
		Action:       r.Method + " " + r.URL.Path,
		ResourceType: "tenant",
		ResourceID:   tenantID,
		IPAddress:    authcore.ClientIP(r.Context()),
		UserAgent:    r.UserAgent(),
		Sensitivity:  authcore.SensitivityHigh,
		Outcome:      authcore.OutcomeDenied,
	})
	engine.Logger().Info("rbac denied",
		zap.String("user_id", principal.ID),
		zap.String("tenant_id", tenantID),
		zap.String("path", r.URL.Path),
		zap.Error(err))

	body := map[string]any{"tenantId": tenantID}
	for k, v := range details {
		body[k] = v
	}
	respondError(w, http.StatusForbidden, err.Error(), body)
}

// EnforceTenant applies the data isolation rule to mutating JSON
// requests: a body tenantId that disagrees with the resolved tenant is
// rejected with 403, and the resolved tenant is forced into the body so
// downstream handlers cannot write across tenants.
func EnforceTenant(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			tenantID := resolvedTenant(r.Context())
			if tenantID == "" {
				respondError(w, http.StatusBadRequest, "tenant context required", nil)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				respondError(w, http.StatusBadRequest, "unreadable request body", nil)
				return
			}
			_ = r.Body.Close()

			if len(bytes.TrimSpace(body)) == 0 {
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			var payload map[string]json.RawMessage
			if err := json.Unmarshal(body, &payload); err != nil {
				// Non-object bodies carry no tenant field to spoof.
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			if raw, ok := payload["tenantId"]; ok {
				var bodyTenant string
				if err := json.Unmarshal(raw, &bodyTenant); err != nil {
					respondError(w, http.StatusBadRequest, "invalid tenantId field", nil)
					return
				}
				if err := engine.RBAC().EnforceTenant(tenantID, bodyTenant); err != nil {
					denyTenantMismatch(w, r, engine, tenantID, bodyTenant)
					return
				}
			}

			// Force the resolved tenant regardless of what the client sent.
			forced, err := json.Marshal(tenantID)
			if err == nil {
				payload["tenantId"] = forced
				if rewritten, err := json.Marshal(payload); err == nil {
					body = rewritten
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))

			next.ServeHTTP(w, r)
		})
	}
}

func denyTenantMismatch(w http.ResponseWriter, r *http.Request, engine *authcore.Engine, resolved, supplied string) {
	userID := ""
	if principal, ok := authcore.PrincipalFrom(r.Context()); ok {
		userID = principal.ID
	}
	engine.Audit(r.Context(), authcore.AuditRecord{
		EventType:    "rbac.tenant_mismatch",
		UserID:       userID,
		Action:       r.Method + " " + r.URL.Path,
		ResourceType: "tenant",
		ResourceID:   resolved,
		IPAddress:    authcore.ClientIP(r.Context()),
		UserAgent:    r.UserAgent(),
		Sensitivity:  authcore.SensitivityCritical,
		Outcome:      authcore.OutcomeDenied,
	})
	respondError(w, http.StatusForbidden, authcore.ErrTenantMismatch.Error(), map[string]any{
		"tenantId":         resolved,
		"suppliedTenantId": supplied,
	})
}

// resolvedTenant prefers the tenant pinned by a permission guard's
// decision over the raw request header.
func resolvedTenant(ctx context.Context) string {
	if dec, ok := DecisionFrom(ctx); ok {
		return dec.TenantID
	}
	return authcore.TenantID(ctx)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondError(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
