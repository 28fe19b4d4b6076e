// Package httpapi exposes the authentication core over HTTP: the MFA
// setup and verification endpoints, the admin break-glass and audit
// surfaces, and the operational probes.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	authcore "github.com/oncosaferx/authcore"
	"github.com/oncosaferx/authcore/middleware"
)

// ReadyProbe reports backend readiness for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over an [authcore.Engine].
type API struct {
	engine *authcore.Engine
	logger *zap.Logger
	mux    *http.ServeMux
	ready  ReadyProbe
}

// New builds the router. All /api routes require authentication; the
// admin routes additionally require an admin-role principal.
func New(engine *authcore.Engine, ready ReadyProbe) *API {
	a := &API{
		engine: engine,
		logger: engine.Logger(),
		mux:    http.NewServeMux(),
		ready:  ready,
	}

	authed := middleware.Authenticate(engine)

	a.mux.Handle("POST /api/auth/mfa/setup", authed(http.HandlerFunc(a.handleMFASetup)))
	a.mux.Handle("POST /api/auth/mfa/verify-setup", authed(http.HandlerFunc(a.handleMFAVerifySetup)))
	a.mux.Handle("POST /api/auth/mfa/verify", authed(http.HandlerFunc(a.handleMFAVerify)))
	a.mux.Handle("GET /api/auth/mfa/status", authed(http.HandlerFunc(a.handleMFAStatus)))
	a.mux.Handle("POST /api/auth/mfa/backup-codes/regenerate", authed(http.HandlerFunc(a.handleMFARegenerateBackupCodes)))

	a.mux.Handle("POST /api/admin/mfa/disable", authed(a.requireAdmin(http.HandlerFunc(a.handleAdminMFADisable))))
	a.mux.Handle("GET /api/admin/audit/recent", authed(a.requireAdmin(http.HandlerFunc(a.handleAuditRecent))))

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.Handle("GET /metrics", MetricsHandler())

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(1 << 20)(h)
	h = RateLimit(20, 40)(h)
	h = Logging(a.logger)(h)
	h = Instrument(h)
	return h
}

// requireAdmin gates the admin surfaces on the principal's global role.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := authcore.PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		if !principal.IsAdmin() {
			a.engine.Audit(r.Context(), authcore.AuditRecord{
				EventType:   "admin.access.denied",
				UserID:      principal.ID,
				Action:      r.Method + " " + r.URL.Path,
				IPAddress:   authcore.ClientIP(r.Context()),
				UserAgent:   r.UserAgent(),
				Sensitivity: authcore.SensitivityHigh,
				Outcome:     authcore.OutcomeDenied,
			})
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
