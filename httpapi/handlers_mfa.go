package httpapi

import (
	"errors"
	"net/http"

	authcore "github.com/oncosaferx/authcore"
	"github.com/oncosaferx/authcore/internal/rate"
	"github.com/oncosaferx/authcore/mfa"
)

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	principal, _ := authcore.PrincipalFrom(r.Context())

	setup, err := a.engine.MFA().Setup(r.Context(), principal.ID, principal.Email)
	if err != nil {
		a.mfaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (a *API) handleMFAVerifySetup(w http.ResponseWriter, r *http.Request) {
	principal, _ := authcore.PrincipalFrom(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := a.engine.MFA().ConfirmSetup(r.Context(), principal.ID, req.Token); err != nil {
		a.mfaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "MFA enabled",
	})
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	principal, _ := authcore.PrincipalFrom(r.Context())

	var req struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	// The session flag belongs to the authenticated caller; a body userId
	// naming someone else is an impersonation attempt, not a retry.
	if req.UserID != "" && req.UserID != principal.ID {
		writeError(w, http.StatusForbidden, "userId does not match the authenticated user", nil)
		return
	}

	ip := authcore.ClientIP(r.Context())
	if err := a.engine.VerifyLimiter().Record(r.Context(), principal.ID, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			mfaVerifications.WithLabelValues("throttled").Inc()
			writeError(w, http.StatusTooManyRequests, "too many verification attempts", nil)
			return
		}
		// A broken throttle backend must not open the endpoint wide; the
		// credential-store lockout still applies below.
		a.logger.Warn("verify throttle unavailable")
	}

	if err := a.engine.MFA().Verify(r.Context(), principal.ID, req.Token); err != nil {
		mfaVerifications.WithLabelValues("failure").Inc()
		a.mfaError(w, err)
		return
	}

	_ = a.engine.VerifyLimiter().Reset(r.Context(), principal.ID, ip)
	if err := a.engine.MarkMFAVerified(r.Context(), principal.ID); err != nil {
		a.logger.Error("mark mfa verified failed")
		writeError(w, http.StatusInternalServerError, "verification could not be recorded", nil)
		return
	}

	mfaVerifications.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"verified": true,
	})
}

func (a *API) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := authcore.PrincipalFrom(r.Context())

	status, err := a.engine.MFA().Status(r.Context(), principal.ID)
	if err != nil {
		a.mfaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleMFARegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	principal, _ := authcore.PrincipalFrom(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	codes, err := a.engine.MFA().RegenerateBackupCodes(r.Context(), principal.ID, req.Token)
	if err != nil {
		a.mfaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"backupCodes": codes,
	})
}

// mfaError maps the MFA error taxonomy onto the HTTP surface. State and
// code failures are 400 with a message; a locked account reveals neither
// remaining attempts nor the unlock time.
func (a *API) mfaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mfa.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, "MFA is not set up", map[string]any{"success": false})
	case errors.Is(err, mfa.ErrAlreadyEnabled):
		writeError(w, http.StatusBadRequest, "MFA is already enabled", map[string]any{"success": false})
	case errors.Is(err, mfa.ErrNotEnabled):
		writeError(w, http.StatusBadRequest, "MFA is not enabled", map[string]any{"success": false})
	case errors.Is(err, mfa.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid verification code", map[string]any{"success": false})
	case errors.Is(err, mfa.ErrAccountLocked):
		writeError(w, http.StatusBadRequest, "account temporarily locked", map[string]any{"success": false})
	default:
		a.logger.Error("mfa operation failed")
		writeError(w, http.StatusInternalServerError, "MFA service unavailable", map[string]any{"success": false})
	}
}
