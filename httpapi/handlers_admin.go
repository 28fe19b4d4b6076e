package httpapi

import (
	"net/http"
	"strconv"

	authcore "github.com/oncosaferx/authcore"
)

const maxAuditQueryLimit = 256

func (a *API) handleAdminMFADisable(w http.ResponseWriter, r *http.Request) {
	admin, _ := authcore.PrincipalFrom(r.Context())

	var req struct {
		UserID string `json:"userId"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	if err := a.engine.MFA().Disable(r.Context(), req.UserID, admin.ID, admin.Email, req.Reason); err != nil {
		a.mfaError(w, err)
		return
	}

	// The target must re-verify on their next protected request.
	if err := a.engine.ClearMFAVerified(r.Context(), req.UserID); err != nil {
		a.logger.Warn("clear mfa session flag failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "MFA disabled",
	})
}

func (a *API) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxAuditQueryLimit {
		limit = maxAuditQueryLimit
	}

	records := a.engine.RecentAuditRecords(limit)
	verified := true
	for _, rec := range records {
		if !authcore.VerifyAuditChecksum(rec) {
			verified = false
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":           records,
		"count":             len(records),
		"checksumsVerified": verified,
	})
}
