package authcore

import (
	"github.com/oncosaferx/authcore/mfa"
	"github.com/oncosaferx/authcore/rbac"
	"github.com/oncosaferx/authcore/token"
)

// Sentinel errors re-exported from the subpackages that define them, so
// callers wiring the engine can match every failure mode with a single
// import.
var (
	// ErrInvalidToken covers every credential failure: missing token,
	// malformed token, bad signature, unknown issuer, expired claims.
	ErrInvalidToken = token.ErrInvalidToken

	ErrEncryptionKeyMissing = mfa.ErrEncryptionKeyMissing
	ErrMFANotConfigured     = mfa.ErrNotConfigured
	ErrMFAAlreadyEnabled    = mfa.ErrAlreadyEnabled
	ErrMFANotEnabled        = mfa.ErrNotEnabled
	ErrInvalidMFACode       = mfa.ErrInvalidCode
	ErrAccountLocked        = mfa.ErrAccountLocked

	ErrInsufficientPermission = rbac.ErrInsufficientPermission
	ErrInsufficientRole       = rbac.ErrInsufficientRole
	ErrTenantMismatch         = rbac.ErrTenantMismatch
	ErrNotTenantMember        = rbac.ErrNotMember
)
