package mfa

import "errors"

var (
	// ErrEncryptionKeyMissing indicates no at-rest encryption key was
	// configured. This is a fatal misconfiguration: construction fails
	// loudly instead of degrading to plaintext secrets.
	ErrEncryptionKeyMissing = errors.New("mfa encryption key missing")
	// ErrNotConfigured indicates the user has never started MFA setup.
	ErrNotConfigured = errors.New("mfa not configured")
	// ErrAlreadyEnabled indicates setup confirmation for an enabled credential.
	ErrAlreadyEnabled = errors.New("mfa already enabled")
	// ErrNotEnabled indicates verification against a credential still
	// pending setup confirmation.
	ErrNotEnabled = errors.New("mfa not enabled")
	// ErrInvalidCode indicates the submitted TOTP code or backup code did
	// not verify.
	ErrInvalidCode = errors.New("invalid mfa code")
	// ErrAccountLocked indicates the lockout window is active. Returned
	// before any code comparison is attempted.
	ErrAccountLocked = errors.New("mfa verification locked")
	// ErrCredentialNotFound is returned by stores for unknown users.
	ErrCredentialNotFound = errors.New("mfa credential not found")
	// ErrStoreUnavailable indicates the credential backend is unreachable
	// or returned an unusable record. Callers must fail closed.
	ErrStoreUnavailable = errors.New("mfa credential backend unavailable")
)
