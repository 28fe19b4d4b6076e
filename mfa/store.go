package mfa

import (
	"context"
	"time"
)

// Credential is the persisted MFA state for one user. The TOTP secret is
// stored encrypted; backup codes are stored as owner-bound SHA-256 hashes.
type Credential struct {
	UserID          string
	Email           string
	SecretEncrypted []byte
	Enabled         bool
	BackupCodes     [][32]byte
	FailedAttempts  int
	LockedUntil     time.Time
	VerifiedAt      time.Time
	LastUsed        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Locked reports whether the lockout window is still active.
func (c *Credential) Locked(now time.Time) bool {
	return !c.LockedUntil.IsZero() && now.Before(c.LockedUntil)
}

// FailureState is the outcome of one RecordFailure call. Locked is true
// only when that call transitioned the credential from unlocked to
// locked; a counter already past the threshold re-locks after the
// previous window expires and reports Locked again.
type FailureState struct {
	Attempts    int
	LockedUntil time.Time
	Locked      bool
}

// Store persists MFA credentials.
//
// RecordFailure must be atomic per user record: two concurrent failed
// attempts must observe distinct counter values so one of them crosses
// the lockout threshold. Implementations serialize the increment (a
// conditional UPDATE, a per-store mutex), never read-modify-write on a
// stale snapshot.
type Store interface {
	// Get returns the credential or ErrCredentialNotFound.
	Get(ctx context.Context, userID string) (*Credential, error)
	// Put inserts or replaces the credential wholesale (setup path).
	Put(ctx context.Context, cred *Credential) error
	// Enable flips the credential to enabled and stamps VerifiedAt.
	Enable(ctx context.Context, userID string, at time.Time) error
	// Delete removes the credential and its backup codes.
	Delete(ctx context.Context, userID string) error
	// RecordFailure atomically increments the failure counter, setting
	// LockedUntil when the post-increment count reaches threshold while
	// no lock is active. The returned state carries the count, the
	// deadline (zero when unlocked), and whether this call activated
	// the lock.
	RecordFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (FailureState, error)
	// RecordSuccess resets the failure counter, clears any lockout, and
	// stamps LastUsed.
	RecordSuccess(ctx context.Context, userID string, at time.Time) error
	// ConsumeBackupCode removes the hash from the stored set, reporting
	// whether it was present. Removal and the membership check are one
	// atomic step so a code can succeed at most once.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
	// ReplaceBackupCodes swaps the full backup code set.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error
}
