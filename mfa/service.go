// Package mfa implements TOTP-based multi-factor authentication with
// encrypted secrets at rest, single-use backup codes, and an attempt
// lockout policy. Per-user state lives behind the [Store] interface;
// every state transition is written to the audit trail.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oncosaferx/authcore/internal/audit"
	"github.com/oncosaferx/authcore/internal/reqmeta"
)

const (
	defaultDigits          = 6
	defaultPeriod          = 30
	defaultSkew            = 2
	defaultMaxAttempts     = 5
	defaultLockoutDuration = 30 * time.Minute
	defaultStoreTimeout    = 5 * time.Second
)

// Audit event types emitted by the service.
const (
	EventSetupInitiated         = "mfa.setup.initiated"
	EventEnabled                = "mfa.enabled"
	EventVerifySuccess          = "mfa.verify.success"
	EventVerifyFailure          = "mfa.verify.failure"
	EventVerifyLocked           = "mfa.verify.locked"
	EventLockout                = "mfa.lockout"
	EventBackupCodeUsed         = "mfa.backup_code.used"
	EventBackupCodesRegenerated = "mfa.backup_codes.regenerated"
	EventDisabled               = "mfa.disabled"
)

// Config tunes the service. Zero values fall back to 6 digits, a 30s
// period, ±2 steps of skew, 10 backup codes, 5 attempts, and a 30 minute
// lockout.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string

	// EncryptionKey protects TOTP secrets at rest (AES-256-GCM, 32 bytes).
	// Required: construction fails with ErrEncryptionKeyMissing otherwise.
	EncryptionKey []byte

	BackupCodeCount int
	MaxAttempts     int
	LockoutDuration time.Duration

	// StoreTimeout bounds every credential store call. On timeout the
	// service fails closed.
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = "OncoSafeRx"
	}
	if c.Digits <= 0 {
		c.Digits = defaultDigits
	}
	if c.Period <= 0 {
		c.Period = defaultPeriod
	}
	if c.Skew < 0 {
		c.Skew = 0
	} else if c.Skew == 0 {
		c.Skew = defaultSkew
	}
	if c.BackupCodeCount <= 0 {
		c.BackupCodeCount = DefaultBackupCodeCount
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = defaultLockoutDuration
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	return c
}

// Setup is returned by [Service.Setup]: everything the client needs to
// provision an authenticator plus the one-time view of the backup codes.
type Setup struct {
	Secret         string   `json:"secret"`
	QRCodeURL      string   `json:"qrCode"`
	ManualEntryKey string   `json:"manualEntryKey"`
	BackupCodes    []string `json:"backupCodes"`
}

// Status is a read-only snapshot of a user's MFA state.
type Status struct {
	Configured           bool      `json:"configured"`
	Enabled              bool      `json:"enabled"`
	Locked               bool      `json:"locked"`
	LockedUntil          time.Time `json:"lockedUntil,omitempty"`
	BackupCodesRemaining int       `json:"backupCodesRemaining"`
	VerifiedAt           time.Time `json:"verifiedAt,omitempty"`
	LastUsed             time.Time `json:"lastUsed,omitempty"`
}

// Service drives the per-user MFA state machine:
//
//	NotConfigured -> PendingVerification -> Enabled -> [Locked] -> Enabled -> Disabled
type Service struct {
	config Config
	store  Store
	totp   *totpGenerator
	cipher *secretCipher
	trail  *audit.Trail
	logger *zap.Logger
	now    func() time.Time
}

// NewService validates cfg and builds the service. The encryption key is
// mandatory; a missing key aborts construction with ErrEncryptionKeyMissing
// rather than degrading silently.
func NewService(cfg Config, store Store, trail *audit.Trail, logger *zap.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if store == nil {
		return nil, errors.New("mfa: store is required")
	}
	cipher, err := newSecretCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config: cfg,
		store:  store,
		totp:   newTOTPGenerator(cfg.Issuer, cfg.Algorithm, cfg.Digits, cfg.Period, cfg.Skew),
		cipher: cipher,
		trail:  trail,
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetNow overrides the clock for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// Setup generates a fresh secret and backup code set for the user and
// stores them with MFA still disabled. Re-running setup before
// confirmation replaces the pending secret; once enabled it fails with
// ErrAlreadyEnabled.
func (s *Service) Setup(ctx context.Context, userID, email string) (*Setup, error) {
	existing, err := s.get(ctx, userID)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, ErrAlreadyEnabled
	}

	raw, secretBase32, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	sealed, err := s.cipher.Seal(raw)
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}
	codes, hashes, err := newBackupCodes(userID, s.config.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}

	now := s.now()
	cred := &Credential{
		UserID:          userID,
		Email:           email,
		SecretEncrypted: sealed,
		Enabled:         false,
		BackupCodes:     hashes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		cred.CreatedAt = existing.CreatedAt
	}
	if err := s.put(ctx, cred); err != nil {
		return nil, err
	}

	account := email
	if account == "" {
		account = userID
	}
	s.emit(ctx, EventSetupInitiated, userID, "setup", audit.SensitivityHigh, audit.OutcomeSuccess)

	return &Setup{
		Secret:         secretBase32,
		QRCodeURL:      s.totp.ProvisionURI(secretBase32, account),
		ManualEntryKey: groupBase32(secretBase32),
		BackupCodes:    codes,
	}, nil
}

// ConfirmSetup verifies a first TOTP proof against the pending secret and
// enables MFA.
func (s *Service) ConfirmSetup(ctx context.Context, userID, code string) error {
	cred, err := s.get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrNotConfigured
		}
		return err
	}
	if cred.Enabled {
		return ErrAlreadyEnabled
	}

	secret, err := s.cipher.Open(cred.SecretEncrypted)
	if err != nil {
		s.logger.Error("mfa secret unreadable", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: stored secret unreadable", ErrStoreUnavailable)
	}

	ok, err := s.totp.Verify(secret, code, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		s.emit(ctx, EventVerifyFailure, userID, "confirm_setup", audit.SensitivityHigh, audit.OutcomeFailure)
		return ErrInvalidCode
	}

	if err := s.enable(ctx, userID); err != nil {
		return err
	}
	s.emit(ctx, EventEnabled, userID, "confirm_setup", audit.SensitivityCritical, audit.OutcomeSuccess)
	return nil
}

// Verify checks a login-time proof: the TOTP window first, then the
// backup code set. Preconditions are checked in a fixed order so a locked
// credential is rejected before any code comparison happens.
func (s *Service) Verify(ctx context.Context, userID, code string) error {
	cred, err := s.get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrNotConfigured
		}
		return err
	}
	if !cred.Enabled {
		return ErrNotEnabled
	}

	now := s.now()
	if cred.Locked(now) {
		s.emit(ctx, EventVerifyLocked, userID, "verify", audit.SensitivityHigh, audit.OutcomeDenied)
		return ErrAccountLocked
	}

	secret, err := s.cipher.Open(cred.SecretEncrypted)
	if err != nil {
		s.logger.Error("mfa secret unreadable", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: stored secret unreadable", ErrStoreUnavailable)
	}

	ok, err := s.totp.Verify(secret, code, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ok {
		return s.recordSuccess(ctx, userID, EventVerifySuccess, "verify", now)
	}

	// Not a valid TOTP code; try it as a single-use backup code.
	if canonical := CanonicalizeBackupCode(code); len(canonical) == 2*backupCodeBytes {
		consumed, err := s.consumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical))
		if err != nil {
			return err
		}
		if consumed {
			return s.recordSuccess(ctx, userID, EventBackupCodeUsed, "verify_backup_code", now)
		}
	}

	if err := s.recordFailure(ctx, userID, "verify"); err != nil {
		return err
	}
	s.emit(ctx, EventVerifyFailure, userID, "verify", audit.SensitivityHigh, audit.OutcomeFailure)
	return ErrInvalidCode
}

// RegenerateBackupCodes replaces the backup code set. It requires a fresh
// TOTP proof; a backup code is deliberately not accepted here, so a stolen
// recovery code cannot be used to mint more of itself.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	cred, err := s.get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}
	if !cred.Enabled {
		return nil, ErrNotEnabled
	}

	now := s.now()
	if cred.Locked(now) {
		return nil, ErrAccountLocked
	}

	secret, err := s.cipher.Open(cred.SecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: stored secret unreadable", ErrStoreUnavailable)
	}
	ok, err := s.totp.Verify(secret, code, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		if err := s.recordFailure(ctx, userID, "regenerate_backup_codes"); err != nil {
			return nil, err
		}
		s.emit(ctx, EventVerifyFailure, userID, "regenerate_backup_codes", audit.SensitivityHigh, audit.OutcomeFailure)
		return nil, ErrInvalidCode
	}

	codes, hashes, err := newBackupCodes(userID, s.config.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	if err := s.replaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}

	s.emit(ctx, EventBackupCodesRegenerated, userID, "regenerate_backup_codes", audit.SensitivityCritical, audit.OutcomeSuccess)
	return codes, nil
}

// Disable removes the user's MFA credential. This is a break-glass
// administrative action: it does not require the target user's current
// proof, must be restricted to admin callers upstream, and is always
// audited at CRITICAL sensitivity with the acting admin and reason.
func (s *Service) Disable(ctx context.Context, userID, adminID, adminEmail, reason string) error {
	if _, err := s.get(ctx, userID); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrNotConfigured
		}
		return err
	}

	if err := s.delete(ctx, userID); err != nil {
		return err
	}

	rec := audit.Record{
		EventType:    EventDisabled,
		UserID:       adminID,
		Action:       fmt.Sprintf("disabled mfa for %s: %s", userID, reason),
		ResourceType: "mfa_credential",
		ResourceID:   userID,
		IPAddress:    reqmeta.ClientIP(ctx),
		UserAgent:    reqmeta.UserAgent(ctx),
		Sensitivity:  audit.SensitivityCritical,
		Outcome:      audit.OutcomeSuccess,
	}
	s.trail.Record(ctx, rec)
	s.logger.Warn("mfa disabled by admin",
		zap.String("user_id", userID),
		zap.String("admin_id", adminID),
		zap.String("admin_email", adminEmail),
		zap.String("reason", reason))
	return nil
}

// Status reports the user's MFA state without mutating it.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	cred, err := s.get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return &Status{}, nil
		}
		return nil, err
	}

	now := s.now()
	st := &Status{
		Configured:           true,
		Enabled:              cred.Enabled,
		Locked:               cred.Locked(now),
		BackupCodesRemaining: len(cred.BackupCodes),
		VerifiedAt:           cred.VerifiedAt,
		LastUsed:             cred.LastUsed,
	}
	if st.Locked {
		st.LockedUntil = cred.LockedUntil
	}
	return st, nil
}

// Enabled reports whether the user has a confirmed MFA credential.
func (s *Service) Enabled(ctx context.Context, userID string) (bool, error) {
	cred, err := s.get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return false, nil
		}
		return false, err
	}
	return cred.Enabled, nil
}

func (s *Service) recordSuccess(ctx context.Context, userID, eventType, action string, now time.Time) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.RecordSuccess(sctx, userID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.emit(ctx, eventType, userID, action, audit.SensitivityHigh, audit.OutcomeSuccess)
	return nil
}

func (s *Service) emit(ctx context.Context, eventType, userID, action string, sensitivity audit.Sensitivity, outcome audit.Outcome) {
	s.trail.Record(ctx, audit.Record{
		EventType:    eventType,
		UserID:       userID,
		Action:       action,
		ResourceType: "mfa_credential",
		ResourceID:   userID,
		IPAddress:    reqmeta.ClientIP(ctx),
		UserAgent:    reqmeta.UserAgent(ctx),
		Sensitivity:  sensitivity,
		Outcome:      outcome,
	})
}

// Store access helpers: every call is bounded by StoreTimeout and backend
// failures collapse to ErrStoreUnavailable so callers fail closed.

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.StoreTimeout)
}

func (s *Service) get(ctx context.Context, userID string) (*Credential, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	cred, err := s.store.Get(sctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return cred, nil
}

func (s *Service) put(ctx context.Context, cred *Credential) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Put(sctx, cred); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) enable(ctx context.Context, userID string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Enable(sctx, userID, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) delete(ctx context.Context, userID string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Delete(sctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// recordFailure increments the failure counter and, whenever the store
// reports that this increment activated a lock, emits the CRITICAL
// lockout event. The store signal covers re-locks after an expired
// window as well as the first threshold crossing.
func (s *Service) recordFailure(ctx context.Context, userID, action string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	state, err := s.store.RecordFailure(sctx, userID, s.config.MaxAttempts, s.config.LockoutDuration)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state.Locked {
		s.emit(ctx, EventLockout, userID, action, audit.SensitivityCritical, audit.OutcomeFailure)
		s.logger.Warn("mfa lockout triggered",
			zap.String("user_id", userID),
			zap.Int("failed_attempts", state.Attempts),
			zap.Time("locked_until", state.LockedUntil))
	}
	return nil
}

func (s *Service) consumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	consumed, err := s.store.ConsumeBackupCode(sctx, userID, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return consumed, nil
}

func (s *Service) replaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.ReplaceBackupCodes(sctx, userID, hashes); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// groupBase32 renders the secret in 4-character groups for manual entry.
func groupBase32(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
