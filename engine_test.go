package authcore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oncosaferx/authcore/token"
)

var testServiceSecret = []byte("engine-test-service-secret-00001")

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Token.ServiceSecret = testServiceSecret
	cfg.MFA.EncryptionKey = make([]byte, 32)
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func signEngineToken(t *testing.T, sub, email, role string) string {
	t.Helper()
	claims := token.Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testServiceSecret)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func TestAuthenticateResolvesPrincipal(t *testing.T) {
	engine := newTestEngine(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signEngineToken(t, "u1", "a@b.com", "nurse"))

	p, err := engine.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.ID != "u1" || p.Email != "a@b.com" || p.Role != RoleNurse {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	engine := newTestEngine(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := engine.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticateBadSignature(t *testing.T) {
	engine := newTestEngine(t, nil)

	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("attacker-chosen-secret-000000000"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+forged)
	if _, err := engine.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticateAppliesElevation(t *testing.T) {
	engine := newTestEngine(t, func(cfg *Config) {
		cfg.Resolver.SuperAdminEmails = []string{"boss@hospital.test"}
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signEngineToken(t, "u1", "boss@hospital.test", "user"))

	p, err := engine.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.Role != RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %q", p.Role)
	}
}

func TestMFASessionFlagRoundTrip(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	if engine.MFAVerified(ctx, "u1") {
		t.Fatal("fresh session must not be MFA verified")
	}
	if err := engine.MarkMFAVerified(ctx, "u1"); err != nil {
		t.Fatalf("MarkMFAVerified failed: %v", err)
	}
	if !engine.MFAVerified(ctx, "u1") {
		t.Fatal("flag not visible after MarkMFAVerified")
	}
	if err := engine.ClearMFAVerified(ctx, "u1"); err != nil {
		t.Fatalf("ClearMFAVerified failed: %v", err)
	}
	if engine.MFAVerified(ctx, "u1") {
		t.Fatal("flag still set after ClearMFAVerified")
	}
}

func TestBuilderRejectsSecondBuild(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.ServiceSecret = testServiceSecret
	cfg.MFA.EncryptionKey = make([]byte, 32)

	b := New().WithConfig(cfg)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestProductionConfigRequiresSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Production = true
	cfg.MFA.EncryptionKey = make([]byte, 32)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected production config without JWT secrets to be rejected")
	}

	cfg.Token.ServiceSecret = testServiceSecret
	cfg.MFA.EncryptionKey = nil
	if err := cfg.Validate(); !errors.Is(err, ErrEncryptionKeyMissing) {
		t.Fatalf("expected ErrEncryptionKeyMissing, got %v", err)
	}
}

func TestProductionEngineIgnoresInsecureDecodeFlag(t *testing.T) {
	// Token.Production is left at its zero value on purpose: Build must
	// force it from the engine-level flag, or a hand-assembled Config
	// would install the unverified-decode verifier in production.
	engine := newTestEngine(t, func(cfg *Config) {
		cfg.Production = true
		cfg.Token.AllowInsecureDecode = true
		cfg.Token.Production = false
	})

	claims := token.Claims{
		Email: "attacker@evil.test",
		Role:  "super_admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "attacker",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("attacker-chosen-secret-000000000"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+forged)
	if p, err := engine.Authenticate(r); err == nil {
		t.Fatalf("forged token accepted in production engine: %+v", p)
	} else if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestEngineAuditRecordsRecent(t *testing.T) {
	engine := newTestEngine(t, nil)

	sealed := engine.Audit(context.Background(), AuditRecord{
		EventType:   "auth.test.event",
		UserID:      "u1",
		Sensitivity: SensitivityLow,
		Outcome:     OutcomeSuccess,
	})
	if sealed.ID == "" || sealed.Checksum == "" {
		t.Fatalf("record not sealed: %+v", sealed)
	}

	recent := engine.RecentAuditRecords(10)
	if len(recent) == 0 || recent[0].ID != sealed.ID {
		t.Fatalf("sealed record not in recent window: %+v", recent)
	}
	if !VerifyAuditChecksum(recent[0]) {
		t.Fatal("stored record checksum does not verify")
	}
}
