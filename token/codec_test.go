package token

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	serviceSecret = []byte("service-secret-used-in-tests-0001")
	idpSecret     = []byte("external-idp-secret-in-tests-0002")
	unknownSecret = []byte("secret-no-codec-has-ever-seen-0003")
)

func signedToken(t *testing.T, secret []byte, sub, email, role string) string {
	t.Helper()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func newTestCodec(t *testing.T, cfg Config) *Codec {
	t.Helper()
	if cfg.ServiceSecret == nil {
		cfg.ServiceSecret = serviceSecret
	}
	codec, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return codec
}

func TestExtractPrefersAuthorizationHeader(t *testing.T) {
	codec := newTestCodec(t, Config{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer primary")
	r.Header.Set("X-Forwarded-Authorization", "Bearer forwarded")

	tok, ok := codec.Extract(r)
	if !ok || tok != "primary" {
		t.Fatalf("expected primary token, got %q (ok=%v)", tok, ok)
	}
}

func TestExtractForwardedAuthorizationOnly(t *testing.T) {
	codec := newTestCodec(t, Config{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-Authorization", "Bearer abc123")

	tok, ok := codec.Extract(r)
	if !ok || tok != "abc123" {
		t.Fatalf("expected abc123 from forwarded header, got %q (ok=%v)", tok, ok)
	}
}

func TestExtractRawJWTWithoutScheme(t *testing.T) {
	codec := newTestCodec(t, Config{})
	raw := signedToken(t, serviceSecret, "u1", "a@b.com", "user")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", raw)

	tok, ok := codec.Extract(r)
	if !ok || tok != raw {
		t.Fatal("expected raw JWT to be accepted without Bearer scheme")
	}
}

func TestExtractRejectsNonJWTRawHeader(t *testing.T) {
	codec := newTestCodec(t, Config{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if _, ok := codec.Extract(r); ok {
		t.Fatal("expected non-JWT raw header value to be ignored")
	}
}

func TestExtractCookieFallback(t *testing.T) {
	codec := newTestCodec(t, Config{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "cookie-token"})

	tok, ok := codec.Extract(r)
	if !ok || tok != "cookie-token" {
		t.Fatalf("expected cookie token, got %q (ok=%v)", tok, ok)
	}
}

func TestExtractQueryParamRequiresOptIn(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?access_token=qtok", nil)

	codec := newTestCodec(t, Config{})
	if _, ok := codec.Extract(r); ok {
		t.Fatal("query extraction must be off by default")
	}

	codec = newTestCodec(t, Config{AllowQueryToken: true})
	tok, ok := codec.Extract(r)
	if !ok || tok != "qtok" {
		t.Fatalf("expected query token with opt-in, got %q (ok=%v)", tok, ok)
	}
}

func TestExtractQueryParamInertInProduction(t *testing.T) {
	codec := newTestCodec(t, Config{Production: true, AllowQueryToken: true})

	r := httptest.NewRequest(http.MethodGet, "/?access_token=qtok", nil)
	if _, ok := codec.Extract(r); ok {
		t.Fatal("query extraction must be inert in production regardless of opt-in")
	}
}

func TestVerifyServiceSecret(t *testing.T) {
	codec := newTestCodec(t, Config{})
	tok := signedToken(t, serviceSecret, "u1", "a@b.com", "pharmacist")

	claims, err := codec.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.ID() != "u1" || claims.Email != "a@b.com" || claims.ResolvedRole() != "pharmacist" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyFallsBackToIdPSecret(t *testing.T) {
	codec := newTestCodec(t, Config{IdPSecret: idpSecret})
	tok := signedToken(t, idpSecret, "u2", "idp@b.com", "")

	claims, err := codec.Verify(tok)
	if err != nil {
		t.Fatalf("Verify against IdP secret failed: %v", err)
	}
	if claims.ID() != "u2" {
		t.Fatalf("unexpected subject %q", claims.ID())
	}
}

func TestVerifyRejectsUnknownIssuer(t *testing.T) {
	codec := newTestCodec(t, Config{IdPSecret: idpSecret})
	tok := signedToken(t, unknownSecret, "u3", "x@b.com", "user")

	if _, err := codec.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	codec := newTestCodec(t, Config{})

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(serviceSecret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := codec.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	codec := newTestCodec(t, Config{})

	// header {"alg":"none","typ":"JWT"} with an unsigned payload
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1MSJ9."
	if _, err := codec.Verify(unsigned); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestInsecureDecodeAcceptedOutsideProduction(t *testing.T) {
	codec := newTestCodec(t, Config{AllowInsecureDecode: true})
	tok := signedToken(t, unknownSecret, "dev-user", "dev@b.com", "user")

	claims, err := codec.Verify(tok)
	if err != nil {
		t.Fatalf("expected insecure decode in dev mode, got %v", err)
	}
	if claims.ID() != "dev-user" {
		t.Fatalf("unexpected subject %q", claims.ID())
	}
}

func TestProductionNeverDecodesUnverified(t *testing.T) {
	codec := newTestCodec(t, Config{Production: true, AllowInsecureDecode: true})

	tokens := []string{
		signedToken(t, unknownSecret, "u1", "a@b.com", "admin"),
		"eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1MSJ9.",
		"garbage",
	}
	for _, tok := range tokens {
		if _, err := codec.Verify(tok); err != ErrInvalidToken {
			t.Fatalf("production codec authenticated %q: %v", tok, err)
		}
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	codec := newTestCodec(t, Config{})
	tok := signedToken(t, serviceSecret, "", "a@b.com", "user")

	if _, err := codec.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for subjectless token, got %v", err)
	}
}

func TestUserIDFallbackClaim(t *testing.T) {
	codec := newTestCodec(t, Config{})

	claims := Claims{
		UserID: "fallback-id",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(serviceSecret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	decoded, err := codec.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if decoded.ID() != "fallback-id" {
		t.Fatalf("expected user_id fallback, got %q", decoded.ID())
	}
}
