package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authcore "github.com/oncosaferx/authcore"
	"github.com/oncosaferx/authcore/token"
)

var testSecret = []byte("httpapi-test-service-secret-0001")

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.Token.ServiceSecret = testSecret
	cfg.MFA.EncryptionKey = bytes.Repeat([]byte{0x24}, 32)

	engine, err := authcore.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	api := New(engine, ReadyProbe{})
	return api, api.Handler()
}

func bearerFor(t *testing.T, sub, email, role string) string {
	t.Helper()
	claims := token.Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

// totpFor computes the current six digit code for a base32 secret, the
// same derivation an authenticator app performs.
func totpFor(t *testing.T, secretBase32 string) string {
	t.Helper()
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	require.NoError(t, err)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(time.Now().Unix()/30))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	return fmt.Sprintf("%06d", bin%1000000)
}

func doJSON(t *testing.T, handler http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func TestMFASetupRequiresAuth(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/setup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMFASetupAndEnableFlow(t *testing.T) {
	_, handler := newTestAPI(t)
	auth := bearerFor(t, "u1", "nurse@hospital.test", "nurse")

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/setup", auth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	setup := decodeJSON(t, rr)
	require.NotEmpty(t, setup["secret"])
	require.Len(t, setup["backupCodes"], 10)
	assert.Contains(t, setup["qrCode"], "otpauth://totp/")

	// A wrong code does not enable.
	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify-setup", auth,
		map[string]string{"token": "000000"})
	if rr.Code == http.StatusOK {
		t.Skip("generated TOTP collided with the fixed wrong code")
	}
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// The real code enables.
	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify-setup", auth,
		map[string]string{"token": totpFor(t, setup["secret"].(string))})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeJSON(t, rr)["success"])

	// Enabling twice fails.
	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify-setup", auth,
		map[string]string{"token": totpFor(t, setup["secret"].(string))})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeJSON(t, rr)["error"], "already enabled")

	// Status reflects the enabled credential.
	rr = doJSON(t, handler, http.MethodGet, "/api/auth/mfa/status", auth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decodeJSON(t, rr)
	assert.Equal(t, true, status["enabled"])
	assert.EqualValues(t, 10, status["backupCodesRemaining"])
}

func TestMFAVerifySetsSessionFlag(t *testing.T) {
	api, handler := newTestAPI(t)
	auth := bearerFor(t, "u1", "nurse@hospital.test", "nurse")

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/setup", auth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	secret := decodeJSON(t, rr)["secret"].(string)

	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify-setup", auth,
		map[string]string{"token": totpFor(t, secret)})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify", auth,
		map[string]string{"token": totpFor(t, secret)})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["verified"])

	assert.True(t, api.engine.MFAVerified(httptest.NewRequest("GET", "/", nil).Context(), "u1"))
}

func TestMFAVerifyRejectsOtherUser(t *testing.T) {
	_, handler := newTestAPI(t)
	auth := bearerFor(t, "u1", "nurse@hospital.test", "nurse")

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify", auth,
		map[string]string{"userId": "victim", "token": "123456"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMFAVerifyLockout(t *testing.T) {
	_, handler := newTestAPI(t)
	auth := bearerFor(t, "u1", "nurse@hospital.test", "nurse")

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/setup", auth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	secret := decodeJSON(t, rr)["secret"].(string)

	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify-setup", auth,
		map[string]string{"token": totpFor(t, secret)})
	require.Equal(t, http.StatusOK, rr.Code)

	for i := 0; i < 5; i++ {
		rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify", auth,
			map[string]string{"token": "000000"})
		if rr.Code == http.StatusOK {
			t.Skip("generated TOTP collided with the fixed wrong code")
		}
		require.Equal(t, http.StatusBadRequest, rr.Code, "attempt %d", i+1)
	}

	// Correct code while locked is still rejected, without lockout detail.
	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify", auth,
		map[string]string{"token": totpFor(t, secret)})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeJSON(t, rr)
	assert.Contains(t, body["error"], "locked")
	assert.NotContains(t, body, "lockedUntil")
	assert.NotContains(t, body, "remainingAttempts")
}

func TestAdminDisableRequiresAdminRole(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/admin/mfa/disable",
		bearerFor(t, "u2", "nurse@hospital.test", "nurse"),
		map[string]string{"userId": "u1", "reason": "lost device"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminDisableFlow(t *testing.T) {
	_, handler := newTestAPI(t)
	userAuth := bearerFor(t, "u1", "nurse@hospital.test", "nurse")
	adminAuth := bearerFor(t, "adm", "admin@hospital.test", "admin")

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/setup", userAuth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	secret := decodeJSON(t, rr)["secret"].(string)
	rr = doJSON(t, handler, http.MethodPost, "/api/auth/mfa/verify-setup", userAuth,
		map[string]string{"token": totpFor(t, secret)})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, handler, http.MethodPost, "/api/admin/mfa/disable", adminAuth,
		map[string]string{"userId": "u1", "reason": "lost device"})
	require.Equal(t, http.StatusOK, rr.Code)

	// The credential is gone.
	rr = doJSON(t, handler, http.MethodGet, "/api/auth/mfa/status", userAuth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeJSON(t, rr)["enabled"])
}

func TestAdminDisableRequiresReason(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/admin/mfa/disable",
		bearerFor(t, "adm", "admin@hospital.test", "admin"),
		map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditRecentReturnsVerifiedRecords(t *testing.T) {
	_, handler := newTestAPI(t)
	userAuth := bearerFor(t, "u1", "nurse@hospital.test", "nurse")
	adminAuth := bearerFor(t, "adm", "admin@hospital.test", "admin")

	// Generate some audit activity.
	rr := doJSON(t, handler, http.MethodPost, "/api/auth/mfa/setup", userAuth, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, handler, http.MethodGet, "/api/admin/audit/recent?limit=10", adminAuth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, true, body["checksumsVerified"])
	records, ok := body["records"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, records)
}

func TestAuditRecentNonAdminForbidden(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, http.MethodGet, "/api/admin/audit/recent",
		bearerFor(t, "u1", "nurse@hospital.test", "nurse"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthz(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
