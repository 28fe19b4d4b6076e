// Package token locates bearer credentials on inbound requests and
// verifies them against an ordered set of trusted issuers.
package token

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any credential that cannot be verified.
// Verification failures never escape as panics or library-specific errors;
// callers can map this single sentinel to a uniform 401/403 response.
var ErrInvalidToken = errors.New("invalid token")

const defaultQueryParam = "access_token"

var defaultHeaderNames = []string{
	"X-Forwarded-Authorization",
	"X-Authorization",
	"X-Client-Authorization",
}

var defaultCookieNames = []string{
	"sb-access-token",
	"supabase-access-token",
}

// Claims is the decoded JWT payload consumed by identity resolution.
// Tokens issued by the service carry sub/email/role directly; tokens
// issued by the external identity provider carry the role inside
// user_metadata.
type Claims struct {
	UserID       string `json:"user_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	UserMetadata struct {
		Role string `json:"role,omitempty"`
	} `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// ID returns the canonical user identifier: sub, falling back to user_id.
func (c *Claims) ID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// ResolvedRole returns the role claim, preferring the top-level claim over
// user_metadata.role.
func (c *Claims) ResolvedRole() string {
	if c.Role != "" {
		return c.Role
	}
	return c.UserMetadata.Role
}

// Config defines the trust configuration for a [Codec].
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	// ServiceSecret verifies tokens issued by this service. Required.
	ServiceSecret []byte

	// IdPSecret verifies tokens issued by the external identity provider.
	// Optional; when empty the second verifier strategy is not installed.
	IdPSecret []byte

	// Leeway tolerated on exp/nbf validation.
	Leeway time.Duration

	// Production disables every development-only trust relaxation
	// regardless of the opt-in flags below.
	Production bool

	// AllowInsecureDecode installs an unverified-decode fallback for local
	// development against an identity provider with no shared secret.
	// Inert when Production is true.
	AllowInsecureDecode bool

	// AllowQueryToken permits extraction from the query string. Inert when
	// Production is true.
	AllowQueryToken bool

	// QueryParam names the query-string parameter checked when
	// AllowQueryToken is effective. Defaults to "access_token".
	QueryParam string

	// HeaderNames and CookieNames override the vendor header and cookie
	// fallback lists. Defaults cover the reverse-proxy and web-client
	// transports the service sits behind.
	HeaderNames []string
	CookieNames []string
}

// verifier is a single issuer strategy: it either produces claims or
// reports that the token is not one of its own. Strategies are tried in
// order, so adding a third issuer is a one-line change in NewCodec.
type verifier func(tokenStr string) (*Claims, error)

// Codec extracts and verifies bearer tokens.
type Codec struct {
	config    Config
	verifiers []verifier
}

// NewCodec validates cfg and builds the ordered verifier chain:
// service secret first, then the identity-provider secret when configured,
// then (outside production only, behind an explicit opt-in) an unverified
// decode.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway configuration")
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = defaultQueryParam
	}
	if cfg.HeaderNames == nil {
		cfg.HeaderNames = defaultHeaderNames
	}
	if cfg.CookieNames == nil {
		cfg.CookieNames = defaultCookieNames
	}

	c := &Codec{config: cfg}
	if len(cfg.ServiceSecret) > 0 {
		c.verifiers = append(c.verifiers, c.hmacVerifier(cfg.ServiceSecret))
	}
	if len(cfg.IdPSecret) > 0 {
		c.verifiers = append(c.verifiers, c.hmacVerifier(cfg.IdPSecret))
	}
	// The unverified-decode strategy is excluded at construction time in
	// production; no runtime flag can reintroduce it.
	if !cfg.Production && cfg.AllowInsecureDecode {
		c.verifiers = append(c.verifiers, insecureVerifier)
	}
	if len(c.verifiers) == 0 {
		return nil, errors.New("token: no verification strategy configured")
	}

	return c, nil
}

// Extract locates a bearer token on r, checking transports in order:
// the Authorization header (Bearer scheme or a raw JWT), the forwarded
// and vendor-prefixed headers, the identity-provider cookies, and finally
// the query string when that path is enabled and the codec is not in
// production. The bool result reports whether a candidate was found.
func (c *Codec) Extract(r *http.Request) (string, bool) {
	if tok, ok := fromHeaderValue(r.Header.Get("Authorization")); ok {
		return tok, true
	}

	for _, name := range c.config.HeaderNames {
		if tok, ok := fromHeaderValue(r.Header.Get(name)); ok {
			return tok, true
		}
	}

	for _, name := range c.config.CookieNames {
		cookie, err := r.Cookie(name)
		if err == nil && cookie.Value != "" {
			return cookie.Value, true
		}
	}

	if !c.config.Production && c.config.AllowQueryToken {
		if tok := r.URL.Query().Get(c.config.QueryParam); tok != "" {
			return tok, true
		}
	}

	return "", false
}

// Verify runs the token through each issuer strategy in order and returns
// the first successful decode. All failures collapse to [ErrInvalidToken].
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	for _, verify := range c.verifiers {
		claims, err := verify(tokenStr)
		if err != nil {
			continue
		}
		if claims.ID() == "" {
			continue
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (c *Codec) hmacVerifier(secret []byte) verifier {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	parser := jwt.NewParser(options...)

	return func(tokenStr string) (*Claims, error) {
		tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return secret, nil
		})
		if err != nil {
			return nil, err
		}
		claims, ok := tok.Claims.(*Claims)
		if !ok || !tok.Valid {
			return nil, jwt.ErrTokenInvalidClaims
		}
		return claims, nil
	}
}

// insecureVerifier decodes without signature verification. Installed only
// outside production behind an explicit opt-in; see Config.AllowInsecureDecode.
func insecureVerifier(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, jwt.ErrTokenExpired
	}
	return claims, nil
}

// fromHeaderValue accepts "Bearer <token>" or a raw compact JWT.
func fromHeaderValue(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	const bearer = "Bearer "
	if len(value) > len(bearer) && strings.EqualFold(value[:len(bearer)], bearer) {
		tok := strings.TrimSpace(value[len(bearer):])
		return tok, tok != ""
	}

	// Raw token without a scheme: only accept values shaped like a JWT so
	// unrelated header contents are not mistaken for credentials.
	if strings.Count(value, ".") == 2 && !strings.ContainsAny(value, " \t") {
		return value, true
	}

	return "", false
}
