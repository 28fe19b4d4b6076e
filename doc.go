// Package authcore implements the authentication and authorization core
// of the OncoSafeRx platform: multi-issuer JWT verification, identity
// resolution with superadmin elevation, TOTP multi-factor authentication
// with backup codes and attempt lockout, tenant-scoped RBAC guards, and
// an append-only audit trail with per-record integrity checksums.
//
// The root package exposes the [Engine], which wires a [token.Codec], an
// [IdentityResolver], an [mfa.Service], an [rbac.Checker], and the audit
// trail behind a single construction point built with [Builder]. HTTP
// integration lives in the middleware and httpapi packages; storage
// backends live under internal/stores.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
package authcore
