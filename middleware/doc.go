// Package middleware provides the HTTP request guards: authentication,
// session MFA enforcement, tenant-scoped permission checks, and the
// tenant isolation guard for mutating requests. Each guard wraps an
// http.Handler; on success it attaches its result to the request context
// so downstream handlers share one resolution of identity and tenant.
package middleware
