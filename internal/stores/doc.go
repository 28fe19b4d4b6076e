// Package stores provides the persistent backends behind the engine's
// storage interfaces: Postgres for MFA credentials, user profiles, and
// tenant grants; Redis for per-session MFA flags. In-memory fallbacks
// cover tests and single-process dev deployments.
package stores
