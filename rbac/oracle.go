// Package rbac checks tenant-scoped permissions against an external
// authorization oracle. The package never stores grants itself: it wraps
// the oracle with membership preconditions, bounded timeouts, and a
// fail-closed error policy, and produces the [Decision] that request
// guards attach to the request context.
package rbac

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotMember indicates the user does not belong to the tenant.
	ErrNotMember = errors.New("rbac: user is not a tenant member")
	// ErrInsufficientPermission indicates a permission the user lacks.
	ErrInsufficientPermission = errors.New("rbac: insufficient permission")
	// ErrInsufficientRole indicates the user's tenant role or role level
	// does not satisfy the guard.
	ErrInsufficientRole = errors.New("rbac: insufficient role")
	// ErrTenantMismatch indicates a client-supplied tenant id that
	// disagrees with the resolved tenant context.
	ErrTenantMismatch = errors.New("rbac: tenant mismatch")
	// ErrUnavailable indicates the oracle could not answer. Guards treat
	// this as a denial.
	ErrUnavailable = errors.New("rbac: authorization backend unavailable")
)

// Oracle is the external grant store consulted for every check. All
// lookups are tenant-scoped.
type Oracle interface {
	// IsMember reports whether the user belongs to the tenant.
	IsMember(ctx context.Context, userID, tenantID string) (bool, error)
	// HasPermission reports whether the user holds the permission in the
	// tenant.
	HasPermission(ctx context.Context, userID, tenantID, permission string) (bool, error)
	// Permissions returns the user's full permission set in the tenant.
	Permissions(ctx context.Context, userID, tenantID string) ([]string, error)
	// HasRole reports whether the user holds the named role in the tenant.
	HasRole(ctx context.Context, userID, tenantID, role string) (bool, error)
	// RoleLevel returns the numeric level of the user's tenant role
	// (0 when the user has no role).
	RoleLevel(ctx context.Context, userID, tenantID string) (int, error)
}

// StaticOracle is an in-memory [Oracle] for tests and single-tenant dev
// deployments. Grants are keyed by user within tenant.
type StaticOracle struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*staticGrant
}

type staticGrant struct {
	role        string
	level       int
	permissions map[string]bool
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{tenants: make(map[string]map[string]*staticGrant)}
}

// Grant adds or replaces the user's grant in the tenant.
func (o *StaticOracle) Grant(tenantID, userID, role string, level int, permissions ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	users, ok := o.tenants[tenantID]
	if !ok {
		users = make(map[string]*staticGrant)
		o.tenants[tenantID] = users
	}
	g := &staticGrant{role: role, level: level, permissions: make(map[string]bool, len(permissions))}
	for _, p := range permissions {
		g.permissions[p] = true
	}
	users[userID] = g
}

// Revoke removes the user's grant in the tenant.
func (o *StaticOracle) Revoke(tenantID, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if users, ok := o.tenants[tenantID]; ok {
		delete(users, userID)
	}
}

func (o *StaticOracle) grant(userID, tenantID string) *staticGrant {
	users, ok := o.tenants[tenantID]
	if !ok {
		return nil
	}
	return users[userID]
}

func (o *StaticOracle) IsMember(_ context.Context, userID, tenantID string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.grant(userID, tenantID) != nil, nil
}

func (o *StaticOracle) HasPermission(_ context.Context, userID, tenantID, permission string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g := o.grant(userID, tenantID)
	return g != nil && g.permissions[permission], nil
}

func (o *StaticOracle) Permissions(_ context.Context, userID, tenantID string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g := o.grant(userID, tenantID)
	if g == nil {
		return nil, nil
	}
	out := make([]string, 0, len(g.permissions))
	for p := range g.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (o *StaticOracle) HasRole(_ context.Context, userID, tenantID, role string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g := o.grant(userID, tenantID)
	return g != nil && strings.EqualFold(g.role, role), nil
}

func (o *StaticOracle) RoleLevel(_ context.Context, userID, tenantID string) (int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g := o.grant(userID, tenantID)
	if g == nil {
		return 0, nil
	}
	return g.level, nil
}
