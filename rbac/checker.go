package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

const defaultOracleTimeout = 5 * time.Second

// Decision is the successful outcome of a guard check. It carries the
// resolved tenant and the user's permission set so downstream handlers
// reuse one tenant resolution instead of re-deriving it.
type Decision struct {
	UserID      string
	TenantID    string
	Permissions []string
}

// Has reports whether the decision's permission set contains permission.
func (d *Decision) Has(permission string) bool {
	for _, p := range d.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Config tunes the checker.
type Config struct {
	// OracleTimeout bounds every oracle call. On timeout the check fails
	// closed with ErrUnavailable.
	OracleTimeout time.Duration
}

// Checker wraps an [Oracle] with the membership precondition and the
// fail-closed error policy shared by all guards: an oracle error or
// timeout is always a denial, never an allow.
type Checker struct {
	oracle  Oracle
	timeout time.Duration
}

func NewChecker(oracle Oracle, cfg Config) (*Checker, error) {
	if oracle == nil {
		return nil, errors.New("rbac: oracle is required")
	}
	timeout := cfg.OracleTimeout
	if timeout <= 0 {
		timeout = defaultOracleTimeout
	}
	return &Checker{oracle: oracle, timeout: timeout}, nil
}

// RequirePermission checks membership then the single permission,
// returning the decision on success.
func (c *Checker) RequirePermission(ctx context.Context, userID, tenantID, permission string) (*Decision, error) {
	if err := c.requireMember(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	octx, cancel := c.oracleCtx(ctx)
	defer cancel()
	ok, err := c.oracle.HasPermission(octx, userID, tenantID, permission)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientPermission, permission)
	}
	return c.decision(ctx, userID, tenantID)
}

// RequireAnyPermission succeeds when the user holds at least one of the
// listed permissions.
func (c *Checker) RequireAnyPermission(ctx context.Context, userID, tenantID string, permissions []string) (*Decision, error) {
	if err := c.requireMember(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	for _, permission := range permissions {
		octx, cancel := c.oracleCtx(ctx)
		ok, err := c.oracle.HasPermission(octx, userID, tenantID, permission)
		cancel()
		if err != nil {
			return nil, unavailable(err)
		}
		if ok {
			return c.decision(ctx, userID, tenantID)
		}
	}
	return nil, fmt.Errorf("%w: any of %v", ErrInsufficientPermission, permissions)
}

// RequireRole checks membership then the named tenant role.
func (c *Checker) RequireRole(ctx context.Context, userID, tenantID, role string) (*Decision, error) {
	if err := c.requireMember(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	octx, cancel := c.oracleCtx(ctx)
	defer cancel()
	ok, err := c.oracle.HasRole(octx, userID, tenantID, role)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: role %s required", ErrInsufficientRole, role)
	}
	return c.decision(ctx, userID, tenantID)
}

// RequireMinRoleLevel checks membership then the numeric role level.
func (c *Checker) RequireMinRoleLevel(ctx context.Context, userID, tenantID string, level int) (*Decision, error) {
	if err := c.requireMember(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	octx, cancel := c.oracleCtx(ctx)
	defer cancel()
	have, err := c.oracle.RoleLevel(octx, userID, tenantID)
	if err != nil {
		return nil, unavailable(err)
	}
	if have < level {
		return nil, fmt.Errorf("%w: level %d required, have %d", ErrInsufficientRole, level, have)
	}
	return c.decision(ctx, userID, tenantID)
}

// EnforceTenant validates a client-supplied tenant id against the
// resolved tenant context. An empty bodyTenant is acceptable (the caller
// forces the resolved tenant in); a disagreeing one is rejected.
func (c *Checker) EnforceTenant(resolvedTenant, bodyTenant string) error {
	if bodyTenant == "" || bodyTenant == resolvedTenant {
		return nil
	}
	return fmt.Errorf("%w: body tenant %q, resolved tenant %q", ErrTenantMismatch, bodyTenant, resolvedTenant)
}

func (c *Checker) requireMember(ctx context.Context, userID, tenantID string) error {
	octx, cancel := c.oracleCtx(ctx)
	defer cancel()
	ok, err := c.oracle.IsMember(octx, userID, tenantID)
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return fmt.Errorf("%w: tenant %s", ErrNotMember, tenantID)
	}
	return nil
}

func (c *Checker) decision(ctx context.Context, userID, tenantID string) (*Decision, error) {
	octx, cancel := c.oracleCtx(ctx)
	defer cancel()
	permissions, err := c.oracle.Permissions(octx, userID, tenantID)
	if err != nil {
		return nil, unavailable(err)
	}
	sort.Strings(permissions)
	return &Decision{UserID: userID, TenantID: tenantID, Permissions: permissions}, nil
}

func (c *Checker) oracleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
