package rbac

import (
	"context"
	"errors"
	"testing"
)

func newTestChecker(t *testing.T) (*Checker, *StaticOracle) {
	t.Helper()
	oracle := NewStaticOracle()
	checker, err := NewChecker(oracle, Config{})
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}
	return checker, oracle
}

func TestRequirePermission(t *testing.T) {
	checker, oracle := newTestChecker(t)
	ctx := context.Background()
	oracle.Grant("T1", "u1", "pharmacist", 40, "drugs.read", "drugs.dispense")

	dec, err := checker.RequirePermission(ctx, "u1", "T1", "drugs.dispense")
	if err != nil {
		t.Fatalf("RequirePermission failed: %v", err)
	}
	if dec.TenantID != "T1" || dec.UserID != "u1" {
		t.Fatalf("decision carries wrong context: %+v", dec)
	}
	if !dec.Has("drugs.read") || !dec.Has("drugs.dispense") {
		t.Fatalf("decision permission set incomplete: %v", dec.Permissions)
	}

	if _, err := checker.RequirePermission(ctx, "u1", "T1", "users.manage"); !errors.Is(err, ErrInsufficientPermission) {
		t.Fatalf("expected ErrInsufficientPermission, got %v", err)
	}
}

func TestRequirePermissionNonMember(t *testing.T) {
	checker, oracle := newTestChecker(t)
	oracle.Grant("T1", "u1", "nurse", 30, "drugs.read")

	// Membership is checked before the permission, so a non-member with a
	// hypothetically matching grant elsewhere is still rejected.
	if _, err := checker.RequirePermission(context.Background(), "u1", "T2", "drugs.read"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestRequireAnyPermission(t *testing.T) {
	checker, oracle := newTestChecker(t)
	ctx := context.Background()
	oracle.Grant("T1", "u1", "nurse", 30, "drugs.read")

	if _, err := checker.RequireAnyPermission(ctx, "u1", "T1", []string{"users.manage", "drugs.read"}); err != nil {
		t.Fatalf("RequireAnyPermission failed: %v", err)
	}
	if _, err := checker.RequireAnyPermission(ctx, "u1", "T1", []string{"users.manage", "audit.read"}); !errors.Is(err, ErrInsufficientPermission) {
		t.Fatalf("expected ErrInsufficientPermission, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	checker, oracle := newTestChecker(t)
	ctx := context.Background()
	oracle.Grant("T1", "u1", "oncologist", 50, "patients.read")

	if _, err := checker.RequireRole(ctx, "u1", "T1", "oncologist"); err != nil {
		t.Fatalf("RequireRole failed: %v", err)
	}
	// Role comparison is case-insensitive.
	if _, err := checker.RequireRole(ctx, "u1", "T1", "Oncologist"); err != nil {
		t.Fatalf("RequireRole case-insensitive match failed: %v", err)
	}
	if _, err := checker.RequireRole(ctx, "u1", "T1", "admin"); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole, got %v", err)
	}
}

func TestRequireMinRoleLevel(t *testing.T) {
	checker, oracle := newTestChecker(t)
	ctx := context.Background()
	oracle.Grant("T1", "u1", "nurse", 30)

	if _, err := checker.RequireMinRoleLevel(ctx, "u1", "T1", 30); err != nil {
		t.Fatalf("RequireMinRoleLevel at exact level failed: %v", err)
	}
	if _, err := checker.RequireMinRoleLevel(ctx, "u1", "T1", 40); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole, got %v", err)
	}
}

func TestEnforceTenant(t *testing.T) {
	checker, _ := newTestChecker(t)

	if err := checker.EnforceTenant("T1", ""); err != nil {
		t.Fatalf("empty body tenant must pass: %v", err)
	}
	if err := checker.EnforceTenant("T1", "T1"); err != nil {
		t.Fatalf("matching body tenant must pass: %v", err)
	}
	if err := checker.EnforceTenant("T1", "T2"); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %v", err)
	}
}

func TestOracleFailureFailsClosed(t *testing.T) {
	checker, err := NewChecker(brokenOracle{}, Config{})
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}

	if _, err := checker.RequirePermission(context.Background(), "u1", "T1", "drugs.read"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := checker.RequireMinRoleLevel(context.Background(), "u1", "T1", 10); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type brokenOracle struct{}

var errOracleDown = errors.New("oracle down")

func (brokenOracle) IsMember(context.Context, string, string) (bool, error) {
	return false, errOracleDown
}
func (brokenOracle) HasPermission(context.Context, string, string, string) (bool, error) {
	return false, errOracleDown
}
func (brokenOracle) Permissions(context.Context, string, string) ([]string, error) {
	return nil, errOracleDown
}
func (brokenOracle) HasRole(context.Context, string, string, string) (bool, error) {
	return false, errOracleDown
}
func (brokenOracle) RoleLevel(context.Context, string, string) (int, error) {
	return 0, errOracleDown
}
