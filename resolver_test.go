package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oncosaferx/authcore/token"
)

type stubProfiles struct {
	roles map[string]string
	err   error
}

func (s *stubProfiles) RoleByEmail(_ context.Context, email string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.roles[email], nil
}

func claimsFor(sub, email, role string) *token.Claims {
	return &token.Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: sub,
		},
	}
}

func TestResolveBasePrincipal(t *testing.T) {
	r := NewIdentityResolver(ResolverConfig{}, nil, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "a@b.com", "pharmacist"))
	if p.ID != "u1" || p.Email != "a@b.com" || p.Role != RolePharmacist {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestResolveDefaultsRoleToUser(t *testing.T) {
	r := NewIdentityResolver(ResolverConfig{}, nil, nil)

	for _, raw := range []string{"", "janitor", "SUPER_ADMIN_WANNABE"} {
		p := r.Resolve(context.Background(), claimsFor("u1", "a@b.com", raw))
		if p.Role != RoleUser {
			t.Fatalf("role %q resolved to %q, want user", raw, p.Role)
		}
	}
}

func TestResolvePhysicianAlias(t *testing.T) {
	r := NewIdentityResolver(ResolverConfig{}, nil, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "a@b.com", "physician"))
	if p.Role != RoleOncologist {
		t.Fatalf("physician alias resolved to %q, want oncologist", p.Role)
	}
}

func TestProfileRoleOverridesTokenRole(t *testing.T) {
	profiles := &stubProfiles{roles: map[string]string{"a@b.com": "oncologist"}}
	r := NewIdentityResolver(ResolverConfig{}, profiles, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "a@b.com", "nurse"))
	if p.Role != RoleOncologist {
		t.Fatalf("expected profile role to win over token role, got %q", p.Role)
	}
}

func TestHydrationFailureKeepsTokenRole(t *testing.T) {
	profiles := &stubProfiles{err: errors.New("profile store down")}
	r := NewIdentityResolver(ResolverConfig{}, profiles, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "a@b.com", "nurse"))
	if p.Role != RoleNurse {
		t.Fatalf("hydration failure must not change the role, got %q", p.Role)
	}
}

func TestAllowListBeatsProfileDowngrade(t *testing.T) {
	// The profile store reports a lower role for an allow-listed address;
	// elevation runs after hydration and must win.
	profiles := &stubProfiles{roles: map[string]string{"boss@hospital.test": "student"}}
	r := NewIdentityResolver(ResolverConfig{
		SuperAdminEmails: []string{"Boss@Hospital.Test"},
	}, profiles, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "boss@hospital.test", "user"))
	if p.Role != RoleSuperAdmin {
		t.Fatalf("allow-listed address resolved to %q, want super_admin", p.Role)
	}
}

func TestBootstrapAdminElevated(t *testing.T) {
	r := NewIdentityResolver(ResolverConfig{
		BootstrapAdminEmail: "root@hospital.test",
	}, nil, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "ROOT@hospital.test", "user"))
	if p.Role != RoleSuperAdmin {
		t.Fatalf("bootstrap address resolved to %q, want super_admin", p.Role)
	}
}

func TestEmptyEmailNeverElevated(t *testing.T) {
	r := NewIdentityResolver(ResolverConfig{
		SuperAdminEmails: []string{""},
	}, nil, nil)

	p := r.Resolve(context.Background(), claimsFor("u1", "", "user"))
	if p.Role == RoleSuperAdmin {
		t.Fatal("empty email must never match the allow-list")
	}
}

func TestRoleOrdering(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleOncologist) {
		t.Fatal("admin must outrank oncologist")
	}
	if RoleNurse.AtLeast(RolePharmacist) {
		t.Fatal("nurse must not outrank pharmacist")
	}
	if !RoleSuperAdmin.AtLeast(RoleAdmin) {
		t.Fatal("super_admin must outrank admin")
	}
}
