package scope

import (
	"errors"
	"testing"
)

func TestValidateGlobal(t *testing.T) {
	if err := Validate(global); err != nil {
		t.Fatalf("GLOBAL should always validate, got %v", err)
	}
}

func TestValidateOrgID(t *testing.T) {
	if err := Validate("4c9b6b3e-1a2d-4f3e-9a7b-1234567890ab"); err != nil {
		t.Fatalf("well-formed org id should validate, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-uuid", "GLOBALX", "4c9b6b3e"} {
		if err := Validate(s); !errors.Is(err, ErrInvalidScope) {
			t.Errorf("expected ErrInvalidScope for %q, got %v", s, err)
		}
	}
}

func TestResolveGlobalNeedsNoMembership(t *testing.T) {
	if err := Resolve(global, nil); err != nil {
		t.Fatalf("global scope should resolve without membership, got %v", err)
	}
}

func TestResolveOrgRequiresMatchingMembership(t *testing.T) {
	org := "4c9b6b3e-1a2d-4f3e-9a7b-1234567890ab"

	if err := Resolve(org, nil); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember with nil membership, got %v", err)
	}

	mismatch := &Membership{OrgID: "other-org", UserID: "u1"}
	if err := Resolve(org, mismatch); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember for mismatched org, got %v", err)
	}

	match := &Membership{OrgID: org, UserID: "u1"}
	if err := Resolve(org, match); err != nil {
		t.Fatalf("matching membership should resolve, got %v", err)
	}
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	member := &Membership{OrgID: "org", UserID: "u1", IsAdmin: false}
	if err := RequireAdmin(member); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected error for non-admin member, got %v", err)
	}

	admin := &Membership{OrgID: "org", UserID: "u2", IsAdmin: true}
	if err := RequireAdmin(admin); err != nil {
		t.Fatalf("admin member should pass, got %v", err)
	}
}
