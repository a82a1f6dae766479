package authz

import (
	"reflect"
	"testing"
)

func TestNormalizeRolesUnionsAndSorts(t *testing.T) {
	got := NormalizeRoles([]string{RoleUser, ""}, []string{RoleAdmin, RoleUser})
	want := []string{RoleAdmin, RoleUser}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestHasRoleIsCaseSensitive(t *testing.T) {
	roles := []string{RoleAdmin}

	if !HasRole(roles, RoleAdmin) {
		t.Fatal("expected exact match")
	}
	if HasRole(roles, "role_admin") {
		t.Fatal("expected case-sensitive mismatch")
	}
	if HasRole(roles, "") {
		t.Fatal("expected empty role to never match")
	}
}

func TestHasAnyAndAllRoles(t *testing.T) {
	roles := []string{RoleAdmin, RoleUser}

	if !HasAnyRole(roles, "ROLE_AUDITOR", RoleUser) {
		t.Fatal("expected any-match")
	}
	if HasAllRoles(roles, RoleUser, "ROLE_AUDITOR") {
		t.Fatal("expected all-match to fail")
	}
	if !HasAllRoles(roles, RoleAdmin, RoleUser) {
		t.Fatal("expected all-match")
	}
}

func TestFromRoles(t *testing.T) {
	got := FromRoles([]string{RoleUser})
	if len(got) != 1 || got[0] != Authority(RoleUser) {
		t.Fatalf("unexpected authorities %v", got)
	}
}
