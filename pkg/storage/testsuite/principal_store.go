// Package testsuite holds conformance checks shared by every storage backend.
package testsuite

import (
	"context"
	"reflect"
	"testing"

	"github.com/porthorian/sessionauth/pkg/storage"
)

// RunPrincipalStore seeds store through its UserWriter and checks the
// PrincipalStore contract against it. The store must start empty.
func RunPrincipalStore(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	alice, err := store.PutUser(ctx, storage.UserRecord{
		Login:          "alice",
		DisplayName:    "Alice",
		PasswordDigest: "d41d8cd98f00b204e9800998ecf8427e",
		Roles:          []string{"ROLE_USER"},
		Groups: []storage.GroupRecord{
			{Name: "admins", Roles: []string{"ROLE_ADMIN", "ROLE_USER"}},
			{Name: "auditors", Roles: []string{"ROLE_AUDITOR"}},
		},
	})
	if err != nil {
		t.Fatalf("put alice: %v", err)
	}
	if alice.ID <= 0 {
		t.Fatalf("expected assigned id, got %d", alice.ID)
	}

	bob, err := store.PutUser(ctx, storage.UserRecord{
		Login:          "bob",
		DisplayName:    "Bob",
		PasswordDigest: "0cc175b9c0f1b6a831c399e269772661",
	})
	if err != nil {
		t.Fatalf("put bob: %v", err)
	}

	t.Run("FindByLoginExact", func(t *testing.T) {
		got, ok, err := store.FindByLogin(ctx, "alice")
		if err != nil || !ok {
			t.Fatalf("find alice: ok=%v err=%v", ok, err)
		}
		if got.ID != alice.ID || got.DisplayName != "Alice" || got.PasswordDigest != alice.PasswordDigest {
			t.Fatalf("unexpected record %+v", got)
		}
	})

	t.Run("FindByLoginCaseSensitive", func(t *testing.T) {
		if _, ok, err := store.FindByLogin(ctx, "ALICE"); err != nil || ok {
			t.Fatalf("expected no match for different case: ok=%v err=%v", ok, err)
		}
	})

	t.Run("FindByLoginMissing", func(t *testing.T) {
		if _, ok, err := store.FindByLogin(ctx, "nobody"); err != nil || ok {
			t.Fatalf("expected missing login: ok=%v err=%v", ok, err)
		}
	})

	t.Run("FindByID", func(t *testing.T) {
		got, ok, err := store.FindByID(ctx, bob.ID)
		if err != nil || !ok {
			t.Fatalf("find bob: ok=%v err=%v", ok, err)
		}
		if got.Login != "bob" {
			t.Fatalf("unexpected login %q", got.Login)
		}
		if _, ok, err := store.FindByID(ctx, bob.ID+1000); err != nil || ok {
			t.Fatalf("expected missing id: ok=%v err=%v", ok, err)
		}
	})

	t.Run("RolesOfUnion", func(t *testing.T) {
		got, _, err := store.FindByLogin(ctx, "alice")
		if err != nil {
			t.Fatalf("find alice: %v", err)
		}
		roles, err := store.RolesOf(ctx, got)
		if err != nil {
			t.Fatalf("roles of alice: %v", err)
		}
		want := []string{"ROLE_ADMIN", "ROLE_AUDITOR", "ROLE_USER"}
		if !reflect.DeepEqual(roles, want) {
			t.Fatalf("expected %v, got %v", want, roles)
		}
	})

	t.Run("RolesOfNoRoles", func(t *testing.T) {
		roles, err := store.RolesOf(ctx, bob)
		if err != nil {
			t.Fatalf("roles of bob: %v", err)
		}
		if len(roles) != 0 {
			t.Fatalf("expected no roles, got %v", roles)
		}
	})
}
