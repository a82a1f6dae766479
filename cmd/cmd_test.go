package cmd

import (
	"bytes"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"

	"github.com/porthorian/sessionauth/pkg/crypto"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseMigrationStepsArg(t *testing.T) {
	if _, has, err := parseMigrationStepsArg(nil); err != nil || has {
		t.Fatalf("expected no steps, got %v %v", has, err)
	}
	if steps, has, err := parseMigrationStepsArg([]string{" 3 "}); err != nil || !has || steps != 3 {
		t.Fatalf("expected 3 steps, got %d %v %v", steps, has, err)
	}
	for _, bad := range []string{"0", "-1", "two"} {
		if _, _, err := parseMigrationStepsArg([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseForceVersionArg(t *testing.T) {
	if v, err := parseForceVersionArg("-1"); err != nil || v != -1 {
		t.Fatalf("expected -1, got %d %v", v, err)
	}
	if _, err := parseForceVersionArg("-2"); err == nil {
		t.Fatal("expected error for -2")
	}
}

func TestParseMigrationsTableSpec(t *testing.T) {
	cases := map[string]migrationsTableSpec{
		"":                                {},
		"schema_migrations":               {Table: "schema_migrations"},
		" sessionauth.schema_migrations ": {Schema: "sessionauth", Table: "schema_migrations"},
	}
	for input, want := range cases {
		got, err := parseMigrationsTableSpec(input)
		if err != nil || got != want {
			t.Fatalf("%q: expected %+v, got %+v %v", input, want, got, err)
		}
	}
	for _, bad := range []string{"a.b.c", ".table", `"my.schema"."versions"`, "1st.versions", "public.ver-sions"} {
		if _, err := parseMigrationsTableSpec(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestStepsTaken(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		requested int
		want      int
	}{
		{name: "unbounded", want: -1},
		{name: "bounded", requested: 2, want: 2},
		{name: "no change", err: migrate.ErrNoChange, want: 0},
		{name: "past last migration", err: os.ErrNotExist, requested: 3, want: 0},
		{name: "short", err: migrate.ErrShortLimit{Short: 2}, requested: 3, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := stepsTaken(tc.err, tc.requested)
			if err != nil || got != tc.want {
				t.Fatalf("expected %d, got %d %v", tc.want, got, err)
			}
		})
	}

	if _, err := stepsTaken(errors.New("boom"), 1); err == nil {
		t.Fatal("expected unrelated errors to surface")
	}
}

func TestApplyMigrationsTable(t *testing.T) {
	got, err := applyMigrationsTable("postgres://u@localhost/db?sslmode=disable", migrationsTableSpec{Schema: "sessionauth", Table: "schema_migrations"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	parsed, _ := url.Parse(got)
	if parsed.Query().Get("x-migrations-table") != `"sessionauth"."schema_migrations"` || parsed.Query().Get("x-migrations-table-quoted") != "true" {
		t.Fatalf("unexpected url %s", got)
	}

	explicit := "postgres://u@localhost/db?x-migrations-table=custom"
	if got, _ := applyMigrationsTable(explicit, migrationsTableSpec{Table: "other"}); got != explicit {
		t.Fatalf("explicit table must win, got %s", got)
	}
}

func TestResolveMigrationsTable(t *testing.T) {
	t.Setenv(envMigrateMigrationsTable, "")
	if got := resolveMigrationsTable(""); got != defaultMigrationsTable {
		t.Fatalf("expected default, got %q", got)
	}
	t.Setenv(envMigrateMigrationsTable, "public.versions")
	if got := resolveMigrationsTable(""); got != "public.versions" {
		t.Fatalf("expected env value, got %q", got)
	}
	if got := resolveMigrationsTable("flag_table"); got != "flag_table" {
		t.Fatalf("expected flag value, got %q", got)
	}
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv(envMigrateDatabaseURL, "")
	t.Setenv(envDatabaseURL, "")
	if _, err := resolveDatabaseURL(""); err == nil {
		t.Fatal("expected missing url error")
	}
	t.Setenv(envDatabaseURL, "postgres://fallback")
	if got, _ := resolveDatabaseURL(""); got != "postgres://fallback" {
		t.Fatalf("expected fallback env, got %q", got)
	}
	t.Setenv(envMigrateDatabaseURL, "postgres://migrate")
	if got, _ := resolveDatabaseURL(""); got != "postgres://migrate" {
		t.Fatalf("expected migrate env, got %q", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeRoot(t, "version")
	if err != nil || strings.TrimSpace(out) != BuildVersion {
		t.Fatalf("unexpected version output %q %v", out, err)
	}
}

func TestTokenIssueAndVerify(t *testing.T) {
	t.Setenv(envTokenSecret, "")
	out, err := executeRoot(t, "token", "issue", "--secret", "s3cret", "--subject", "42", "--ttl", "1h")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	raw := strings.TrimSpace(out)
	if strings.Count(raw, ".") != 2 {
		t.Fatalf("expected a compact token, got %q", raw)
	}

	out, err = executeRoot(t, "token", "verify", "--secret", "s3cret", raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "status: valid") || !strings.Contains(out, "subject: 42") {
		t.Fatalf("unexpected verify output %q", out)
	}

	out, err = executeRoot(t, "token", "verify", "--secret", "other", raw)
	if err == nil || !strings.Contains(out, "status: malformed_signature") {
		t.Fatalf("expected signature failure, got %q %v", out, err)
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv(envTokenSecret, "")
	if _, err := executeRoot(t, "token", "issue", "--subject", "1"); err == nil {
		t.Fatal("expected missing secret error")
	}
	if _, err := executeRoot(t, "token", "issue", "--secret", "x", "--subject=-5"); err == nil {
		t.Fatal("expected invalid subject error")
	}
}

func TestUserAddRecord(t *testing.T) {
	record, err := userAddInput{
		Login:    " user1 ",
		Password: "password",
		Roles:    []string{"ROLE_USER"},
		Groups:   []string{"admins", " "},
	}.record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Login != "user1" || record.PasswordDigest != crypto.MD5Hex("password") {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(record.Groups) != 1 || record.Groups[0].Name != "admins" {
		t.Fatalf("unexpected groups %+v", record.Groups)
	}

	if _, err := (userAddInput{Login: "o'brien", Password: "x"}).record(); err == nil {
		t.Fatal("expected quoted login to be rejected")
	}
}
