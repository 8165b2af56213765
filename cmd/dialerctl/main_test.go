package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "dialerctl dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestScriptValidate_OK(t *testing.T) {
	p := writeFile(t, "ok.yaml", `
name: Survey
states:
  HELLO:
    prompt: Hello!
    transitions:
      positive: BYE
  BYE:
    prompt: Bye.
`)
	out, err := run(t, "script", "validate", p)
	if err != nil {
		t.Fatalf("validate: %v (%s)", err, out)
	}
	if !strings.Contains(out, "ok (2 states)") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestScriptValidate_ReportsProblems(t *testing.T) {
	p := writeFile(t, "bad.yaml", `
name: Survey
states:
  HELLO:
    prompt: Hello!
    transitions:
      positive: NOWHERE
`)
	out, err := run(t, "script", "validate", p)
	if err == nil {
		t.Fatalf("expected failure, got %q", out)
	}
	if !strings.Contains(out, "NOWHERE") {
		t.Errorf("problem list should name the missing target, got %q", out)
	}
}

func TestLeadsImport_RequiresCampaign(t *testing.T) {
	if _, err := run(t, "leads", "import", "x.xlsx"); err == nil || !strings.Contains(err.Error(), "--campaign") {
		t.Fatalf("expected --campaign error, got %v", err)
	}
}

func TestRollupsRebuild_RefusesMemoryBackend(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORAGE_BACKEND", "memory")
	_, err := run(t, "rollups", "rebuild")
	if err == nil || !strings.Contains(err.Error(), "STORAGE_BACKEND=postgres") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("JWT_SECRET", "test-secret")

	out, err := run(t, "token", "issue", "--user", "op-7", "--role", "supervisor")
	if err != nil {
		t.Fatalf("issue: %v (%s)", err, out)
	}
	var pair auth.TokenPair
	if err := json.Unmarshal([]byte(out), &pair); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	claims, err := m.Verify(pair.AccessToken, auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "op-7" || claims.Role != "supervisor" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenIssue_UnknownRole(t *testing.T) {
	if _, err := run(t, "token", "issue", "--user", "op-7", "--role", "owner"); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}
