package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
)

func writePolicyFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadFromPaths(t *testing.T) {
	dir := writePolicyFiles(t, map[string]string{
		"a.rego":        scopeRego,
		"nested/b.json": `{"name": "b", "rego": "package b"}`,
		"nested/c.yaml": "name: c\nseverity: warning\nenabled: false\nrego: |\n  package c\n",
		"bad.json":      `{`,
		"broken.rego":   "package",
		"unnamed.yml":   "rego: package d\n",
		"loud.yaml":     "name: loud\nseverity: fatal\nrego: package e\n",
		"readme.md":     "ignored",
	})

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir, filepath.Join(dir, "missing")})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	byName := make(map[string]Policy)
	for _, p := range policies {
		if p.Source == "" {
			t.Errorf("%s: source not recorded", p.Name)
		}
		byName[p.Name] = p
	}
	if len(byName) != 3 {
		t.Fatalf("loaded %v, want a, b and c", byName)
	}

	if a := byName["a"]; a.Severity != SeverityError || !a.Enabled {
		t.Errorf("a = %+v", a)
	}
	if a := byName["a"]; a.Description != "Property templates must live below Assets/Templates." {
		t.Errorf("a description = %q", a.Description)
	}
	if b := byName["b"]; b.Severity != SeverityError || !b.Enabled {
		t.Errorf("b = %+v", b)
	}
	if c := byName["c"]; c.Severity != SeverityWarning || c.Enabled {
		t.Errorf("c = %+v", c)
	}
}

func TestLoadFromPathsNamedFile(t *testing.T) {
	dir := writePolicyFiles(t, map[string]string{"broken.rego": "package"})

	_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{filepath.Join(dir, "broken.rego")})
	if err == nil {
		t.Fatal("a named file that fails to parse must be an error")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		module string
		want   string
	}{
		{"# first\n# second\npackage x\n", "first second"},
		{"package x\n\n# only\n\nimport rego.v1\n", "only"},
		{"# head\n\n# tail\npackage x\n", "head"},
		{"package x\n", ""},
	}
	for _, tt := range tests {
		module, err := ast.ParseModule("test.rego", tt.module)
		if err != nil {
			t.Fatalf("ParseModule(%q): %v", tt.module, err)
		}
		if got := describe(module); got != tt.want {
			t.Errorf("describe(%q) = %q, want %q", tt.module, got, tt.want)
		}
	}
}

func TestResultBlocking(t *testing.T) {
	r := &Result{Allowed: true}
	r.add(Violation{Policy: "naming", Message: "lowercase", Severity: SeverityWarning})
	if !r.Allowed {
		t.Fatal("a warning must not reject the profile")
	}
	r.add(Violation{Policy: "scope", Message: "outside Assets", Severity: SeverityCritical})
	if r.Allowed {
		t.Fatal("a critical violation must reject the profile")
	}
	blocking := r.Blocking()
	if len(blocking) != 1 || blocking[0].String() != "scope: outside Assets" {
		t.Errorf("Blocking() = %v", blocking)
	}
}
