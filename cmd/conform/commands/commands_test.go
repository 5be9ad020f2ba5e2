package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const testConfig = `
database:
  path: data/resources.db
profile_dirs: [profiles]
callback_dirs: [scripts]
policy_dirs: [policies]
telemetry:
  logging:
    level: error
  metrics:
    enabled: false
`

const testProfile = `
name: textures
run_on_import: true
tasks:
  - type: importer-properties
    name: base
    template: Assets/Textures/Templates/base.png
    properties: [maxTextureSize]
`

const testSeed = `
resources:
  - path: Assets/Textures/Templates/base.png
    importer_type: TextureImporter
    size: 1024
    settings:
      maxTextureSize: 1024
  - path: Assets/Textures/hero.png
    importer_type: TextureImporter
    size: 4096
    labels: [character]
    settings:
      maxTextureSize: 2048
`

// setupWorkspace writes a configuration with one profile and a seed file
// and returns the config path.
func setupWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"conform.yaml": testConfig,
		"profiles/Assets/Textures/textures.yaml": testProfile,
		"seed.yaml":                              testSeed,
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, d := range []string{"scripts", "policies"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "conform.yaml"), filepath.Join(dir, "seed.yaml")
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "now")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAuditAndFix(t *testing.T) {
	cfg, seed := setupWorkspace(t)

	if _, err := run(t, cfg, "resource", "add", seed); err != nil {
		t.Fatalf("resource add: %v", err)
	}

	out, err := run(t, cfg, "resource", "list", "--json")
	if err != nil {
		t.Fatalf("resource list: %v", err)
	}
	var listed []map[string]any
	if err := json.Unmarshal([]byte(out), &listed); err != nil || len(listed) != 2 {
		t.Fatalf("listed = %s (%v)", out, err)
	}

	out, err = run(t, cfg, "audit", "--fail")
	if err == nil {
		t.Fatalf("audit --fail should report the divergence:\n%s", out)
	}
	if !strings.Contains(out, "maxTextureSize: expected 1024, actual 2048") {
		t.Errorf("audit output missing divergence:\n%s", out)
	}

	if _, err := run(t, cfg, "fix", "--task", "base"); err != nil {
		t.Fatalf("fix: %v", err)
	}

	out, err = run(t, cfg, "audit", "--fail", "--json", "Assets/Textures/hero.png")
	if err != nil {
		t.Fatalf("audit after fix: %v\n%s", err, out)
	}
	var reports []reportView
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || !reports[0].Conforms {
		t.Errorf("reports = %+v", reports)
	}

	out, err = run(t, cfg, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.Count(out, "resources,") != 2 {
		t.Errorf("expected two stored audit runs:\n%s", out)
	}
}

func TestResourceShow(t *testing.T) {
	cfg, seed := setupWorkspace(t)
	if _, err := run(t, cfg, "resource", "add", seed); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, cfg, "resource", "show", "Assets/Textures/hero.png")
	if err != nil {
		t.Fatalf("resource show: %v", err)
	}
	for _, want := range []string{"path: Assets/Textures/hero.png", "maxTextureSize: 2048", "- character"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, cfg, "resource", "show", "Assets/missing.png"); err == nil {
		t.Error("expected an error for a missing resource")
	}
}

func TestProfilesList(t *testing.T) {
	cfg, _ := setupWorkspace(t)

	out, err := run(t, cfg, "profiles", "list")
	if err != nil {
		t.Fatalf("profiles list: %v", err)
	}
	if !strings.Contains(out, "textures  Assets/Textures  [on import]") {
		t.Errorf("unexpected listing:\n%s", out)
	}
	if !strings.Contains(out, "base (importer-properties)") {
		t.Errorf("task missing:\n%s", out)
	}
}

func TestResourceAddRejectsInvalidSeed(t *testing.T) {
	cfg, seed := setupWorkspace(t)
	if err := os.WriteFile(seed, []byte("resources:\n  - path: Assets/x.png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, cfg, "resource", "add", seed); err == nil {
		t.Error("a resource without importer type must be rejected")
	}
}

func TestLogLevelFromConfig(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	cfg, _ := setupWorkspace(t)

	SetLogLevel("info")
	if _, err := run(t, cfg, "profiles", "list"); err != nil {
		t.Fatalf("profiles list: %v", err)
	}
	if got := zerolog.GlobalLevel(); got != zerolog.ErrorLevel {
		t.Errorf("global level = %s, want the configured error level", got)
	}

	if _, err := run(t, cfg, "--verbose", "profiles", "list"); err != nil {
		t.Fatalf("profiles list -v: %v", err)
	}
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Errorf("global level = %s with --verbose, want debug", got)
	}
	verbose = false
}
