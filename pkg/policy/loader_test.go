package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "no-editors.rego")

	regoContent := `# Keeps text editors around
package depmark.policies.editors

import rego.v1

protect contains msg if {
	input.package.name == "vim"
	msg := "vim stays"
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}

	if policy.Name != "no-editors" {
		t.Errorf("expected name no-editors, got %s", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content does not match")
	}
	if !policy.Enabled {
		t.Error("file policies should be enabled by default")
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("expected default severity warning, got %s", policy.Severity)
	}
	if policy.Description != "Keeps text editors around" {
		t.Errorf("unexpected description: %q", policy.Description)
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("expected source metadata %s, got %v", policyFile, policy.Metadata["source"])
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "pinned-db.json")

	policy := Policy{
		Name:        "pinned-db",
		Description: "Protects the database server",
		Rego:        "package depmark.policies.db\n\nimport rego.v1\n\nprotect contains msg if { false; msg := \"\" }",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"db"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("marshal policy: %v", err)
	}
	if err := os.WriteFile(policyFile, data, 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("expected name %s, got %s", policy.Name, loaded.Name)
	}
	if loaded.Description != policy.Description {
		t.Errorf("expected description %q, got %q", policy.Description, loaded.Description)
	}
	if loaded.Severity != policy.Severity {
		t.Errorf("expected severity %s, got %s", policy.Severity, loaded.Severity)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("CreatedAt should be defaulted")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	policies := map[string]string{
		"one.rego":   "package depmark.policies.one\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }",
		"two.rego":   "package depmark.policies.two\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }",
		"three.rego": "package depmark.policies.three\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }",
	}
	for filename, content := range policies {
		if err := os.WriteFile(filepath.Join(tmpDir, filename), []byte(content), 0o644); err != nil {
			t.Fatalf("write policy file: %v", err)
		}
	}

	// Non-policy files are ignored.
	if err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# policies"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("loadFromDirectory: %v", err)
	}
	if len(loaded) != len(policies) {
		t.Errorf("expected %d policies, got %d", len(policies), len(loaded))
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "site")
	if err := os.Mkdir(subDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files := []string{
		filepath.Join(tmpDir, "outer.rego"),
		filepath.Join(subDir, "inner.rego"),
	}
	for _, f := range files {
		if err := os.WriteFile(f, []byte("package p\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }"), 0o644); err != nil {
			t.Fatalf("write policy file: %v", err)
		}
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("loadFromDirectory: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 policies including the subdirectory, got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	dir := filepath.Join(tmpDir, "policies")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.rego"), []byte("package a\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }"), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	single := filepath.Join(tmpDir, "b.rego")
	if err := os.WriteFile(single, []byte("package b\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }"), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadBundle(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	bundleFile := filepath.Join(tmpDir, "bundle.json")

	bundle := Bundle{
		Name:        "site-protection",
		Version:     "1.0.0",
		Description: "Site protection rules",
		Policies: []Policy{
			{
				Name:     "one",
				Rego:     "package one\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }",
				Severity: SeverityError,
				Enabled:  true,
			},
			{
				Name:     "two",
				Rego:     "package two\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }",
				Severity: SeverityWarning,
				Enabled:  true,
			},
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	if err := os.WriteFile(bundleFile, data, 0o644); err != nil {
		t.Fatalf("write bundle file: %v", err)
	}

	loaded, err := loader.LoadBundle(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}

	if loaded.Name != bundle.Name {
		t.Errorf("expected bundle name %s, got %s", bundle.Name, loaded.Name)
	}
	if loaded.Version != bundle.Version {
		t.Errorf("expected version %s, got %s", bundle.Version, loaded.Version)
	}
	if len(loaded.Policies) != len(bundle.Policies) {
		t.Errorf("expected %d policies, got %d", len(bundle.Policies), len(loaded.Policies))
	}
}

func TestExtractDescription(t *testing.T) {
	loader := newTestLoader()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# Protects the base system
package test`,
			expected: "Protects the base system",
		},
		{
			name: "multi line comments",
			content: `# Protects the base system
# and the running kernel
package test`,
			expected: "Protects the base system and the running kernel",
		},
		{
			name: "no comments",
			content: `package test
protect contains m if { false; m := "" }`,
			expected: "",
		},
		{
			name: "comments with empty lines",
			content: `# First line
#
# Second line
package test`,
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loader.extractDescription(tt.content); got != tt.expected {
				t.Errorf("expected description %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCacheInvalidation(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")
	if err := os.WriteFile(policyFile, []byte("# before\npackage p"), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	first, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if first.Description != "before" {
		t.Fatalf("unexpected description: %q", first.Description)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("expected 1 cache entry, got %d", len(loader.cache))
	}

	// An untouched file is served from cache.
	again, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if again != first {
		t.Error("expected the cached policy for an unchanged file")
	}

	// A rewritten file must not be. Force a distinct mtime; both writes
	// can land within the clock's granularity.
	if err := os.WriteFile(policyFile, []byte("# after\npackage p"), 0o644); err != nil {
		t.Fatalf("rewrite policy file: %v", err)
	}
	bumped := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(policyFile, bumped, bumped); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	updated, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if updated.Description != "after" {
		t.Errorf("expected reloaded description, got %q", updated.Description)
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("expected empty cache after clear, got %d entries", len(loader.cache))
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "policy.txt")
	if err := os.WriteFile(policyFile, []byte("not a policy"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "broken.json")
	if err := os.WriteFile(policyFile, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := newTestLoader()

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("expected error for non-existent path")
	}
}

func TestWatchReload(t *testing.T) {
	loader := newTestLoader()
	tmpDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan []Policy, 8)
	err := loader.Watch(ctx, []string{tmpDir}, func(policies []Policy) error {
		reloads <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	policyFile := filepath.Join(tmpDir, "watched.rego")
	if err := os.WriteFile(policyFile, []byte("package p\n\nimport rego.v1\n\nprotect contains m if { false; m := \"\" }"), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	waitForReload(t, reloads, 1)

	// Deleting the file must reload too, dropping its policy.
	if err := os.Remove(policyFile); err != nil {
		t.Fatalf("remove policy file: %v", err)
	}
	waitForReload(t, reloads, 0)
}

// waitForReload drains reload notifications until one carries want
// policies. Watches are debounced and event counts vary by platform,
// so intermediate reloads are skipped rather than failed.
func waitForReload(t *testing.T, reloads <-chan []Policy, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case policies := <-reloads:
			if len(policies) == want {
				return
			}
		case <-deadline:
			t.Fatalf("no reload with %d policies before timeout", want)
		}
	}
}
