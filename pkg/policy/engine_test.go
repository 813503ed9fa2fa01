package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

// plainPackage is an installed, automatically installed library with
// nothing protecting it.
func plainPackage(name string) *PackageInfo {
	return &PackageInfo{
		Name:         name,
		Architecture: "amd64",
		Version:      "1.0-1",
		Priority:     "optional",
		Installed:    true,
		Auto:         true,
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("no builtin policies loaded")
	}

	expected := []string{
		"protected-essential",
		"protected-kernel",
		"protected-self",
		"protected-pinned",
	}
	for _, want := range expected {
		found := false
		for _, p := range policies {
			if p.Name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("builtin policy %s not found", want)
		}
	}
}

func TestNewEngineWithoutBuiltins(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, false, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if n := len(eng.ListPolicies()); n != 0 {
		t.Errorf("expected no policies, got %d", n)
	}
}

func TestBuiltinProtection(t *testing.T) {
	eng := newTestEngine(t)

	essential := plainPackage("libc6")
	essential.Essential = true

	required := plainPackage("dpkg")
	required.Priority = "required"
	required.Auto = false

	kernel := plainPackage("linux-image-6.1.0-18-amd64")
	headers := plainPackage("linux-headers-6.1.0-18-amd64")

	availableKernel := plainPackage("linux-image-6.5.0-1-amd64")
	availableKernel.Installed = false

	self := plainPackage("depmark")
	self.Auto = false

	pinned := plainPackage("libssl3")
	pinned.Tags = []string{"pin"}

	tagged := plainPackage("nginx")
	tagged.Tags = []string{"role:web"}

	tests := []struct {
		name      string
		input     *PackageInput
		protected bool
		policy    string
	}{
		{"plain auto library", &PackageInput{Package: plainPackage("libfoo1")}, false, ""},
		{"essential package", &PackageInput{Package: essential}, true, "protected-essential"},
		{"required priority", &PackageInput{Package: required}, true, "protected-essential"},
		{"installed kernel image", &PackageInput{Package: kernel}, true, "protected-kernel"},
		{"installed kernel headers", &PackageInput{Package: headers}, true, "protected-kernel"},
		{"available kernel image", &PackageInput{Package: availableKernel}, false, ""},
		{"self package", &PackageInput{Package: self, Self: "depmark"}, true, "protected-self"},
		{"self name without self set", &PackageInput{Package: self}, false, ""},
		{"pinned tag", &PackageInput{Package: pinned}, true, "protected-pinned"},
		{"unrelated tag", &PackageInput{Package: tagged}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePackage(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("EvaluatePackage: %v", err)
			}

			if result.Protected != tt.protected {
				t.Errorf("expected protected=%v, got %v. Violations: %+v",
					tt.protected, result.Protected, result.Violations)
			}

			if tt.policy != "" {
				if len(result.Violations) == 0 {
					t.Fatal("expected a violation")
				}
				if got := result.Violations[0].Policy; got != tt.policy {
					t.Errorf("expected policy %s, got %s", tt.policy, got)
				}
			} else if len(result.Violations) != 0 {
				t.Errorf("expected no violations, got %+v", result.Violations)
			}
		})
	}
}

func TestEvaluatePackageResult(t *testing.T) {
	eng := newTestEngine(t)

	pkg := plainPackage("libc6")
	pkg.Essential = true

	result, err := eng.EvaluatePackage(context.Background(), &PackageInput{Package: pkg, Action: "sweep"})
	if err != nil {
		t.Fatalf("EvaluatePackage: %v", err)
	}

	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("expected 4 evaluated policies, got %d: %v",
			len(result.EvaluatedPolicies), result.EvaluatedPolicies)
	}

	if len(result.Violations) == 0 {
		t.Fatal("expected violations for an essential package")
	}
	v := result.Violations[0]
	if v.Policy != "protected-essential" {
		t.Errorf("expected policy protected-essential, got %s", v.Policy)
	}
	if v.Package != "libc6" {
		t.Errorf("expected package libc6, got %s", v.Package)
	}
	if v.Severity != SeverityCritical {
		t.Errorf("expected severity critical, got %s", v.Severity)
	}
	if v.Message == "" {
		t.Error("violation has no message")
	}
	if v.DetectedAt.IsZero() {
		t.Error("violation has zero DetectedAt")
	}
}

func TestEvaluatePackageNilInput(t *testing.T) {
	eng := newTestEngine(t)

	if _, err := eng.EvaluatePackage(context.Background(), nil); err == nil {
		t.Error("expected error for nil input")
	}
	if _, err := eng.EvaluatePackage(context.Background(), &PackageInput{}); err == nil {
		t.Error("expected error for input without a package")
	}

	// The convenience form fails open.
	if eng.Protected(context.Background(), &PackageInput{}) {
		t.Error("Protected should fail open on bad input")
	}
}

func TestCustomPolicy(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "no-remove-crypt",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package depmark.policies.nocrypt

import rego.v1

protect contains violation if {
	input.action == "remove"
	input.package.name == "libcrypt1"

	violation := sprintf("%s cannot be removed", [input.package.name])
}`,
	}

	if err := eng.SetPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}

	input := &PackageInput{Package: plainPackage("libcrypt1"), Action: "remove"}
	result, err := eng.EvaluatePackage(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluatePackage: %v", err)
	}

	if !result.Protected {
		t.Fatal("expected the custom policy to protect libcrypt1 from remove")
	}
	if result.Violations[0].Message != "libcrypt1 cannot be removed" {
		t.Errorf("unexpected message: %q", result.Violations[0].Message)
	}
	// String violations inherit the policy's default severity.
	if result.Violations[0].Severity != SeverityError {
		t.Errorf("expected severity error, got %s", result.Violations[0].Severity)
	}

	// Same package, different action: not protected by this policy.
	input.Action = "sweep"
	result, err = eng.EvaluatePackage(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluatePackage: %v", err)
	}
	if result.Protected {
		t.Errorf("sweep action should not match, got %+v", result.Violations)
	}
}

func TestStaticData(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, false, map[string]interface{}{
		"blessed": []interface{}{"mariadb-server", "postgresql-15"},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	blessed := Policy{
		Name:     "blessed-list",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package depmark.policies.blessed

import rego.v1

protect contains violation if {
	some name in data.runtime.blessed
	input.package.name == name

	violation := {
		"message": sprintf("%s is on the blessed list", [name]),
		"severity": "error",
		"package": name,
	}
}`,
	}
	if err := eng.SetPolicies(context.Background(), []Policy{blessed}); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}

	if !eng.Protected(context.Background(), &PackageInput{Package: plainPackage("mariadb-server")}) {
		t.Error("expected mariadb-server to be protected via data.runtime")
	}
	if eng.Protected(context.Background(), &PackageInput{Package: plainPackage("redis-server")}) {
		t.Error("redis-server should not be protected")
	}
}

func TestSetPoliciesReplaces(t *testing.T) {
	eng := newTestEngine(t)

	first := Policy{
		Name:     "first",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego:     "package depmark.policies.first\n\nimport rego.v1\n\nprotect contains v if {\n\tinput.package.name == \"aaa\"\n\tv := \"aaa\"\n}",
	}
	second := Policy{
		Name:     "second",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego:     "package depmark.policies.second\n\nimport rego.v1\n\nprotect contains v if {\n\tinput.package.name == \"bbb\"\n\tv := \"bbb\"\n}",
	}

	if err := eng.SetPolicies(context.Background(), []Policy{first}); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}
	if err := eng.SetPolicies(context.Background(), []Policy{second}); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}

	if _, err := eng.GetPolicy("first"); err == nil {
		t.Error("first should have been replaced")
	}
	if _, err := eng.GetPolicy("second"); err != nil {
		t.Errorf("second should be loaded: %v", err)
	}
	// Builtins survive replacement.
	if _, err := eng.GetPolicy("protected-essential"); err != nil {
		t.Errorf("builtin should survive SetPolicies: %v", err)
	}
}

func TestSetPoliciesRollback(t *testing.T) {
	eng := newTestEngine(t)

	good := Policy{
		Name:     "good",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego:     "package depmark.policies.good\n\nimport rego.v1\n\nprotect contains v if {\n\tinput.package.name == \"aaa\"\n\tv := \"aaa\"\n}",
	}
	if err := eng.SetPolicies(context.Background(), []Policy{good}); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}

	bad := Policy{
		Name:     "bad",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego:     "this is not rego",
	}
	if err := eng.SetPolicies(context.Background(), []Policy{bad}); err == nil {
		t.Fatal("expected compile error")
	}

	// The failed replacement must leave the previous set intact.
	if _, err := eng.GetPolicy("good"); err != nil {
		t.Errorf("previous set should survive a failed reload: %v", err)
	}
	if _, err := eng.GetPolicy("bad"); err == nil {
		t.Error("bad policy should not be loaded")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	pkg := plainPackage("libc6")
	pkg.Essential = true
	input := &PackageInput{Package: pkg}

	if !eng.Protected(context.Background(), input) {
		t.Fatal("essential package should start protected")
	}

	if err := eng.DisablePolicy("protected-essential"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	p, err := eng.GetPolicy("protected-essential")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if p.Enabled {
		t.Error("policy should be disabled")
	}

	if eng.Protected(context.Background(), input) {
		t.Error("disabled policy should not protect")
	}

	if err := eng.EnablePolicy("protected-essential"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	if !eng.Protected(context.Background(), input) {
		t.Error("re-enabled policy should protect again")
	}
}

func TestInfoSeverityDoesNotProtect(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, false, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	advisory := Policy{
		Name:     "advisory",
		Severity: SeverityInfo,
		Enabled:  true,
		Rego: `package depmark.policies.advisory

import rego.v1

protect contains violation if {
	input.package.auto

	violation := {
		"message": "automatically installed",
		"severity": "info",
		"package": input.package.name,
	}
}`,
	}
	if err := eng.SetPolicies(context.Background(), []Policy{advisory}); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}

	result, err := eng.EvaluatePackage(context.Background(), &PackageInput{Package: plainPackage("libfoo1")})
	if err != nil {
		t.Fatalf("EvaluatePackage: %v", err)
	}

	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	if result.Protected {
		t.Error("info severity must annotate without protecting")
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	eng := newTestEngine(t)

	if _, err := eng.GetPolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if err := eng.EnablePolicy("no-such-policy"); err == nil {
		t.Error("expected error enabling unknown policy")
	}
	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error disabling unknown policy")
	}
}

func TestListPoliciesSorted(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("no policies returned")
	}

	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name >= policies[i].Name {
			t.Errorf("policies not sorted: %s before %s", policies[i-1].Name, policies[i].Name)
		}
	}
	for _, p := range policies {
		if p.Name == "" {
			t.Error("policy has empty name")
		}
		if p.Rego == "" {
			t.Error("policy has empty Rego source")
		}
	}
}
