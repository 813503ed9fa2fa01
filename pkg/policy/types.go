package policy

import (
	"time"
)

// Severity ranks how strongly a policy objects to touching a package.
type Severity string

const (
	// SeverityInfo is for advisory matches that never block anything.
	SeverityInfo Severity = "info"

	// SeverityWarning is for matches worth surfacing to the user.
	SeverityWarning Severity = "warning"

	// SeverityError is for matches that protect the package.
	SeverityError Severity = "error"

	// SeverityCritical is for matches on packages the system cannot
	// function without.
	SeverityCritical Severity = "critical"
)

// Policy is one Rego protection rule. The Rego source must declare a
// "protect" rule; every value it produces for an input package becomes
// a Violation.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description explains what the policy protects and why.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations. A rule can
	// override it per violation.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy participates in evaluation.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, e.g. the source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was first loaded.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation records one protection match against a package.
type Violation struct {
	// Policy is the name of the policy that matched.
	Policy string `json:"policy"`

	// Package names the protected package.
	Package string `json:"package,omitempty"`

	// Message explains why the package is protected.
	Message string `json:"message"`

	// Severity is the severity of this particular match.
	Severity Severity `json:"severity"`

	// Details contains the raw violation object produced by the rule.
	Details map[string]interface{} `json:"details,omitempty"`

	// DetectedAt is when the violation was produced.
	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating all enabled policies against one
// package.
type Result struct {
	// Protected is true when at least one policy matched.
	Protected bool `json:"protected"`

	// Violations lists all matches, in policy-name order.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate and were
	// skipped. An evaluation failure never protects a package.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation started.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// PackageInfo is the package document a policy sees as input.package.
// The graph supplies the archive-derived fields; the auto flag and user
// tags come from the selection layer.
type PackageInfo struct {
	Name         string   `json:"name"`
	Architecture string   `json:"architecture,omitempty"`
	Version      string   `json:"version,omitempty"`
	Candidate    string   `json:"candidate,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	Essential    bool     `json:"essential"`
	Important    bool     `json:"important"`
	Installed    bool     `json:"installed"`
	Auto         bool     `json:"auto"`
	Tags         []string `json:"tags,omitempty"`
}

// PackageInput is the full input document for one evaluation.
type PackageInput struct {
	// Package is the package under evaluation.
	Package *PackageInfo `json:"package"`

	// Action is the operation being vetted, e.g. "remove", "purge" or
	// "sweep". Empty means a general protection query.
	Action string `json:"action,omitempty"`

	// Self is the name of the package manager's own package, so
	// policies can refuse to saw off the branch they sit on.
	Self string `json:"self,omitempty"`

	// DryRun indicates the evaluation is informational only.
	DryRun bool `json:"dry_run,omitempty"`
}

// Bundle is a JSON file carrying several policies as one unit.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
