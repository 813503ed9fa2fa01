package policy

import (
	"time"
)

// GetBuiltinPolicies returns the stock protection policies. They encode
// the floor every Debian-ish system expects: nothing Essential, no
// running kernel, not the package manager itself, nothing the user
// pinned by hand.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		essentialPolicy(),
		kernelPolicy(),
		selfPolicy(),
		pinnedPolicy(),
	}
}

// essentialPolicy protects Essential packages and the required/important
// priority tiers.
func essentialPolicy() Policy {
	return Policy{
		Name:        "protected-essential",
		Description: "Keeps Essential and required-priority packages out of any removal set",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"protection", "base"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package depmark.policies.essential

import rego.v1

protect contains violation if {
	input.package.essential

	violation := {
		"message": sprintf("%s is an Essential package", [input.package.name]),
		"severity": "critical",
		"package": input.package.name,
	}
}

protect contains violation if {
	input.package.priority in {"required", "important"}

	violation := {
		"message": sprintf("%s has priority %s", [input.package.name, input.package.priority]),
		"severity": "error",
		"package": input.package.name,
	}
}`,
	}
}

// kernelPolicy protects installed kernel images, headers and modules,
// mirroring apt's never-autoremove defaults.
func kernelPolicy() Policy {
	return Policy{
		Name:        "protected-kernel",
		Description: "Keeps installed kernel images, headers and module packages",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"protection", "kernel"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package depmark.policies.kernel

import rego.v1

protect contains violation if {
	input.package.installed
	regex.match("^linux-(image|headers|modules)-", input.package.name)

	violation := {
		"message": sprintf("%s is an installed kernel package", [input.package.name]),
		"severity": "error",
		"package": input.package.name,
	}
}`,
	}
}

// selfPolicy keeps the package manager from removing itself.
func selfPolicy() Policy {
	return Policy{
		Name:        "protected-self",
		Description: "Keeps the package manager's own package installed",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"protection", "self"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package depmark.policies.self

import rego.v1

protect contains violation if {
	input.self != ""
	input.package.name == input.self

	violation := {
		"message": sprintf("%s is the package manager itself", [input.package.name]),
		"severity": "critical",
		"package": input.package.name,
	}
}`,
	}
}

// pinnedPolicy protects packages carrying the "pin" user tag.
func pinnedPolicy() Policy {
	return Policy{
		Name:        "protected-pinned",
		Description: "Keeps packages the user tagged with pin",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"protection", "tags"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package depmark.policies.pinned

import rego.v1

protect contains violation if {
	some tag in input.package.tags
	tag == "pin"

	violation := {
		"message": sprintf("%s carries the pin tag", [input.package.name]),
		"severity": "warning",
		"package": input.package.name,
	}
}`,
	}
}
