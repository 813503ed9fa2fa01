// Package policy decides which packages are protected from removal,
// using Open Policy Agent's Rego language.
//
// Protection sits in front of the sweep: a protected package counts as
// a reachability root, so it can never be reclaimed as unused, and
// front ends can consult the same verdicts before accepting an explicit
// remove. Policies see one package per evaluation and answer by
// producing "protect" violations.
//
// # Input document
//
// Every evaluation receives a PackageInput serialized as the Rego
// input:
//
//	{
//	    "package": {
//	        "name": "linux-image-6.1.0-18-amd64",
//	        "architecture": "amd64",
//	        "version": "6.1.76-1",
//	        "priority": "optional",
//	        "essential": false,
//	        "installed": true,
//	        "auto": true,
//	        "tags": ["kernel"]
//	    },
//	    "action": "sweep",
//	    "self": "depmark"
//	}
//
// Static engine data, when provided, is visible as data.runtime.
//
// # Writing policies
//
// A policy is a Rego module with a protect rule. Every value the rule
// produces marks the package protected:
//
//	package depmark.policies.dbs
//
//	import rego.v1
//
//	# Never let the sweep take a database server.
//	protect contains violation if {
//	    regex.match("^(postgresql|mariadb)-", input.package.name)
//	    input.package.installed
//
//	    violation := {
//	        "message": sprintf("%s looks like a database server", [input.package.name]),
//	        "severity": "error",
//	        "package": input.package.name,
//	    }
//	}
//
// Violations may be bare strings or objects; objects can override the
// policy's default severity. A violation of severity "info" annotates
// the package without protecting it.
//
// # Builtin policies
//
// Four policies are compiled in by default:
//
//  1. protected-essential - Essential packages and the required and
//     important priority tiers
//  2. protected-kernel - installed linux-image, linux-headers and
//     linux-modules packages
//  3. protected-self - the package manager's own package
//  4. protected-pinned - packages carrying the "pin" user tag
//
// # Loading and reloading
//
// The Loader reads .rego files (name from the file name, description
// from the leading comment block), JSON policy definitions, and JSON
// bundles. Engine.WatchPaths keeps the file-loaded set in sync with
// the directory, debouncing bursts of file events; a reload that fails
// to compile leaves the previous set in place.
//
// # The protector
//
// Protector evaluates the whole graph once and caches the verdicts, so
// the sweep's RootSet hook is a map lookup rather than a Rego run per
// package per walk. Refresh it after graph loads and policy reloads.
package policy
