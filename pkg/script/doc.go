// Package script runs Starlark batch files against the selection
// engine.
//
// A batch file is ordinary Starlark with the engine's operations
// available as built-in functions:
//
//	for name in ["nginx", "certbot"]:
//	    install(name)
//	hold("linux-image-amd64")
//	if not remove("obsolete-tool", purge=True):
//	    print("obsolete-tool was refused")
//
// Mutating built-ins (install, remove, purge, keep, hold, unhold,
// mark_auto, unmark_auto, forbid_version, set_candidate, tag, untag,
// forget_new, upgrade_all) return True when the engine accepted the
// request. Query built-ins (state, upgradable, stats) read without
// modifying anything. Package arguments take the "name" or "name:arch"
// form.
//
// The whole file executes inside one action group: the unused-package
// sweep runs once, a single changed-state notification covers every
// package the script touched, and the undo group passed to Run rolls
// the entire batch back as a unit. Scripts are plain computation plus
// engine calls; they cannot reach the filesystem or the network.
package script
