// Package depcache maintains the low-level mutable cell attached to every
// package in a pkggraph.Graph: the pending action (keep/delete/install),
// candidate version, auto-installed flag, and the garbage flag computed by
// the root-set marking pass. It knows nothing about selection overlays,
// transactions or persistence; those live in pkg/engine on top of it.
package depcache
