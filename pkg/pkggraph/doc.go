// Package pkggraph provides the immutable package universe the selection
// engine operates on: packages, their versions, dependency and provides
// edges, and Debian-style version ordering.
//
// A Graph is built once (from a YAML fixture or programmatically through
// Builder) and never mutated afterwards; reloading is destroy-and-recreate.
// All records are held in dense ID-indexed arrays so per-package auxiliary
// state elsewhere can be a flat slice indexed by PkgID.
package pkggraph
