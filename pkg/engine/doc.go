// Package engine implements the depmark selection engine.
//
// # Overview
//
// The engine layers sticky selection state over a depcache.Cache. Where
// the dependency layer answers "what would happen", the engine records
// "what the user asked for" and keeps both in sync through a grouped
// mutation workflow:
//
//  1. Mark - Request installs, removals, holds and candidate overrides
//  2. Expand - Pull in dependencies and push out newly unused packages
//  3. Sweep - Reclaim automatically installed packages nothing needs
//  4. Reconcile - Reinstate swept packages whose removal would conflict
//  5. Record - Diff against the pre-group baseline into undo entries
//  6. Notify - Deliver the changed package set to registered listeners
//
// # Core Domain Types
//
// The package defines the state the dependency layer does not track:
//
//   - ExtState: Per-package selection, remove reason, candidate
//     override, forbidden version, tags and the new flag
//   - RemoveReason: Why a package became scheduled for removal
//   - UndoGroup: Reversible record of one grouped mutation
//   - StateSnapshot: Full copy of engine plus dependency state
//   - Choice: One resolver decision to apply (install, keep or remove)
//   - SweepStats: What the last orphan sweep collected or reinstated
//
// # Action Groups
//
// Every mutation runs inside an action group. Groups nest; the
// expensive work happens once, when the outermost group closes:
//
//	ag := e.BeginActionGroup(undo)
//	e.MarkInstall(pkg, false, false, undo)
//	e.MarkDelete(other, false, false, undo)
//	ag.End() // sweep, undo capture, notifications
//
// Mutators called without an open group create one internally, so
// single operations behave the same as batches.
//
// # Error Classification
//
// Errors are classified for callers that retry or report:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: State conflicts such as a read-only cache
//   - Permanent: Non-recoverable errors such as validation failures
//
// Mutators report problems through the engine's ErrorSink and return
// false rather than failing hard, which matches how batched selection
// edits are consumed. File operations return classified errors.
//
// # Persistence
//
// LoadOverlay and SaveOverlay carry the selection state across runs in
// a tag/value state file, including selections other tools made behind
// the engine's back, which are re-adopted on load.
//
// # Thread Safety
//
// An Engine is not safe for concurrent use. Callers serialize access;
// the cmd layer owns the engine from a single goroutine.
package engine
