package engine

import (
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// StateSnapshot captures the full mutable state of the engine and its
// dependency cache.
type StateSnapshot struct {
	dep      *depcache.Snapshot
	ext      []ExtState
	newCount int
}

// SnapshotState copies the current state for later RestoreState.
// Resolver experiments use this to try hypothetical changes and roll
// back without disturbing undo history or notifications.
func (e *Engine) SnapshotState() *StateSnapshot {
	ext := make([]ExtState, len(e.states))
	copy(ext, e.states)
	for i := range ext {
		ext[i].Tags = ext[i].Tags.clone()
	}
	return &StateSnapshot{
		dep:      e.dep.Snapshot(),
		ext:      ext,
		newCount: e.newCount,
	}
}

// RestoreState copies snap back verbatim, with no sweep and no undo
// entries: the restored state is the new baseline. The overlay becomes
// dirty and every package that differed is announced through the
// changed-state notification.
func (e *Engine) RestoreState(snap *StateSnapshot) bool {
	if !e.checkReadOnly("restore_state") {
		return false
	}

	var changed []pkggraph.PkgID
	for i := range e.states {
		id := pkggraph.PkgID(i)
		if e.dep.State(id) != snap.dep.States[i] ||
			!e.states[i].same(&snap.ext[i]) {
			changed = append(changed, id)
		}
	}

	e.dep.Restore(snap.dep)
	copy(e.states, snap.ext)
	for i := range e.states {
		e.states[i].Tags = e.states[i].Tags.clone()
	}
	e.newCount = snap.newCount

	e.dirty = true
	e.captureBackup()
	if len(changed) > 0 {
		e.notifyChanged(changed)
	}
	return true
}

// captureBackup refreshes the baseline used for undo generation and
// change detection.
func (e *Engine) captureBackup() {
	e.backup = e.SnapshotState()
}
