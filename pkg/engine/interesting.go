package engine

import (
	"github.com/depmark/depmark/pkg/pkggraph"
)

// Memo cells for interestingDep.
const (
	memoUncached int8 = iota
	memoYes
	memoNo
)

// interestingDep reports whether dependency dep keeps its target in
// use, memoized per dependency so the sweep's repeated walks classify
// each edge once. The memo is invalidated wholesale when the overlay
// is reset.
func (e *Engine) interestingDep(dep pkggraph.DepID, t pkggraph.DepType) bool {
	if dep < 0 || int(dep) >= len(e.interesting) {
		return e.keepsInUse(t)
	}
	switch e.interesting[dep] {
	case memoYes:
		return true
	case memoNo:
		return false
	}
	v := e.keepsInUse(t)
	if v {
		e.interesting[dep] = memoYes
	} else {
		e.interesting[dep] = memoNo
	}
	return v
}

func (e *Engine) resetInteresting() {
	for i := range e.interesting {
		e.interesting[i] = memoUncached
	}
}
