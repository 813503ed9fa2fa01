package engine

import (
	"sort"
	"strings"
	"unicode"

	"github.com/depmark/depmark/pkg/pkggraph"
)

// TagRef is an interned user tag name.
type TagRef int32

// TagRegistry interns tag names so per-package tag sets store small
// references instead of repeated strings.
type TagRegistry struct {
	names []string
	index map[string]TagRef
}

// NewTagRegistry returns an empty registry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{index: make(map[string]TagRef)}
}

// Intern returns the reference for name, allocating one if needed.
func (r *TagRegistry) Intern(name string) TagRef {
	if ref, ok := r.index[name]; ok {
		return ref
	}
	ref := TagRef(len(r.names))
	r.names = append(r.names, name)
	r.index[name] = ref
	return ref
}

// Lookup returns the reference for name and whether it is interned.
func (r *TagRegistry) Lookup(name string) (TagRef, bool) {
	ref, ok := r.index[name]
	return ref, ok
}

// Name returns the string for ref.
func (r *TagRegistry) Name(ref TagRef) string {
	return r.names[ref]
}

// TagSet is a set of interned tags, kept sorted by reference.
type TagSet []TagRef

// Has reports whether ref is in the set.
func (t TagSet) Has(ref TagRef) bool {
	i := sort.Search(len(t), func(i int) bool { return t[i] >= ref })
	return i < len(t) && t[i] == ref
}

// insert returns the set with ref added.
func (t TagSet) insert(ref TagRef) TagSet {
	i := sort.Search(len(t), func(i int) bool { return t[i] >= ref })
	if i < len(t) && t[i] == ref {
		return t
	}
	t = append(t, 0)
	copy(t[i+1:], t[i:])
	t[i] = ref
	return t
}

// remove returns the set with ref removed.
func (t TagSet) remove(ref TagRef) TagSet {
	i := sort.Search(len(t), func(i int) bool { return t[i] >= ref })
	if i >= len(t) || t[i] != ref {
		return t
	}
	return append(t[:i], t[i+1:]...)
}

// clone returns an independent copy of the set.
func (t TagSet) clone() TagSet {
	if len(t) == 0 {
		return nil
	}
	out := make(TagSet, len(t))
	copy(out, t)
	return out
}

// equal reports whether two sets hold the same tags.
func (t TagSet) equal(o TagSet) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// Names returns the tag names in lexical order.
func (t TagSet) Names(reg *TagRegistry) []string {
	if len(t) == 0 {
		return nil
	}
	out := make([]string, len(t))
	for i, ref := range t {
		out[i] = reg.Name(ref)
	}
	sort.Strings(out)
	return out
}

// validUserTag reports whether name can be stored and round-tripped.
// Whitespace and commas separate tags in the state file, so names must
// be non-empty and contain neither.
func validUserTag(name string) bool {
	if name == "" || strings.ContainsRune(name, ',') {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// parseUserTags splits a state-file tag field into a set. Tags are
// separated by any run of whitespace or commas.
func parseUserTags(reg *TagRegistry, field string) TagSet {
	var set TagSet
	for _, name := range strings.FieldsFunc(field, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}) {
		set = set.insert(reg.Intern(name))
	}
	return set
}

// formatUserTags renders a set for the state file.
func formatUserTags(reg *TagRegistry, set TagSet) string {
	return strings.Join(set.Names(reg), " ")
}

// AttachUserTag adds a user tag to pkg. Attaching a tag that is already
// present succeeds without marking the cache dirty.
func (e *Engine) AttachUserTag(pkg pkggraph.PkgID, tag string, undo *UndoGroup) bool {
	if !e.checkReadOnly("attach_user_tag") {
		return false
	}
	if !validUserTag(tag) {
		e.sink.Error(NewPermanentError("invalid user tag", nil).
			WithCode(ErrCodeValidation).
			WithResource(e.g.Pkg(pkg).Name).
			WithOperation("attach_user_tag").
			WithDetail("tag", tag))
		return false
	}
	ref := e.tags.Intern(tag)
	st := e.ext(pkg)
	if st.Tags.Has(ref) {
		e.sink.Notice("user tag %q already present on %s", tag, e.g.Pkg(pkg).Name)
		return true
	}
	st.Tags = st.Tags.insert(ref)
	e.dirty = true
	if undo != nil {
		undo.Add(UndoItem{Kind: UndoDetachTag, Pkg: pkg, Tag: ref})
	}
	return true
}

// DetachUserTag removes a user tag from pkg.
func (e *Engine) DetachUserTag(pkg pkggraph.PkgID, tag string, undo *UndoGroup) bool {
	if !e.checkReadOnly("detach_user_tag") {
		return false
	}
	if !validUserTag(tag) {
		e.sink.Error(NewPermanentError("invalid user tag", nil).
			WithCode(ErrCodeValidation).
			WithResource(e.g.Pkg(pkg).Name).
			WithOperation("detach_user_tag").
			WithDetail("tag", tag))
		return false
	}
	ref, ok := e.tags.Lookup(tag)
	st := e.ext(pkg)
	if !ok || !st.Tags.Has(ref) {
		e.sink.Error(NewPermanentError("user tag not present", nil).
			WithCode(ErrCodeNotFound).
			WithResource(e.g.Pkg(pkg).Name).
			WithOperation("detach_user_tag").
			WithDetail("tag", tag))
		return false
	}
	st.Tags = st.Tags.remove(ref)
	e.dirty = true
	if undo != nil {
		undo.Add(UndoItem{Kind: UndoAttachTag, Pkg: pkg, Tag: ref})
	}
	return true
}
