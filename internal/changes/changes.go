package changes

import (
	"slices"
	"sort"
)

// Entry is the record for one property index. Present means the property
// appeared in the incoming component; Old/New are canonical text values
// before and after the update.
type Entry struct {
	Index   Index
	Present bool
	Old     []string
	New     []string
}

// Changed reports a value transition.
func (e Entry) Changed() bool {
	return !slices.Equal(e.Old, e.New)
}

// Added lists values in New that were not in Old.
func (e Entry) Added() []string { return diff(e.New, e.Old) }

// Removed lists values in Old that are not in New.
func (e Entry) Removed() []string { return diff(e.Old, e.New) }

func diff(a, b []string) []string {
	var out []string
	for _, v := range a {
		if !slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

// Set is the finished, ordered change record for one event as seen by one
// acting principal.
type Set struct {
	Principal string
	Entries   []Entry
}

// Empty reports whether no value changed. Presence marks alone do not count.
func (s *Set) Empty() bool {
	if s == nil {
		return true
	}
	for _, e := range s.Entries {
		if e.Changed() {
			return false
		}
	}
	return true
}

// Get returns the entry for idx.
func (s *Set) Get(idx Index) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	for _, e := range s.Entries {
		if e.Index == idx {
			return e, true
		}
	}
	return Entry{}, false
}

// Changed reports whether idx had a value transition.
func (s *Set) Changed(idx Index) bool {
	e, ok := s.Get(idx)
	return ok && e.Changed()
}

// Present reports whether idx appeared in the incoming data.
func (s *Set) Present(idx Index) bool {
	e, ok := s.Get(idx)
	return ok && e.Present
}

// ChangedIndexes lists every index with a value transition.
func (s *Set) ChangedIndexes() []Index {
	if s == nil {
		return nil
	}
	var out []Index
	for _, e := range s.Entries {
		if e.Changed() {
			out = append(out, e.Index)
		}
	}
	return out
}

// Builder accumulates entries during one translation. It is threaded
// explicitly through ingest and turned into a Set once everything applied.
type Builder struct {
	principal string
	entries   map[Index]*Entry
}

func NewBuilder(principal string) *Builder {
	return &Builder{principal: principal, entries: make(map[Index]*Entry)}
}

func (b *Builder) entry(idx Index) *Entry {
	e, ok := b.entries[idx]
	if !ok {
		e = &Entry{Index: idx}
		b.entries[idx] = e
	}
	return e
}

// MarkPresent records that idx appeared in the incoming component.
func (b *Builder) MarkPresent(idx Index) {
	b.entry(idx).Present = true
}

// Record stores a transition when old and new differ.
func (b *Builder) Record(idx Index, old, new []string) {
	if slices.Equal(old, new) {
		return
	}
	e := b.entry(idx)
	e.Old = slices.Clone(old)
	e.New = slices.Clone(new)
}

// Build returns the ordered Set.
func (b *Builder) Build() *Set {
	s := &Set{Principal: b.principal, Entries: make([]Entry, 0, len(b.entries))}
	for _, e := range b.entries {
		s.Entries = append(s.Entries, *e)
	}
	sort.Slice(s.Entries, func(i, j int) bool { return s.Entries[i].Index < s.Entries[j].Index })
	return s
}

// Merge folds other into s, keeping s's baseline for indexes both touched.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, oe := range other.Entries {
		found := false
		for i := range s.Entries {
			if s.Entries[i].Index != oe.Index {
				continue
			}
			found = true
			s.Entries[i].Present = s.Entries[i].Present || oe.Present
			if oe.Changed() {
				if !s.Entries[i].Changed() {
					s.Entries[i].Old = oe.Old
				}
				s.Entries[i].New = oe.New
			}
		}
		if !found {
			s.Entries = append(s.Entries, oe)
		}
	}
	sort.Slice(s.Entries, func(i, j int) bool { return s.Entries[i].Index < s.Entries[j].Index })
}
