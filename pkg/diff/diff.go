package diff

import (
	"fmt"
)

// Kind identifies the type of a diff entry.
type Kind int

const (
	// KindAdd marks a key present only in the desired configuration.
	KindAdd Kind = iota

	// KindDelete marks a key present only in the actual configuration.
	KindDelete

	// KindModify marks a key present on both sides with different values.
	KindModify

	// KindNested marks a sub-diff for a mapping stored under the key.
	KindNested
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindDelete:
		return "delete"
	case KindModify:
		return "modify"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "add":
		return KindAdd, nil
	case "delete":
		return KindDelete, nil
	case "modify":
		return KindModify, nil
	case "nested":
		return KindNested, nil
	default:
		return 0, fmt.Errorf("unknown diff entry kind: %q", s)
	}
}

// Entry is a single difference under one key.
type Entry struct {
	// Kind is the entry type.
	Kind Kind

	// Key is the mapping key the entry refers to.
	Key string

	// Old is the actual value. Set for Delete and Modify.
	Old any

	// New is the desired value. Set for Add and Modify.
	New any

	// Child is the sub-diff. Set for Nested.
	Child Diff
}

// Diff is an immutable collection of entries.
type Diff struct {
	entries []Entry
}

// New returns an empty Diff.
func New() Diff {
	return Diff{}
}

// Add returns a copy of d with an Add entry for key.
func (d Diff) Add(key string, value any) Diff {
	return d.with(Entry{Kind: KindAdd, Key: key, New: value})
}

// Delete returns a copy of d with a Delete entry for key.
func (d Diff) Delete(key string, value any) Diff {
	return d.with(Entry{Kind: KindDelete, Key: key, Old: value})
}

// Modify returns a copy of d with a Modify entry for key.
func (d Diff) Modify(key string, oldValue, newValue any) Diff {
	return d.with(Entry{Kind: KindModify, Key: key, Old: oldValue, New: newValue})
}

// WithNested returns a copy of d with child stored under key.
// An empty child is dropped. If d already has a nested diff under key the two
// children are joined.
func (d Diff) WithNested(key string, child Diff) Diff {
	if child.IsEmpty() {
		return d
	}
	if i := d.nestedIndex(key); i >= 0 {
		entries := d.Entries()
		entries[i].Child = entries[i].Child.Join(child)
		return Diff{entries: entries}
	}
	return d.with(Entry{Kind: KindNested, Key: key, Child: child})
}

// Join merges d and other into a new Diff. Every entry of both operands is
// kept; nested entries sharing a key are joined recursively.
func (d Diff) Join(other Diff) Diff {
	if other.IsEmpty() {
		return d
	}
	if d.IsEmpty() {
		return other
	}

	result := Diff{entries: d.Entries()}
	for _, e := range other.entries {
		if e.Kind == KindNested {
			if i := result.nestedIndex(e.Key); i >= 0 {
				result.entries[i].Child = result.entries[i].Child.Join(e.Child)
				continue
			}
		}
		result.entries = append(result.entries, e)
	}
	return result
}

// IsEmpty reports whether d has no entries.
func (d Diff) IsEmpty() bool {
	return len(d.entries) == 0
}

// Len returns the number of top-level entries.
func (d Diff) Len() int {
	return len(d.entries)
}

// Entries returns a copy of the top-level entries in insertion order.
func (d Diff) Entries() []Entry {
	if len(d.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Nested returns the nested diff stored under key, if any.
func (d Diff) Nested(key string) (Diff, bool) {
	if i := d.nestedIndex(key); i >= 0 {
		return d.entries[i].Child, true
	}
	return Diff{}, false
}

// Summary counts the leaf changes of d, descending into nested diffs.
func (d Diff) Summary() Summary {
	var s Summary
	for _, e := range d.entries {
		switch e.Kind {
		case KindAdd:
			s.Added++
		case KindDelete:
			s.Deleted++
		case KindModify:
			s.Modified++
		case KindNested:
			child := e.Child.Summary()
			s.Added += child.Added
			s.Deleted += child.Deleted
			s.Modified += child.Modified
		}
	}
	return s
}

// Summary holds leaf change counts for a Diff.
type Summary struct {
	Added    int `json:"added"`
	Deleted  int `json:"deleted"`
	Modified int `json:"modified"`
}

// Total returns the number of leaf changes.
func (s Summary) Total() int {
	return s.Added + s.Deleted + s.Modified
}

// Change classifies a nested diff by its leaves: KindAdd when every leaf is an
// addition, KindDelete when every leaf is a deletion and KindModify otherwise.
func (d Diff) Change() Kind {
	s := d.Summary()
	switch {
	case s.Added > 0 && s.Deleted == 0 && s.Modified == 0:
		return KindAdd
	case s.Deleted > 0 && s.Added == 0 && s.Modified == 0:
		return KindDelete
	default:
		return KindModify
	}
}

func (d Diff) with(e Entry) Diff {
	entries := make([]Entry, len(d.entries), len(d.entries)+1)
	copy(entries, d.entries)
	return Diff{entries: append(entries, e)}
}

func (d Diff) nestedIndex(key string) int {
	for i, e := range d.entries {
		if e.Kind == KindNested && e.Key == key {
			return i
		}
	}
	return -1
}
