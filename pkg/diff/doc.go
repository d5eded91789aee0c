// Package diff provides the structural diff model used by reconcilectl to
// describe the difference between a desired and an actual configuration.
//
// # Overview
//
// A Diff is an immutable, ordered collection of entries. Each entry is one of:
//
//   - Add: the key exists only in the desired configuration
//   - Delete: the key exists only in the actual configuration
//   - Modify: the key exists on both sides with different scalar values
//   - Nested: a sub-diff for a mapping stored under the key
//
// Unchanged keys are never represented. The zero value is an empty Diff and
// means "no difference".
//
// # Building Diffs
//
// Diffs are built incrementally; every builder method returns a new Diff and
// leaves the receiver untouched:
//
//	d := diff.New().
//	    Add("foo", "bar").
//	    Delete("baz", "qux").
//	    WithNested("nested", diff.New().Modify("qwerty", "hjkl", "uiop"))
//
// or derived from two mapping snapshots:
//
//	d := diff.Compare(desired, actual)
//
// # Joining
//
// Join concatenates two diffs. Nested entries that share a key are merged into
// a single Nested entry whose child is the join of both children. Other
// entries are kept as they are, so an Add in one diff and a Delete of the same
// key in another both survive the join.
//
// # Equality
//
// Equal compares entries as a multiset: two diffs describing the same delta
// are equal regardless of the order in which their entries were added.
// Numeric values are compared by value, so int 1 equals float64 1.
//
// # Rendering
//
// String renders a diff as indented text:
//
//	+ foo: bar
//	- baz: qux
//	~ nested:
//	  ~ qwerty: hjkl -> uiop
//
// A Renderer adds optional color and controls indentation.
package diff
