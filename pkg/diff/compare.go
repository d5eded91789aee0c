package diff

import (
	"sort"
)

// KeyOrder records the key order of a mapping and of the mappings nested
// under it. Decoders that preserve insertion order, such as Starlark dicts,
// build one so that Compare can follow it.
type KeyOrder struct {
	Keys     []string
	Children map[string]*KeyOrder
}

// Compare builds the Diff that takes actual to desired.
//
// Keys only in desired become additions, keys only in actual become
// deletions and keys present on both sides with different values become
// modifications. Mappings on both sides are compared recursively and only
// produce a nested entry when something below them differs. A non-empty
// mapping without a counterpart is expanded so that every leaf gets its own
// entry.
//
// Desired keys are visited in sorted order, followed by the sorted keys that
// exist only in actual. A nil map is treated as empty. Compare never fails.
func Compare(desired, actual map[string]any) Diff {
	return CompareOrdered(desired, actual, nil, nil)
}

// CompareOrdered is Compare with explicit key orders for both sides. Keys
// listed in an order are visited in that order; keys it does not list
// follow in sorted order. A nil order sorts every key.
func CompareOrdered(desired, actual map[string]any, desiredOrder, actualOrder *KeyOrder) Diff {
	d := New()

	for _, key := range desiredOrder.keys(desired) {
		want := desired[key]
		have, ok := actual[key]
		if !ok {
			d = d.added(key, want, desiredOrder.child(key))
			continue
		}
		d = d.compareValue(key, want, have, desiredOrder.child(key), actualOrder.child(key))
	}

	for _, key := range actualOrder.keys(actual) {
		if _, ok := desired[key]; ok {
			continue
		}
		d = d.deleted(key, actual[key], actualOrder.child(key))
	}

	return d
}

func (d Diff) compareValue(key string, want, have any, wantOrder, haveOrder *KeyOrder) Diff {
	wantMap, wantIsMap := asMapping(want)
	haveMap, haveIsMap := asMapping(have)

	switch {
	case wantIsMap && haveIsMap:
		return d.WithNested(key, CompareOrdered(wantMap, haveMap, wantOrder, haveOrder))
	case wantIsMap && len(wantMap) > 0:
		return d.Delete(key, have).WithNested(key, CompareOrdered(wantMap, nil, wantOrder, nil))
	case !ValuesEqual(want, have):
		return d.Modify(key, have, want)
	default:
		return d
	}
}

func (d Diff) added(key string, value any, order *KeyOrder) Diff {
	if m, ok := asMapping(value); ok && len(m) > 0 {
		return d.WithNested(key, CompareOrdered(m, nil, order, nil))
	}
	return d.Add(key, value)
}

func (d Diff) deleted(key string, value any, order *KeyOrder) Diff {
	if m, ok := asMapping(value); ok && len(m) > 0 {
		return d.WithNested(key, CompareOrdered(nil, m, nil, order))
	}
	return d.Delete(key, value)
}

func (o *KeyOrder) child(key string) *KeyOrder {
	if o == nil {
		return nil
	}
	return o.Children[key]
}

// keys returns the keys of m, those recorded in o first.
func (o *KeyOrder) keys(m map[string]any) []string {
	if o == nil {
		return sortedKeys(m)
	}

	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range o.Keys {
		if _, ok := m[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}

	rest := make([]string, 0, len(m)-len(keys))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
