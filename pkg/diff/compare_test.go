package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name    string
		desired map[string]any
		actual  map[string]any
		want    Diff
	}{
		{
			name: "both nil",
			want: New(),
		},
		{
			name:    "nested modify",
			desired: map[string]any{"x": map[string]any{"y": 1}},
			actual:  map[string]any{"x": map[string]any{"y": 2}},
			want:    New().WithNested("x", New().Modify("y", 2, 1)),
		},
		{
			name:    "add delete modify",
			desired: map[string]any{"foo": "bar", "same": 1, "changed": "new"},
			actual:  map[string]any{"same": 1, "changed": "old", "gone": true},
			want:    New().Add("foo", "bar").Modify("changed", "old", "new").Delete("gone", true),
		},
		{
			name:    "unchanged nested mapping is omitted",
			desired: map[string]any{"n": map[string]any{"a": 1}, "b": 2},
			actual:  map[string]any{"n": map[string]any{"a": 1}, "b": 3},
			want:    New().Modify("b", 3, 2),
		},
		{
			name:    "mapping without counterpart is expanded",
			desired: map[string]any{"n": map[string]any{"a": 1, "b": map[string]any{"c": 2}}},
			want:    New().WithNested("n", New().Add("a", 1).WithNested("b", New().Add("c", 2))),
		},
		{
			name:    "scalar replaced by mapping",
			desired: map[string]any{"k": map[string]any{"a": 1}},
			actual:  map[string]any{"k": "plain"},
			want:    New().Delete("k", "plain").WithNested("k", New().Add("a", 1)),
		},
		{
			name:    "mapping replaced by scalar",
			desired: map[string]any{"k": "plain"},
			actual:  map[string]any{"k": map[string]any{"a": 1}},
			want:    New().Modify("k", map[string]any{"a": 1}, "plain"),
		},
		{
			name:    "empty mapping is a leaf",
			desired: map[string]any{"k": map[string]any{}},
			want:    New().Add("k", map[string]any{}),
		},
		{
			name:    "numbers compare by value",
			desired: map[string]any{"n": 1},
			actual:  map[string]any{"n": float64(1)},
			want:    New(),
		},
		{
			name:    "large integers compare exactly",
			desired: map[string]any{"id": int64(1<<53 + 1)},
			actual:  map[string]any{"id": int64(1 << 53)},
			want:    New().Modify("id", int64(1<<53), int64(1<<53+1)),
		},
		{
			name:    "large unsigned integers compare exactly",
			desired: map[string]any{"bytes": uint64(1<<63 + 1)},
			actual:  map[string]any{"bytes": uint64(1 << 63)},
			want:    New().Modify("bytes", uint64(1<<63), uint64(1<<63+1)),
		},
		{
			name:    "lists compare element-wise",
			desired: map[string]any{"l": []any{"a", "b"}},
			actual:  map[string]any{"l": []any{"a", "c"}},
			want:    New().Modify("l", []any{"a", "c"}, []any{"a", "b"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.desired, tt.actual)
			if !got.Equal(tt.want) {
				t.Errorf("Compare() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestCompare_EmptyIffEqual(t *testing.T) {
	samples := []map[string]any{
		nil,
		{},
		{"a": 1},
		{"a": 2},
		{"a": "1"},
		{"a": 1, "b": 2},
		{"a": map[string]any{"b": 1}},
		{"a": map[string]any{"b": 2}},
		{"a": map[string]any{}},
		{"a": []any{1, 2}},
		{"a": nil},
		{"a": int64(1 << 53)},
		{"a": int64(1<<53 + 1)},
	}

	for i, a := range samples {
		if d := Compare(a, a); !d.IsEmpty() {
			t.Errorf("Compare(A, A) not empty for %v:\n%s", a, d)
		}
		for j, b := range samples {
			d := Compare(a, b)
			equal := ValuesEqual(mapOrEmpty(a), mapOrEmpty(b))
			if d.IsEmpty() != equal {
				t.Errorf("samples %d/%d: IsEmpty()=%v but equal=%v (diff: %s)\n%s",
					i, j, d.IsEmpty(), equal, d, cmp.Diff(a, b))
			}
		}
	}
}

func TestCompare_OneEntryPerLeaf(t *testing.T) {
	a := map[string]any{
		"top": "v",
		"n": map[string]any{
			"x": 1,
			"deep": map[string]any{
				"y": true,
				"z": []any{"q"},
			},
		},
		"empty": map[string]any{},
	}
	leaves := countLeaves(a)

	adds := Compare(a, nil).Summary()
	if adds.Added != leaves || adds.Deleted != 0 || adds.Modified != 0 {
		t.Errorf("Compare(A, nil) summary = %+v, want %d adds", adds, leaves)
	}

	deletes := Compare(nil, a).Summary()
	if deletes.Deleted != leaves || deletes.Added != 0 || deletes.Modified != 0 {
		t.Errorf("Compare(nil, A) summary = %+v, want %d deletes", deletes, leaves)
	}
}

func TestCompare_Deterministic(t *testing.T) {
	desired := map[string]any{"c": 1, "a": 2, "b": map[string]any{"z": 1, "y": 2}}
	actual := map[string]any{"d": 1, "a": 3, "e": 4}

	first := Compare(desired, actual)
	for i := 0; i < 20; i++ {
		next := Compare(desired, actual)
		if diff := cmp.Diff(keysOf(first), keysOf(next)); diff != "" {
			t.Fatalf("entry order changed between runs (-first +next):\n%s", diff)
		}
	}

	want := []string{"a", "b", "c", "d", "e"}
	if diff := cmp.Diff(want, keysOf(first)); diff != "" {
		t.Errorf("unexpected key order (-want +got):\n%s", diff)
	}
}

func TestValuesEqual_Numbers(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", 1, float64(1), true},
		{"int and fractional float", 1, 1.5, false},
		{"signed and unsigned", int64(7), uint64(7), true},
		{"negative and unsigned", -1, uint64(1<<64 - 1), false},
		{"int64 above float precision", int64(1<<53 + 1), int64(1 << 53), false},
		{"uint64 above float precision", uint64(1<<64 - 1), uint64(1<<64 - 2), false},
		{"float against nearby int64", float64(1 << 53), int64(1<<53 + 1), false},
		{"float against equal int64", float64(1 << 53), int64(1 << 53), true},
		{"float beyond int64 range", float64(1 << 63), int64(1<<63 - 1), false},
		{"float against max uint64", float64(1 << 64), uint64(1<<64 - 1), false},
		{"number and string", 1, "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := ValuesEqual(tt.b, tt.a); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestCompareOrdered(t *testing.T) {
	desired := map[string]any{
		"zone":   "a",
		"labels": map[string]any{"tier": "web", "app": "api"},
		"count":  1,
	}
	actual := map[string]any{"count": 2, "team": "x", "owner": "y"}
	desiredOrder := &KeyOrder{
		Keys:     []string{"zone", "labels", "count"},
		Children: map[string]*KeyOrder{"labels": {Keys: []string{"tier", "app"}}},
	}
	actualOrder := &KeyOrder{Keys: []string{"team", "count"}}

	got := CompareOrdered(desired, actual, desiredOrder, actualOrder)

	// owner is missing from actualOrder and follows the recorded keys.
	want := []string{"zone", "labels", "count", "team", "owner"}
	if diff := cmp.Diff(want, keysOf(got)); diff != "" {
		t.Errorf("unexpected key order (-want +got):\n%s", diff)
	}

	labels, ok := got.Nested("labels")
	if !ok {
		t.Fatal("missing nested labels entry")
	}
	if diff := cmp.Diff([]string{"tier", "app"}, keysOf(labels)); diff != "" {
		t.Errorf("unexpected nested key order (-want +got):\n%s", diff)
	}

	if !got.Equal(Compare(desired, actual)) {
		t.Errorf("CompareOrdered() = %s, differs from Compare()", got)
	}
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func countLeaves(m map[string]any) int {
	n := 0
	for _, v := range m {
		if child, ok := v.(map[string]any); ok && len(child) > 0 {
			n += countLeaves(child)
			continue
		}
		n++
	}
	return n
}

func keysOf(d Diff) []string {
	var keys []string
	for _, e := range d.Entries() {
		keys = append(keys, e.Key)
	}
	return keys
}
