package diff

import (
	"encoding/json"
	"testing"
)

func TestDiff_Equal(t *testing.T) {
	tests := []struct {
		name string
		a    Diff
		b    Diff
		want bool
	}{
		{
			name: "empty diffs",
			a:    New(),
			b:    Diff{},
			want: true,
		},
		{
			name: "order is ignored",
			a: New().
				Add("foo", "bar").
				Delete("baz", "qux").
				WithNested("nested", New().Modify("qwerty", "hjkl", "uiop").Add("new", "field")),
			b: New().
				WithNested("nested", New().Add("new", "field").Modify("qwerty", "hjkl", "uiop")).
				Delete("baz", "qux").
				Add("foo", "bar"),
			want: true,
		},
		{
			name: "different kind",
			a:    New().Add("foo", "bar"),
			b:    New().Delete("foo", "bar"),
			want: false,
		},
		{
			name: "different value",
			a:    New().Modify("foo", "a", "b"),
			b:    New().Modify("foo", "a", "c"),
			want: false,
		},
		{
			name: "numeric types compare by value",
			a:    New().Add("count", 1),
			b:    New().Add("count", float64(1)),
			want: true,
		},
		{
			name: "duplicates count",
			a:    New().Add("foo", "bar").Add("foo", "bar"),
			b:    New().Add("foo", "bar").Add("baz", "qux"),
			want: false,
		},
		{
			name: "nested children differ",
			a:    New().WithNested("n", New().Add("a", "1")),
			b:    New().WithNested("n", New().Add("a", "2")),
			want: false,
		},
		{
			name: "empty vs non-empty",
			a:    New(),
			b:    New().Add("a", 1),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v\na:\n%s\nb:\n%s", got, tt.want, tt.a, tt.b)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() is not symmetric: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiff_BuildersDoNotMutate(t *testing.T) {
	base := New().Add("foo", "bar")
	_ = base.Add("baz", "qux")
	_ = base.Delete("x", 1)
	_ = base.WithNested("n", New().Add("a", 1))

	if base.Len() != 1 {
		t.Fatalf("expected base to keep 1 entry, got %d", base.Len())
	}

	entries := base.Entries()
	entries[0].Key = "changed"
	if base.Entries()[0].Key != "foo" {
		t.Error("Entries() must return a copy")
	}
}

func TestDiff_WithNested(t *testing.T) {
	t.Run("empty child is dropped", func(t *testing.T) {
		d := New().WithNested("n", New())
		if !d.IsEmpty() {
			t.Errorf("expected empty diff, got:\n%s", d)
		}
	})

	t.Run("same key merges children", func(t *testing.T) {
		d := New().
			WithNested("n", New().Add("a", "1")).
			WithNested("n", New().Add("b", "2"))

		if d.Len() != 1 {
			t.Fatalf("expected 1 top-level entry, got %d", d.Len())
		}
		child, ok := d.Nested("n")
		if !ok {
			t.Fatal("expected nested entry n")
		}
		want := New().Add("a", "1").Add("b", "2")
		if !child.Equal(want) {
			t.Errorf("child = \n%s\nwant\n%s", child, want)
		}
	})
}

func TestDiff_Join(t *testing.T) {
	t.Run("concatenates entries", func(t *testing.T) {
		got := New().Add("foo", "bar").Join(New().Add("baz", "qux"))
		want := New().Add("foo", "bar").Add("baz", "qux")
		if !got.Equal(want) {
			t.Errorf("got\n%s\nwant\n%s", got, want)
		}
	})

	t.Run("keeps distinct nested keys", func(t *testing.T) {
		want := New().
			Add("foo", "bar").
			Delete("baz", "qux").
			WithNested("nested", New().Add("new", "field")).
			WithNested("nested2", New().Add("asdf", "asdf"))

		got := New().
			Add("foo", "bar").
			WithNested("nested", New().Add("new", "field")).
			Join(New().
				Delete("baz", "qux").
				WithNested("nested2", New().Add("asdf", "asdf")))

		if !got.Equal(want) {
			t.Errorf("got\n%s\nwant\n%s", got, want)
		}
	})

	t.Run("merges shared nested keys", func(t *testing.T) {
		d1 := New().Add("x", 1).WithNested("n", New().Add("a", "1"))
		d2 := New().WithNested("n", New().Add("b", "2"))

		got := d1.Join(d2)

		nestedCount := 0
		for _, e := range got.Entries() {
			if e.Kind == KindNested {
				nestedCount++
			}
		}
		if nestedCount != 1 {
			t.Fatalf("expected a single nested entry, got %d", nestedCount)
		}
		child, _ := got.Nested("n")
		if !child.Equal(New().Add("a", "1").Add("b", "2")) {
			t.Errorf("unexpected merged child:\n%s", child)
		}
	})

	t.Run("merges deeply nested keys", func(t *testing.T) {
		d1 := New().WithNested("a", New().WithNested("b", New().Add("x", 1)))
		d2 := New().WithNested("a", New().WithNested("b", New().Delete("y", 2)))

		got := d1.Join(d2)
		want := New().WithNested("a", New().WithNested("b", New().Add("x", 1).Delete("y", 2)))
		if !got.Equal(want) {
			t.Errorf("got\n%s\nwant\n%s", got, want)
		}
	})

	t.Run("does not cancel opposing entries", func(t *testing.T) {
		first := New().
			Add("foo", "bar").
			Add("same", "as").
			WithNested("nested", New().Add("qwerty", "uiop").Add("new", "field"))
		second := New().Delete("foo", "bar")

		got := first.Join(second)

		if got.Len() != 4 {
			t.Fatalf("expected 4 top-level entries, got %d:\n%s", got.Len(), got)
		}
		s := got.Summary()
		if s.Added != 4 || s.Deleted != 1 || s.Modified != 0 {
			t.Errorf("unexpected summary %+v", s)
		}
	})

	t.Run("operands are unchanged", func(t *testing.T) {
		d1 := New().WithNested("n", New().Add("a", "1"))
		d2 := New().WithNested("n", New().Add("b", "2"))
		_ = d1.Join(d2)

		child, _ := d1.Nested("n")
		if child.Len() != 1 {
			t.Errorf("join mutated its receiver: %s", d1)
		}
	})
}

func TestDiff_JoinIdentity(t *testing.T) {
	samples := []Diff{
		New(),
		New().Add("foo", "bar"),
		New().Delete("a", 1).Modify("b", 1, 2).WithNested("n", New().Add("c", true)),
	}

	for _, d := range samples {
		if !New().Join(d).Equal(d) {
			t.Errorf("join(empty, d) != d for\n%s", d)
		}
		if !d.Join(New()).Equal(d) {
			t.Errorf("join(d, empty) != d for\n%s", d)
		}
	}
}

func TestDiff_JoinAssociative(t *testing.T) {
	d1 := New().Add("foo", "bar").WithNested("n", New().Add("a", "1"))
	d2 := New().Delete("foo", "bar").WithNested("n", New().Modify("b", 1, 2)).WithNested("m", New().Add("x", 1))
	d3 := New().WithNested("n", New().WithNested("deep", New().Add("z", 0))).WithNested("m", New().Delete("y", 1))

	left := d1.Join(d2).Join(d3)
	right := d1.Join(d2.Join(d3))

	if !left.Equal(right) {
		t.Errorf("join is not associative:\nleft:\n%s\nright:\n%s", left, right)
	}
}

func TestDiff_JoinCommutativeOnDistinctKeys(t *testing.T) {
	d1 := New().Add("a", 1).WithNested("n", New().Add("x", 1))
	d2 := New().Delete("b", 2).WithNested("m", New().Add("y", 2))

	if !d1.Join(d2).Equal(d2.Join(d1)) {
		t.Error("join should be commutative for distinct top-level keys")
	}
}

func TestDiff_Summary(t *testing.T) {
	d := New().
		Add("a", 1).
		Delete("b", 2).
		Modify("c", 1, 2).
		WithNested("n", New().Add("x", 1).WithNested("deep", New().Delete("y", 1)))

	got := d.Summary()
	want := Summary{Added: 2, Deleted: 2, Modified: 1}
	if got != want {
		t.Errorf("Summary() = %+v, want %+v", got, want)
	}
	if got.Total() != 5 {
		t.Errorf("Total() = %d, want 5", got.Total())
	}
}

func TestDiff_Change(t *testing.T) {
	tests := []struct {
		name string
		d    Diff
		want Kind
	}{
		{"only adds", New().Add("a", 1).WithNested("n", New().Add("b", 2)), KindAdd},
		{"only deletes", New().Delete("a", 1), KindDelete},
		{"mixed", New().Add("a", 1).Delete("b", 2), KindModify},
		{"modify", New().Modify("a", 1, 2), KindModify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.Change(); got != tt.want {
				t.Errorf("Change() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDiff_JSON(t *testing.T) {
	d := New().
		Add("foo", "bar").
		Delete("count", float64(3)).
		Modify("enabled", false, true).
		WithNested("nested", New().Add("qwerty", "uiop"))

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Diff
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.Equal(d) {
		t.Errorf("decoded diff differs:\n%s\nwant\n%s", decoded, d)
	}

	empty, err := json.Marshal(New())
	if err != nil {
		t.Fatalf("Marshal(empty) error = %v", err)
	}
	if string(empty) != "[]" {
		t.Errorf("empty diff encoded as %s, want []", empty)
	}
}

func TestDiff_UnmarshalUnknownKind(t *testing.T) {
	var d Diff
	err := json.Unmarshal([]byte(`[{"kind":"rename","key":"a"}]`), &d)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
