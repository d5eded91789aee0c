package diff

import (
	"bytes"
	"strings"
	"testing"
)

func TestDiff_String(t *testing.T) {
	tests := []struct {
		name string
		d    Diff
		want string
	}{
		{
			name: "empty",
			d:    New(),
			want: "",
		},
		{
			name: "add",
			d:    New().Add("foo", "bar"),
			want: "+ foo: bar",
		},
		{
			name: "delete",
			d:    New().Delete("foo", "bar"),
			want: "- foo: bar",
		},
		{
			name: "modify",
			d:    New().Modify("foo", "bar", "baz"),
			want: "~ foo: bar -> baz",
		},
		{
			name: "grouped by kind",
			d:    New().Modify("qwerty", "hjkl", "uiop").Delete("baz", "qux").Add("foo", "bar"),
			want: "+ foo: bar\n- baz: qux\n~ qwerty: hjkl -> uiop",
		},
		{
			name: "nested additions render as an addition",
			d: New().
				Add("foo", "bar").
				Delete("baz", "qux").
				WithNested("nested", New().Add("qwerty", "uiop").Add("asdf", "zxcv")),
			want: "+ foo: bar\n+ nested:\n  + qwerty: uiop\n  + asdf: zxcv\n- baz: qux",
		},
		{
			name: "nested deletions render as a deletion",
			d: New().
				Add("foo", "bar").
				Delete("baz", "qux").
				WithNested("nested", New().Delete("qwerty", "uiop").Delete("asdf", "zxcv")),
			want: "+ foo: bar\n- baz: qux\n- nested:\n  - qwerty: uiop\n  - asdf: zxcv",
		},
		{
			name: "mixed nested renders as a modification",
			d: New().
				Add("foo", "bar").
				Delete("baz", "qux").
				WithNested("nested", New().Add("qwerty", "uiop").Delete("asdf", "zxcv")),
			want: "+ foo: bar\n- baz: qux\n~ nested:\n  + qwerty: uiop\n  - asdf: zxcv",
		},
		{
			name: "composite values as json",
			d:    New().Add("list", []any{"a", 1}).Delete("none", nil),
			want: "+ list: [\"a\",1]\n- none: null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.String(); got != tt.want {
				t.Errorf("String() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestRenderer_Indent(t *testing.T) {
	d := New().WithNested("n", New().WithNested("m", New().Add("a", 1)))

	got := Renderer{Indent: 4}.Render(d)
	want := "+ n:\n    + m:\n        + a: 1"
	if got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderer_Color(t *testing.T) {
	d := New().Add("foo", "bar")

	got := Renderer{Color: true}.Render(d)
	if !strings.Contains(got, "\x1b[") {
		t.Errorf("expected ANSI escape codes, got %q", got)
	}
	if !strings.Contains(got, "+ foo: bar") {
		t.Errorf("expected rendered entry, got %q", got)
	}
}

func TestRenderer_MultilineModify(t *testing.T) {
	d := New().Modify("script", "line1\nline2\nline3\n", "line1\nchanged\nline3\n")

	got := d.String()
	for _, want := range []string{"~ script:", "  - line2", "  + changed", "    line1"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestRenderer_Fprint(t *testing.T) {
	var buf bytes.Buffer
	if err := (Renderer{}).Fprint(&buf, New()); err != nil {
		t.Fatalf("Fprint() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty diff, got %q", buf.String())
	}

	if err := (Renderer{}).Fprint(&buf, New().Add("a", 1)); err != nil {
		t.Fatalf("Fprint() error = %v", err)
	}
	if buf.String() != "+ a: 1\n" {
		t.Errorf("Fprint() wrote %q", buf.String())
	}
}
