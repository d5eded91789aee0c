package diff

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	symbolAdd    = "+"
	symbolDelete = "-"
	symbolModify = "~"
)

// Renderer turns a Diff into indented text.
type Renderer struct {
	// Color enables ANSI colors regardless of the terminal detection done by
	// fatih/color.
	Color bool

	// Indent is the number of spaces added per nesting level. Defaults to 2.
	Indent int
}

// String renders d without color.
func (d Diff) String() string {
	return Renderer{}.Render(d)
}

// Render returns the text form of d. An empty diff renders as "".
func (r Renderer) Render(d Diff) string {
	var sb strings.Builder
	r.write(&sb, d, 0)
	return strings.TrimSuffix(sb.String(), "\n")
}

// Fprint writes the rendered diff followed by a newline. Nothing is written
// for an empty diff.
func (r Renderer) Fprint(w io.Writer, d Diff) error {
	out := r.Render(d)
	if out == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

func (r Renderer) write(sb *strings.Builder, d Diff, depth int) {
	indent := strings.Repeat(" ", depth*r.indent())

	for _, kind := range []Kind{KindAdd, KindDelete, KindModify} {
		for _, e := range d.entries {
			if e.Kind != kind {
				continue
			}
			r.writeLeaf(sb, indent, e, depth)
		}
		for _, e := range d.entries {
			if e.Kind != KindNested || e.Child.Change() != kind {
				continue
			}
			sb.WriteString(indent)
			sb.WriteString(r.paint(kind, symbolFor(kind)+" "+e.Key+":"))
			sb.WriteString("\n")
			r.write(sb, e.Child, depth+1)
		}
	}
}

func (r Renderer) writeLeaf(sb *strings.Builder, indent string, e Entry, depth int) {
	var line string
	switch e.Kind {
	case KindAdd:
		line = fmt.Sprintf("%s %s: %s", symbolAdd, e.Key, formatValue(e.New))
	case KindDelete:
		line = fmt.Sprintf("%s %s: %s", symbolDelete, e.Key, formatValue(e.Old))
	case KindModify:
		oldStr, oldIsStr := e.Old.(string)
		newStr, newIsStr := e.New.(string)
		if oldIsStr && newIsStr && (strings.Contains(oldStr, "\n") || strings.Contains(newStr, "\n")) {
			sb.WriteString(indent)
			sb.WriteString(r.paint(KindModify, fmt.Sprintf("%s %s:", symbolModify, e.Key)))
			sb.WriteString("\n")
			r.writeLineDiff(sb, strings.Repeat(" ", (depth+1)*r.indent()), oldStr, newStr)
			return
		}
		line = fmt.Sprintf("%s %s: %s -> %s", symbolModify, e.Key, formatValue(e.Old), formatValue(e.New))
	}
	sb.WriteString(indent)
	sb.WriteString(r.paint(e.Kind, line))
	sb.WriteString("\n")
}

// writeLineDiff renders a line-level diff of two multi-line strings.
func (r Renderer) writeLineDiff(sb *strings.Builder, indent, oldText, newText string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		var kind Kind
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind, prefix = KindAdd, symbolAdd
		case diffmatchpatch.DiffDelete:
			kind, prefix = KindDelete, symbolDelete
		default:
			kind, prefix = KindNested, " "
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(indent)
			sb.WriteString(r.paint(kind, prefix+" "+line))
			sb.WriteString("\n")
		}
	}
}

func (r Renderer) indent() int {
	if r.Indent <= 0 {
		return 2
	}
	return r.Indent
}

func (r Renderer) paint(kind Kind, s string) string {
	if !r.Color {
		return s
	}
	var c *color.Color
	switch kind {
	case KindAdd:
		c = color.New(color.FgGreen)
	case KindDelete:
		c = color.New(color.FgRed)
	case KindModify:
		c = color.New(color.FgYellow)
	default:
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

func symbolFor(k Kind) string {
	switch k {
	case KindAdd:
		return symbolAdd
	case KindDelete:
		return symbolDelete
	default:
		return symbolModify
	}
}

// formatValue prints scalars with %v and composite values as compact JSON.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case map[string]any, []any, map[string]string, []string:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
