package config

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
)

// starlarkDiff exposes an immutable diff.Diff to scripts. Every method
// returns a new value.
type starlarkDiff struct {
	d diff.Diff
}

var (
	_ starlark.HasAttrs   = starlarkDiff{}
	_ starlark.Comparable = starlarkDiff{}
)

var diffMethods = map[string]*starlark.Builtin{
	"add":         starlark.NewBuiltin("add", diffAdd),
	"delete":      starlark.NewBuiltin("delete", diffDelete),
	"modify":      starlark.NewBuiltin("modify", diffModify),
	"with_nested": starlark.NewBuiltin("with_nested", diffWithNested),
	"join":        starlark.NewBuiltin("join", diffJoin),
	"is_empty":    starlark.NewBuiltin("is_empty", diffIsEmpty),
}

func (v starlarkDiff) String() string        { return v.d.String() }
func (v starlarkDiff) Type() string          { return "diff" }
func (v starlarkDiff) Freeze()               {}
func (v starlarkDiff) Truth() starlark.Bool  { return starlark.Bool(!v.d.IsEmpty()) }
func (v starlarkDiff) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: diff") }

func (v starlarkDiff) Attr(name string) (starlark.Value, error) {
	if m, ok := diffMethods[name]; ok {
		return m.BindReceiver(v), nil
	}
	return nil, nil
}

func (v starlarkDiff) AttrNames() []string {
	names := make([]string, 0, len(diffMethods))
	for name := range diffMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v starlarkDiff) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(starlarkDiff)
	switch op {
	case syntax.EQL:
		return v.d.Equal(other.d), nil
	case syntax.NEQ:
		return !v.d.Equal(other.d), nil
	default:
		return false, fmt.Errorf("%s not supported for diff", op)
	}
}

func diffAdd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}
	goValue, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlarkDiff{b.Receiver().(starlarkDiff).d.Add(key, goValue)}, nil
}

func diffDelete(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}
	goValue, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlarkDiff{b.Receiver().(starlarkDiff).d.Delete(key, goValue)}, nil
}

func diffModify(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var oldValue, newValue starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &key, &oldValue, &newValue); err != nil {
		return nil, err
	}
	goOld, err := fromStarlarkValue(oldValue)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	goNew, err := fromStarlarkValue(newValue)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlarkDiff{b.Receiver().(starlarkDiff).d.Modify(key, goOld, goNew)}, nil
}

func diffWithNested(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var child starlarkDiff
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &child); err != nil {
		return nil, err
	}
	return starlarkDiff{b.Receiver().(starlarkDiff).d.WithNested(key, child.d)}, nil
}

func diffJoin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var other starlarkDiff
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
		return nil, err
	}
	return starlarkDiff{b.Receiver().(starlarkDiff).d.Join(other.d)}, nil
}

func diffIsEmpty(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(b.Receiver().(starlarkDiff).d.IsEmpty()), nil
}

// starlarkReconciler is a reconciler created by a builtin, waiting to be
// registered.
type starlarkReconciler struct {
	r engine.Reconciler
}

var _ starlark.HasAttrs = starlarkReconciler{}

func (v starlarkReconciler) String() string        { return fmt.Sprintf("<reconciler %s>", v.r.Name()) }
func (v starlarkReconciler) Type() string          { return "reconciler" }
func (v starlarkReconciler) Freeze()               {}
func (v starlarkReconciler) Truth() starlark.Bool  { return starlark.True }
func (v starlarkReconciler) Hash() (uint32, error) { return starlark.String(v.r.Name()).Hash() }

func (v starlarkReconciler) Attr(name string) (starlark.Value, error) {
	if name == "name" {
		return starlark.String(v.r.Name()), nil
	}
	return nil, nil
}

func (v starlarkReconciler) AttrNames() []string { return []string{"name"} }

// starlarkEndpoint is a connector source or destination declaration.
type starlarkEndpoint struct {
	kind string
	spec EndpointSpec
}

func (v starlarkEndpoint) String() string        { return fmt.Sprintf("<%s %s>", v.kind, v.spec.Name) }
func (v starlarkEndpoint) Type() string          { return v.kind }
func (v starlarkEndpoint) Freeze()               {}
func (v starlarkEndpoint) Truth() starlark.Bool  { return starlark.True }
func (v starlarkEndpoint) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", v.kind) }

// starlarkConnection is a connector connection declaration.
type starlarkConnection struct {
	spec ConnectionSpec
}

func (v starlarkConnection) String() string        { return fmt.Sprintf("<connector_connection %s>", v.spec.Name) }
func (v starlarkConnection) Type() string          { return "connector_connection" }
func (v starlarkConnection) Freeze()               {}
func (v starlarkConnection) Truth() starlark.Bool  { return starlark.True }
func (v starlarkConnection) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: connector_connection") }

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value. Dicts become
// map[string]any, so they can be compared with diff.Compare.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		return fromStarlarkDict(val)
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) ([]any, error) {
	list := make([]any, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

func fromStarlarkDict(d *starlark.Dict) (map[string]any, error) {
	dict := make(map[string]any, d.Len())
	for _, item := range d.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
		}
		value, err := fromStarlarkValue(item[1])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", string(key), err)
		}
		dict[string(key)] = value
	}
	return dict, nil
}

// starlarkKeyOrder records the insertion order of d and of the dicts nested
// in it.
func starlarkKeyOrder(d *starlark.Dict) *diff.KeyOrder {
	order := &diff.KeyOrder{Keys: make([]string, 0, d.Len())}
	for _, item := range d.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			continue
		}
		order.Keys = append(order.Keys, string(key))
		if child, ok := item[1].(*starlark.Dict); ok {
			if order.Children == nil {
				order.Children = make(map[string]*diff.KeyOrder)
			}
			order.Children[string(key)] = starlarkKeyOrder(child)
		}
	}
	return order
}
