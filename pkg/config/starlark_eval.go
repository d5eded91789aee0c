package config

import (
	"context"
	"fmt"
	"time"

	starjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/reconcilers"
)

// DefaultEvaluationTimeout bounds how long a script may run.
const DefaultEvaluationTimeout = 30 * time.Second

const moduleLocalKey = "reconcilectl.module"

// StarlarkLoader evaluates Starlark modules. A module registers reconcilers
// by calling register() with values built by the reconciler builtins.
type StarlarkLoader struct {
	timeout time.Duration
	factory *ElementFactory
	vars    map[string]any
}

// NewStarlarkLoader creates a Starlark loader. vars are predeclared as
// globals in every module.
func NewStarlarkLoader(timeout time.Duration, factory *ElementFactory, vars map[string]any) *StarlarkLoader {
	if timeout == 0 {
		timeout = DefaultEvaluationTimeout
	}
	if factory == nil {
		factory = NewElementFactory()
	}
	return &StarlarkLoader{
		timeout: timeout,
		factory: factory,
		vars:    vars,
	}
}

// registry collects the reconcilers a module registers.
type registry struct {
	reconcilers []engine.Reconciler
	names       map[string]bool
}

type evalResult struct {
	reconcilers []engine.Reconciler
	err         error
}

// Load executes the script src read from filename and returns the
// registered reconcilers in registration order.
func (sl *StarlarkLoader) Load(ctx context.Context, filename string, src []byte) ([]engine.Reconciler, error) {
	evalCtx, cancel := context.WithTimeout(ctx, sl.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print; module output would mix with the run output.
		},
	}
	reg := &registry{names: make(map[string]bool)}
	thread.SetLocal(moduleLocalKey, reg)

	predeclared, err := sl.predeclared()
	if err != nil {
		return nil, err
	}

	resultCh := make(chan evalResult, 1)
	go func() {
		_, err := starlark.ExecFile(thread, filename, src, predeclared)
		resultCh <- evalResult{reconcilers: reg.reconcilers, err: err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("starlark execution timeout after %v", sl.timeout)
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("starlark execution failed: %w", res.err)
		}
		return res.reconcilers, nil
	}
}

func (sl *StarlarkLoader) predeclared() (starlark.StringDict, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starjson.Module,

		"register":   starlark.NewBuiltin("register", builtinRegister),
		"diff":       starlark.NewBuiltin("diff", builtinDiff),
		"diff_dicts": starlark.NewBuiltin("diff_dicts", builtinDiffDicts),

		"static_reconciler":      starlark.NewBuiltin("static_reconciler", builtinStaticReconciler),
		"message_reconciler":     starlark.NewBuiltin("message_reconciler", builtinMessageReconciler),
		"file_reconciler":        starlark.NewBuiltin("file_reconciler", sl.builtinFileReconciler),
		"remote_file_reconciler": starlark.NewBuiltin("remote_file_reconciler", sl.builtinRemoteFileReconciler),

		"connector_source":      starlark.NewBuiltin("connector_source", builtinConnectorEndpoint),
		"connector_destination": starlark.NewBuiltin("connector_destination", builtinConnectorEndpoint),
		"connector_connection":  starlark.NewBuiltin("connector_connection", builtinConnectorConnection),
		"connector_stack":       starlark.NewBuiltin("connector_stack", sl.builtinConnectorStack),
	}

	for key, val := range sl.vars {
		if _, taken := predeclared[key]; taken {
			return nil, fmt.Errorf("variable %s shadows a builtin", key)
		}
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert variable %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}
	return predeclared, nil
}

func builtinRegister(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rv starlarkReconciler
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &rv); err != nil {
		return nil, err
	}
	reg, ok := thread.Local(moduleLocalKey).(*registry)
	if !ok {
		return nil, fmt.Errorf("%s: called outside of a module", b.Name())
	}
	name := rv.r.Name()
	if reg.names[name] {
		return nil, fmt.Errorf("%s: reconciler %q is already registered", b.Name(), name)
	}
	reg.names[name] = true
	reg.reconcilers = append(reg.reconcilers, rv.r)
	return rv, nil
}

func builtinDiff(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlarkDiff{diff.New()}, nil
}

func builtinDiffDicts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var desired, actual starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "desired", &desired, "actual", &actual); err != nil {
		return nil, err
	}
	want, wantOrder, err := optionalDict(desired)
	if err != nil {
		return nil, fmt.Errorf("%s: desired: %w", b.Name(), err)
	}
	have, haveOrder, err := optionalDict(actual)
	if err != nil {
		return nil, fmt.Errorf("%s: actual: %w", b.Name(), err)
	}
	return starlarkDiff{diff.CompareOrdered(want, have, wantOrder, haveOrder)}, nil
}

// optionalDict converts a dict argument that may be None. None is an empty
// mapping.
func optionalDict(v starlark.Value) (map[string]any, *diff.KeyOrder, error) {
	switch d := v.(type) {
	case starlark.NoneType:
		return nil, nil, nil
	case *starlark.Dict:
		m, err := fromStarlarkDict(d)
		if err != nil {
			return nil, nil, err
		}
		return m, starlarkKeyOrder(d), nil
	default:
		return nil, nil, fmt.Errorf("got %s, want dict or None", v.Type())
	}
}

func builtinStaticReconciler(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var checkDiff starlarkDiff
	var applyDiff starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "diff", &checkDiff, "apply_diff?", &applyDiff); err != nil {
		return nil, err
	}

	if name == "" {
		return nil, fmt.Errorf("%s: name is required", b.Name())
	}

	var apply *diff.Diff
	switch v := applyDiff.(type) {
	case starlark.NoneType:
	case starlarkDiff:
		apply = &v.d
	default:
		return nil, fmt.Errorf("%s: apply_diff must be a diff or None, got %s", b.Name(), applyDiff.Type())
	}
	return starlarkReconciler{reconcilers.NewStatic(name, checkDiff.d, apply)}, nil
}

func builtinMessageReconciler(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, message string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "message", &message); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: name is required", b.Name())
	}
	return starlarkReconciler{reconcilers.NewMessage(name, message)}, nil
}

func (sl *StarlarkLoader) builtinFileReconciler(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, path string
	var desired *starlark.Dict
	format := "json"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "path", &path, "desired", &desired, "format?", &format); err != nil {
		return nil, err
	}
	want, err := fromStarlarkDict(desired)
	if err != nil {
		return nil, fmt.Errorf("%s: desired: %w", b.Name(), err)
	}
	r, err := sl.factory.buildChecked(b.Name(), ElementSpec{
		Name:    name,
		Kind:    KindFile,
		Path:    path,
		Format:  format,
		Desired: want,
	})
	if err != nil {
		return nil, err
	}
	return starlarkReconciler{r}, nil
}

func (sl *StarlarkLoader) builtinRemoteFileReconciler(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, host, user, path string
	var desired *starlark.Dict
	var keyFile starlark.Value = starlark.None
	port := 22
	insecure := false
	format := "json"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "host", &host, "user", &user, "path", &path, "desired", &desired,
		"key_file?", &keyFile, "port?", &port, "insecure?", &insecure, "format?", &format); err != nil {
		return nil, err
	}
	want, err := fromStarlarkDict(desired)
	if err != nil {
		return nil, fmt.Errorf("%s: desired: %w", b.Name(), err)
	}
	spec := ElementSpec{
		Name:     name,
		Kind:     KindRemoteFile,
		Host:     host,
		User:     user,
		Path:     path,
		Port:     port,
		Insecure: insecure,
		Format:   format,
		Desired:  want,
	}
	switch v := keyFile.(type) {
	case starlark.NoneType:
	case starlark.String:
		spec.KeyFile = string(v)
	default:
		return nil, fmt.Errorf("%s: key_file must be a string or None, got %s", b.Name(), keyFile.Type())
	}

	r, err := sl.factory.buildChecked(b.Name(), spec)
	if err != nil {
		return nil, err
	}
	return starlarkReconciler{r}, nil
}

func builtinConnectorEndpoint(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, typ string
	config := starlark.NewDict(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "type", &typ, "config?", &config); err != nil {
		return nil, err
	}
	cfg, err := fromStarlarkDict(config)
	if err != nil {
		return nil, fmt.Errorf("%s: config: %w", b.Name(), err)
	}
	return starlarkEndpoint{kind: b.Name(), spec: EndpointSpec{Name: name, Type: typ, Config: cfg}}, nil
}

func builtinConnectorConnection(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var source, destination starlarkEndpoint
	var streams *starlark.Dict
	var normalize starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "source", &source, "destination", &destination,
		"streams", &streams, "normalize?", &normalize); err != nil {
		return nil, err
	}
	if source.kind != "connector_source" {
		return nil, fmt.Errorf("%s: source must be a connector_source, got %s", b.Name(), source.kind)
	}
	if destination.kind != "connector_destination" {
		return nil, fmt.Errorf("%s: destination must be a connector_destination, got %s", b.Name(), destination.kind)
	}

	spec := ConnectionSpec{
		Name:        name,
		Source:      source.spec,
		Destination: destination.spec,
		Streams:     make(map[string]string, streams.Len()),
	}
	for _, item := range streams.Items() {
		stream, ok1 := item[0].(starlark.String)
		mode, ok2 := item[1].(starlark.String)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: streams must map stream names to sync mode names", b.Name())
		}
		spec.Streams[string(stream)] = string(mode)
	}
	switch v := normalize.(type) {
	case starlark.NoneType:
	case starlark.Bool:
		n := bool(v)
		spec.Normalize = &n
	default:
		return nil, fmt.Errorf("%s: normalize must be a bool or None, got %s", b.Name(), normalize.Type())
	}
	return starlarkConnection{spec}, nil
}

func (sl *StarlarkLoader) builtinConnectorStack(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, url string
	var connections *starlark.List
	deleteUnmentioned := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "url", &url, "connections", &connections, "delete_unmentioned?", &deleteUnmentioned); err != nil {
		return nil, err
	}

	spec := ElementSpec{
		Name:              name,
		Kind:              KindConnector,
		URL:               url,
		DeleteUnmentioned: &deleteUnmentioned,
		Connections:       make([]ConnectionSpec, 0, connections.Len()),
	}
	for i := 0; i < connections.Len(); i++ {
		conn, ok := connections.Index(i).(starlarkConnection)
		if !ok {
			return nil, fmt.Errorf("%s: connections[%d] must be a connector_connection, got %s",
				b.Name(), i, connections.Index(i).Type())
		}
		spec.Connections = append(spec.Connections, conn.spec)
	}

	r, err := sl.factory.buildChecked(b.Name(), spec)
	if err != nil {
		return nil, err
	}
	return starlarkReconciler{r}, nil
}
