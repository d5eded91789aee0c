package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconcilectl/pkg/engine"
)

// Loader loads modules from disk. The language is chosen by file extension:
// .star and .sky are Starlark, .cue is CUE, .yaml and .yml are YAML.
type Loader struct {
	logger  zerolog.Logger
	timeout time.Duration
	factory *ElementFactory
	vars    map[string]any
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithEvaluationTimeout bounds Starlark evaluation.
func WithEvaluationTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithElementFactory sets the factory that builds file, remote file and
// connector reconcilers.
func WithElementFactory(f *ElementFactory) LoaderOption {
	return func(l *Loader) {
		l.factory = f
	}
}

// WithVars predeclares vars as globals in Starlark modules.
func WithVars(vars map[string]any) LoaderOption {
	return func(l *Loader) {
		l.vars = vars
	}
}

// NewLoader creates a module loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:  log.Logger,
		timeout: DefaultEvaluationTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.factory == nil {
		l.factory = NewElementFactory()
	}
	l.logger = l.logger.With().Str("component", "module-loader").Logger()
	return l
}

// FormatOf returns the module format implied by path's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".star", ".sky":
		return FormatStarlark, nil
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported module extension %q", filepath.Ext(path))
	}
}

// Load reads and evaluates the module at path. Every failure is a module
// load error.
func (l *Loader) Load(ctx context.Context, path string) (*Module, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, engine.NewModuleLoadError(path, err)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewModuleLoadError(path, err)
	}

	start := time.Now()
	var reconcilers []engine.Reconciler
	switch format {
	case FormatStarlark:
		reconcilers, err = NewStarlarkLoader(l.timeout, l.factory, l.vars).Load(ctx, path, src)
	case FormatCUE:
		reconcilers, err = l.loadElements(path, src, NewCUEElementParser().Parse)
	case FormatYAML:
		reconcilers, err = l.loadElements(path, src, NewYAMLElementParser().Parse)
	}
	if err != nil {
		return nil, engine.NewModuleLoadError(path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Str("format", string(format)).
		Int("reconcilers", len(reconcilers)).
		Dur("duration", time.Since(start)).
		Msg("Module loaded")

	return &Module{
		Path:        path,
		Format:      format,
		Reconcilers: reconcilers,
	}, nil
}

func (l *Loader) loadElements(path string, src []byte, parse func(string, []byte) ([]ElementSpec, error)) ([]engine.Reconciler, error) {
	specs, err := parse(path, src)
	if err != nil {
		return nil, err
	}
	return l.factory.BuildAll(path, specs)
}
