package reconcilers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/copystructure"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

// File keeps a local JSON or YAML document equal to a desired map.
type File struct {
	name    string
	path    string
	format  Format
	desired map[string]any
}

// NewFile creates a file reconciler. desired is deep-copied so later changes
// by the caller do not leak into the reconciler.
func NewFile(name, path string, format Format, desired map[string]any) (*File, error) {
	snapshot, err := snapshotMap(desired)
	if err != nil {
		return nil, err
	}
	return &File{name: name, path: path, format: format, desired: snapshot}, nil
}

// Name implements engine.Reconciler.
func (f *File) Name() string { return f.name }

// Path returns the managed file path.
func (f *File) Path() string { return f.path }

// Check compares the desired map with the file. A missing file is empty.
func (f *File) Check(ctx context.Context) (engine.CheckResult, error) {
	d, err := f.compare()
	if err != nil {
		return engine.CheckResult{}, err
	}
	return engine.DiffResult(d), nil
}

// Apply writes the desired document when it differs from the file and
// returns the diff that was reconciled.
func (f *File) Apply(ctx context.Context) (engine.CheckResult, error) {
	d, err := f.compare()
	if err != nil {
		return engine.CheckResult{}, err
	}
	if d.IsEmpty() {
		return engine.DiffResult(d), nil
	}

	data, err := f.format.encode(f.desired)
	if err != nil {
		return engine.CheckResult{}, engine.NewPermanentError("failed to encode document", err).
			WithResource(f.path).
			WithOperation("apply")
	}
	if err := writeFileAtomic(f.path, data, 0o644); err != nil {
		return engine.CheckResult{}, engine.NewPermanentError("failed to write document", err).
			WithResource(f.path).
			WithOperation("apply")
	}

	telemetry.FromContext(ctx).
		WithField("path", f.path).
		WithField("entries", d.Summary().Total()).
		Info("File reconciled")
	return engine.DiffResult(d), nil
}

func (f *File) compare() (diff.Diff, error) {
	actual, err := f.read()
	if err != nil {
		return diff.Diff{}, err
	}
	return diff.Compare(f.desired, actual), nil
}

func (f *File) read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, engine.NewPermanentError("failed to read document", err).
			WithResource(f.path).
			WithOperation("read")
	}
	doc, err := f.format.decode(data)
	if err != nil {
		return nil, engine.NewPermanentError("failed to parse document", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(f.path).
			WithOperation("read")
	}
	return doc, nil
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func snapshotMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	copied, err := copystructure.Copy(m)
	if err != nil {
		return nil, fmt.Errorf("failed to copy desired state: %w", err)
	}
	return copied.(map[string]any), nil
}

var _ engine.Reconciler = (*File)(nil)
