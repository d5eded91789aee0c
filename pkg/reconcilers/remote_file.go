package reconcilers

import (
	"context"
	"errors"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
	"github.com/openfroyo/reconcilectl/pkg/transports/ssh"
)

// RemoteFile keeps a document on a remote host equal to a desired map. The
// transport is connected for each Check or Apply and closed afterwards.
type RemoteFile struct {
	name      string
	host      string
	path      string
	format    Format
	desired   map[string]any
	transport ssh.Transport
}

// NewRemoteFile creates a remote file reconciler.
func NewRemoteFile(name, host, path string, format Format, desired map[string]any, transport ssh.Transport) (*RemoteFile, error) {
	snapshot, err := snapshotMap(desired)
	if err != nil {
		return nil, err
	}
	return &RemoteFile{
		name:      name,
		host:      host,
		path:      path,
		format:    format,
		desired:   snapshot,
		transport: transport,
	}, nil
}

// Name implements engine.Reconciler.
func (r *RemoteFile) Name() string { return r.name }

// Check implements engine.Reconciler.
func (r *RemoteFile) Check(ctx context.Context) (engine.CheckResult, error) {
	if err := r.connect(ctx); err != nil {
		return engine.CheckResult{}, err
	}
	defer r.close(ctx)

	d, err := r.compare(ctx)
	if err != nil {
		return engine.CheckResult{}, err
	}
	return engine.DiffResult(d), nil
}

// Apply implements engine.Reconciler.
func (r *RemoteFile) Apply(ctx context.Context) (engine.CheckResult, error) {
	if err := r.connect(ctx); err != nil {
		return engine.CheckResult{}, err
	}
	defer r.close(ctx)

	d, err := r.compare(ctx)
	if err != nil {
		return engine.CheckResult{}, err
	}
	if d.IsEmpty() {
		return engine.DiffResult(d), nil
	}

	data, err := r.format.encode(r.desired)
	if err != nil {
		return engine.CheckResult{}, engine.NewPermanentError("failed to encode document", err).
			WithResource(r.resource()).
			WithOperation("apply")
	}
	if err := r.transport.WriteFile(ctx, r.path, data); err != nil {
		return engine.CheckResult{}, classifyTransportError("failed to write remote document", err).
			WithResource(r.resource()).
			WithOperation("apply")
	}

	telemetry.FromContext(ctx).
		WithField("host", r.host).
		WithField("path", r.path).
		WithField("entries", d.Summary().Total()).
		Info("Remote file reconciled")
	return engine.DiffResult(d), nil
}

func (r *RemoteFile) compare(ctx context.Context) (diff.Diff, error) {
	actual := map[string]any{}

	data, err := r.transport.ReadFile(ctx, r.path)
	switch {
	case errors.Is(err, ssh.ErrNotExist):
	case err != nil:
		return diff.Diff{}, classifyTransportError("failed to read remote document", err).
			WithResource(r.resource()).
			WithOperation("read")
	default:
		actual, err = r.format.decode(data)
		if err != nil {
			return diff.Diff{}, engine.NewPermanentError("failed to parse remote document", err).
				WithCode(engine.ErrCodeValidation).
				WithResource(r.resource()).
				WithOperation("read")
		}
	}

	return diff.Compare(r.desired, actual), nil
}

func (r *RemoteFile) connect(ctx context.Context) error {
	if err := r.transport.Connect(ctx); err != nil {
		return classifyTransportError("failed to connect", err).
			WithResource(r.resource()).
			WithOperation("connect")
	}
	return nil
}

func (r *RemoteFile) close(ctx context.Context) {
	if err := r.transport.Close(); err != nil {
		telemetry.FromContext(ctx).WithError(err).WithField("host", r.host).Warn("Failed to close transport")
	}
}

func (r *RemoteFile) resource() string {
	return r.host + ":" + r.path
}

// classifyTransportError maps temporary transport failures to transient
// errors and everything else to permanent ones.
func classifyTransportError(msg string, err error) *engine.EngineError {
	var te *ssh.TransportError
	if errors.As(err, &te) {
		if te.IsAuthError {
			return engine.NewPermanentError(msg, err).WithCode(engine.ErrCodePermissionDenied)
		}
		if te.Temporary() {
			return engine.NewTransientError(msg, err)
		}
	}
	return engine.NewPermanentError(msg, err)
}

var _ engine.Reconciler = (*RemoteFile)(nil)
