package engine

import (
	"context"
)

// Reconciler manages one external element. Check reports the difference
// between desired and actual state without changing anything; Apply moves the
// external element to the desired state and reports what it changed.
type Reconciler interface {
	// Name identifies the reconciler in logs, metrics and stored state.
	Name() string

	// Check returns the pending difference. It must not mutate external state.
	Check(ctx context.Context) (CheckResult, error)

	// Apply reconciles the external element and returns the applied difference.
	Apply(ctx context.Context) (CheckResult, error)
}

// RunRecorder persists run history. The SQLite store implements it.
type RunRecorder interface {
	// RecordRunStarted stores a run before any reconciler is invoked.
	RecordRunStarted(ctx context.Context, report *RunReport) error

	// RecordReconcilerResult stores the latest result for one reconciler.
	RecordReconcilerResult(ctx context.Context, runID string, mode Mode, name string, result CheckResult) error

	// RecordRunFinished stores the outcome of a run. runErr is nil on success.
	RecordRunFinished(ctx context.Context, report *RunReport, runErr error) error
}
