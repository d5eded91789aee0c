// Package engine drives check and apply runs over a set of reconcilers.
//
// # Overview
//
// A Reconciler manages one external element. Check reports the difference
// between the desired and the actual state without touching the element;
// Apply reconciles it and reports what changed:
//
//	type Reconciler interface {
//	    Name() string
//	    Check(ctx context.Context) (CheckResult, error)
//	    Apply(ctx context.Context) (CheckResult, error)
//	}
//
// A CheckResult carries either a diff.Diff or a free-form message. Messages are
// echoed to the output as they arrive and never take part in the aggregate.
//
// # Driver
//
// The Driver invokes reconcilers sequentially, in registration order, and
// folds their diffs with diff.Join:
//
//	driver := engine.NewDriver(engine.WithOutput(os.Stdout), engine.WithSource(path))
//	report, err := driver.Check(ctx, module.Reconcilers)
//
// Before invoking anything it prints a banner such as
// "Found 2 stacks, checking...". The first reconciler error aborts the run:
// no further reconcilers are called, no report is returned and the error is
// wrapped as a RECONCILER_FAILED EngineError. The context is checked between
// reconcilers, so a canceled run stops before the next call.
//
// When a RunRecorder is configured, the run and each reconciler result are
// persisted. Telemetry found in the context (see package telemetry) receives a
// span, metrics and events for the run and every reconciler call.
//
// # Errors
//
// EngineError classifies failures as transient, throttled, conflict or
// permanent, and carries a code for programmatic handling:
//
//   - MODULE_LOAD_ERROR: the module file is missing or fails to evaluate
//   - RECONCILER_FAILED: a reconciler returned an error from Check or Apply
//   - POLICY_DENIED: the policy gate rejected an apply
//   - CANCELED: the run context was canceled
//
// Use IsModuleLoadError, IsReconcilerError and IsRetryable to inspect them.
package engine
