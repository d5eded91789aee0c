// Package telemetry provides observability instrumentation for reconcilectl.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing behind one
// Telemetry value that is carried in the context.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the context:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// The engine driver picks the instance up from the context and wraps each run
// and each reconciler call:
//
//	ctx = telemetry.WithRunContext(ctx, runID, "check", len(reconcilers))
//	defer telemetry.EndRunContext(ctx, runID, "check", summary, err)
//
//	rctx := telemetry.WithReconcilerContext(ctx, runID, r.Name(), "check")
//	result, err := r.Check(rctx)
//	telemetry.EndReconcilerContext(rctx, runID, r.Name(), "check", err)
//
// Without a Telemetry in the context every helper is a no-op.
//
// # Events
//
// EventPublisher delivers events synchronously, in subscription order. The
// SQLite store subscribes to persist the event timeline of each run:
//
//	tel.Events.Subscribe(store.EventSubscriber(log.Logger), nil)
//
// # Metrics
//
// Key metrics exposed (namespace "reconcilectl" by default):
//
//   - runs_started_total{mode}
//   - runs_completed_total{mode,status}
//   - run_duration_seconds{mode,status}
//   - reconciler_calls_total{reconciler,mode,status}
//   - reconciler_call_duration_seconds{reconciler,mode}
//   - diff_entries{mode,kind}
//   - errors_by_class_total{class}
//   - policy_violations_total{policy,severity}
//   - active_runs
//
// Metrics.Serve exposes them over HTTP; `check --watch --metrics-addr` uses it.
//
// # Tracing
//
// Supported exporters are "stdout", "otlp" (gRPC) and "none". Tracing is
// disabled by default.
package telemetry
