package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

// Driver invokes reconcilers one at a time, in registration order, and folds
// their diffs into a single aggregate with diff.Join.
type Driver struct {
	out      io.Writer
	logger   zerolog.Logger
	recorder RunRecorder
	source   string
	now      func() time.Time
	newID    func() string
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithOutput sets the writer that receives the run banner and message results.
func WithOutput(w io.Writer) DriverOption {
	return func(d *Driver) {
		d.out = w
	}
}

// WithLogger sets the logger used for run progress.
func WithLogger(logger zerolog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithRecorder persists runs and per-reconciler results.
func WithRecorder(recorder RunRecorder) DriverOption {
	return func(d *Driver) {
		d.recorder = recorder
	}
}

// WithSource records the module path the reconcilers were loaded from.
func WithSource(path string) DriverOption {
	return func(d *Driver) {
		d.source = path
	}
}

// WithRunIDGenerator overrides how run IDs are generated.
func WithRunIDGenerator(fn func() string) DriverOption {
	return func(d *Driver) {
		d.newID = fn
	}
}

// NewDriver creates a driver. By default output goes to stdout and logs to
// the global zerolog logger.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		out:    os.Stdout,
		logger: log.Logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check calls Check on every reconciler and returns the aggregate diff.
// External state is never modified by the driver itself.
func (d *Driver) Check(ctx context.Context, reconcilers []Reconciler) (*RunReport, error) {
	return d.run(ctx, ModeCheck, reconcilers)
}

// Apply calls Apply on every reconciler and returns the aggregate of the
// applied diffs.
func (d *Driver) Apply(ctx context.Context, reconcilers []Reconciler) (*RunReport, error) {
	return d.run(ctx, ModeApply, reconcilers)
}

func (d *Driver) run(ctx context.Context, mode Mode, reconcilers []Reconciler) (report *RunReport, err error) {
	report = &RunReport{
		RunID:       d.newID(),
		Source:      d.source,
		Mode:        mode,
		Status:      RunStatusRunning,
		Reconcilers: len(reconcilers),
		StartedAt:   d.now(),
	}

	logger := d.logger.With().
		Str("run_id", report.RunID).
		Str("mode", string(mode)).
		Logger()

	if _, err := fmt.Fprintf(d.out, "Found %d stacks, %s...\n", len(reconcilers), mode.verb()); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordRunStarted(ctx, report); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	ctx = telemetry.WithRunContext(ctx, report.RunID, string(mode), len(reconcilers))
	defer func() {
		report.CompletedAt = d.now()
		telemetry.EndRunContext(ctx, report.RunID, string(mode), report.Diff.Summary(), err)
		d.finish(ctx, logger, report, err)
		if err != nil {
			report = nil
		}
	}()

	logger.Debug().Int("reconcilers", len(reconcilers)).Msg("Starting run")

	aggregate := diff.New()
	for _, r := range reconcilers {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, NewPermanentError("run canceled", ctxErr).
				WithCode(ErrCodeCanceled).
				WithResource(r.Name()).
				WithOperation(string(mode))
		}

		result, callErr := d.invoke(ctx, mode, report.RunID, r)
		if callErr != nil {
			logger.Error().Err(callErr).Str("reconciler", r.Name()).Msg("Reconciler failed")
			return report, NewReconcilerError(r.Name(), mode, callErr)
		}

		if result.Diff != nil {
			aggregate = aggregate.Join(*result.Diff)
			logger.Debug().
				Str("reconciler", r.Name()).
				Int("entries", result.Diff.Summary().Total()).
				Msg("Reconciler returned diff")
		} else if result.Message != "" {
			report.Messages = append(report.Messages, result.Message)
			if _, werr := fmt.Fprintln(d.out, result.Message); werr != nil {
				return report, fmt.Errorf("failed to write output: %w", werr)
			}
		}

		if d.recorder != nil {
			if recErr := d.recorder.RecordReconcilerResult(ctx, report.RunID, mode, r.Name(), result); recErr != nil {
				logger.Warn().Err(recErr).Str("reconciler", r.Name()).Msg("Failed to record reconciler result")
			}
		}
	}

	report.Diff = aggregate
	report.Status = RunStatusSucceeded
	return report, nil
}

func (d *Driver) invoke(ctx context.Context, mode Mode, runID string, r Reconciler) (result CheckResult, err error) {
	rctx := telemetry.WithReconcilerContext(ctx, runID, r.Name(), string(mode))
	defer func() {
		telemetry.EndReconcilerContext(rctx, runID, r.Name(), string(mode), err)
	}()

	if mode == ModeApply {
		return r.Apply(rctx)
	}
	return r.Check(rctx)
}

func (d *Driver) finish(ctx context.Context, logger zerolog.Logger, report *RunReport, runErr error) {
	if runErr != nil {
		report.Status = RunStatusFailed
	}

	if d.recorder != nil {
		if err := d.recorder.RecordRunFinished(context.WithoutCancel(ctx), report, runErr); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run result")
		}
	}

	summary := report.Diff.Summary()
	logger.Info().
		Str("status", string(report.Status)).
		Int("added", summary.Added).
		Int("deleted", summary.Deleted).
		Int("modified", summary.Modified).
		Dur("duration", report.Duration()).
		Msg("Run finished")
}
