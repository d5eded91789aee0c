package commands

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcilectl/pkg/config"
	"github.com/openfroyo/reconcilectl/pkg/engine"
)

func newCheckCommand(a *app) *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "check <module>",
		Short: "Report the difference between desired and actual state",
		Long: `Load a module and call Check on every reconciler it registers, in
registration order. The per-reconciler diffs are joined and printed:

  + key: value          present in the module, missing externally
  - key: value          present externally, missing from the module
  ~ key: old -> new     present in both with different values

Nothing is modified. With --watch the check re-runs whenever the module
file changes, until interrupted.`,
		Example: `  # Check a Starlark module
  reconcilectl check ./stacks.star

  # Machine-readable output
  reconcilectl check --json ./elements.yaml

  # Re-check on every save and expose Prometheus metrics
  reconcilectl check --watch --metrics-addr :9090 ./stacks.star`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if metricsAddr != "" && !watch {
				return errors.New("--metrics-addr requires --watch")
			}

			log.Debug().
				Str("path", path).
				Bool("watch", watch).
				Msg("Checking module")

			sess, ctx, err := a.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			if !watch {
				return a.checkOnce(ctx, sess, path, cmd.OutOrStdout())
			}
			return a.watchCheck(ctx, sess, path, metricsAddr, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-run the check when the module changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")

	return cmd
}

func (a *app) checkOnce(ctx context.Context, sess *session, path string, out io.Writer) error {
	mod, err := sess.load(ctx, path)
	if err != nil {
		return err
	}

	report, err := sess.drive(ctx, mod, engine.ModeCheck, a.driverOutput(out))
	if err != nil {
		return err
	}
	return a.printReport(out, report, nil)
}

// watchCheck checks once, then again after every change to the module.
// Failed checks are logged and watching continues; it returns nil once ctx
// is canceled.
func (a *app) watchCheck(ctx context.Context, sess *session, path, metricsAddr string, out io.Writer) error {
	if metricsAddr != "" {
		go func() {
			if err := sess.tel.Metrics.Serve(ctx, metricsAddr); err != nil {
				log.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	changes, err := config.NewWatcher(path, config.DefaultDebounce).Watch(ctx)
	if err != nil {
		return err
	}

	if err := a.checkOnce(ctx, sess, path, out); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Check failed")
	}

	log.Info().Str("path", path).Msg("Watching module for changes")
	for range changes {
		if err := a.checkOnce(ctx, sess, path, out); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Check failed")
		}
	}
	return nil
}
