package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcilectl/pkg/config"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/policy"
)

func newApplyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <module>",
		Short: "Reconcile external state toward the module",
		Long: `Load a module and call Apply on every reconciler it registers, in
registration order, then print the joined diff of what was changed.

A failing reconciler aborts the run; reconcilers after it are not applied.

When a policy gate is configured with --policy, --protected-key or
--max-deletes, the module is checked first and the pending diff is evaluated
against the built-in and loaded Rego policies. Any error or critical
violation aborts before anything is applied.`,
		Example: `  # Apply a module
  reconcilectl apply ./stacks.star

  # Refuse to touch anything under secrets or delete more than 3 keys
  reconcilectl apply --protected-key secrets --max-deletes 3 ./stacks.star

  # Gate on a directory of Rego policies
  reconcilectl apply --policy ./policies ./stacks.star`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			log.Debug().
				Str("path", path).
				Strs("policies", a.settings.PolicyPaths).
				Msg("Applying module")

			sess, ctx, err := a.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			mod, err := sess.load(ctx, path)
			if err != nil {
				return err
			}

			var result *policy.Result
			if a.settings.PolicyConfigured {
				result, err = a.enforcePolicies(ctx, sess, mod, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			report, err := sess.drive(ctx, mod, engine.ModeApply, a.driverOutput(out))
			if err != nil {
				return err
			}
			return a.printReport(out, report, result)
		},
	}

	cmd.Flags().StringSlice("policy", nil, "Rego policy file or directory gating the apply (repeatable)")
	cmd.Flags().StringSlice("protected-key", nil, "diff key that may not be modified or deleted (repeatable)")
	cmd.Flags().Int("max-deletes", policy.DefaultMaxDeletes, "warn when a diff deletes more keys than this")

	return cmd
}

// enforcePolicies checks the module and evaluates the pending diff. It
// returns a POLICY_DENIED error when a blocking violation is found.
func (a *app) enforcePolicies(ctx context.Context, sess *session, mod *config.Module, errOut io.Writer) (*policy.Result, error) {
	pending, err := sess.drive(ctx, mod, engine.ModeCheck, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("pre-apply check failed: %w", err)
	}

	opts := []policy.Option{policy.WithMaxDeletes(a.settings.MaxDeletes)}
	if len(a.settings.ProtectedKeys) > 0 {
		opts = append(opts, policy.WithProtectedKeys(a.settings.ProtectedKeys...))
	}
	eng, err := policy.NewEngine(log.Logger, opts...)
	if err != nil {
		return nil, err
	}
	if len(a.settings.PolicyPaths) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.PolicyPaths); err != nil {
			return nil, err
		}
	}

	result, err := eng.Enforce(ctx, pending.Diff, engine.ModeApply)
	if result != nil {
		for _, w := range result.Warnings {
			log.Warn().Msg(w)
		}
		for _, v := range result.Violations {
			fmt.Fprintf(errOut, "policy %s (%s): %s\n", v.Policy, v.Severity, v.Message)
		}
	}
	return result, err
}
