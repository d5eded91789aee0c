package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcilectl/pkg/config"
)

// validateOutput is the JSON document printed by validate --json.
type validateOutput struct {
	Path        string        `json:"path"`
	Format      config.Format `json:"format"`
	Reconcilers []string      `json:"reconcilers"`
}

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <module>",
		Short: "Load a module and list its reconcilers",
		Long: `Load and evaluate a module without calling any reconciler, then print the
names of the reconcilers it registers, one per line, in registration order.

Syntax errors, schema violations and invalid element specs are reported the
same way check and apply report them.`,
		Example: `  # List the reconcilers of a module
  reconcilectl validate ./stacks.star

  # Validate a script that reads a variable
  reconcilectl validate --var env=prod ./stacks.star`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			sess, ctx, err := a.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			mod, err := sess.load(ctx, path)
			if err != nil {
				return err
			}

			log.Info().
				Str("path", path).
				Str("format", string(mod.Format)).
				Int("reconcilers", len(mod.Reconcilers)).
				Msg("Module is valid")

			out := cmd.OutOrStdout()
			if a.settings.JSON {
				return writeJSON(out, validateOutput{
					Path:        mod.Path,
					Format:      mod.Format,
					Reconcilers: mod.Names(),
				})
			}
			for _, name := range mod.Names() {
				if _, err := fmt.Fprintln(out, name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	return cmd
}
