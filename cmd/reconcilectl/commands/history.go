package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/stores"
)

// errNoStateDB is returned by history commands when no database is set.
var errNoStateDB = errors.New("run history requires --state-db (or RECONCILECTL_STATE_DB)")

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded check and apply runs",
		Long: `List the runs recorded in the state database, newest first.

Runs are recorded by check and apply when --state-db is set.`,
		Example: `  # Show the last 10 runs
  reconcilectl --state-db state.db history --limit 10

  # Show the diff of one run
  reconcilectl --state-db state.db history show 6f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.historyStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if a.settings.JSON {
				if runs == nil {
					runs = []*stores.Run{}
				}
				return writeJSON(out, runs)
			}
			return printRuns(out, runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(newHistoryShowCommand(a))

	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run and its diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.historyStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.settings.JSON {
				return writeJSON(out, run)
			}
			return a.printRun(out, run)
		},
	}
}

func (a *app) historyStore(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	if a.settings.StateDB == "" {
		return nil, errNoStateDB
	}
	return a.openStore(cmd.Context())
}

func printRuns(out io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tMODE\tSTATUS\tSTACKS\tCHANGES\tSTARTED")
	for _, run := range runs {
		changes := "-"
		if d, err := storedDiff(run); err == nil && d != nil {
			changes = fmt.Sprint(d.Summary().Total())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			run.ID, run.Mode, run.Status, run.Reconcilers, changes,
			run.StartedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (a *app) printRun(out io.Writer, run *stores.Run) error {
	fmt.Fprintf(out, "Run %s (%s, %s)\n", run.ID, run.Mode, run.Status)
	fmt.Fprintf(out, "Module: %s\n", run.ModulePath)
	fmt.Fprintf(out, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Fprintf(out, "Error: %s\n", *run.Error)
	}

	if run.Messages != nil {
		var messages []string
		if err := json.Unmarshal([]byte(*run.Messages), &messages); err != nil {
			return fmt.Errorf("failed to decode stored messages: %w", err)
		}
		for _, msg := range messages {
			fmt.Fprintln(out, msg)
		}
	}

	d, err := storedDiff(run)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	return a.renderer().Fprint(out, *d)
}

// storedDiff decodes the run's diff. It returns nil for runs that did not
// finish with one.
func storedDiff(run *stores.Run) (*diff.Diff, error) {
	if run.Diff == nil {
		return nil, nil
	}
	var d diff.Diff
	if err := json.Unmarshal([]byte(*run.Diff), &d); err != nil {
		return nil, fmt.Errorf("failed to decode stored diff: %w", err)
	}
	return &d, nil
}
