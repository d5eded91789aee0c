package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/policy"
)

// runOutput is the JSON document printed by check --json and apply --json.
type runOutput struct {
	*engine.RunReport
	Policy *policy.Result `json:"policy,omitempty"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// renderer returns the diff renderer for the current output settings.
func (a *app) renderer() diff.Renderer {
	return diff.Renderer{Color: !a.settings.NoColor && !color.NoColor}
}

// printReport writes a finished run. The banner and message results were
// already written by the driver in text mode.
func (a *app) printReport(w io.Writer, report *engine.RunReport, result *policy.Result) error {
	if a.settings.JSON {
		return writeJSON(w, runOutput{RunReport: report, Policy: result})
	}
	if err := a.renderer().Fprint(w, report.Diff); err != nil {
		return fmt.Errorf("failed to write diff: %w", err)
	}
	return nil
}

// driverOutput is where the driver writes its banner: the command output in
// text mode, nowhere in JSON mode.
func (a *app) driverOutput(w io.Writer) io.Writer {
	if a.settings.JSON {
		return io.Discard
	}
	return w
}
