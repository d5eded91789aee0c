package engine

import (
	"time"

	"github.com/openfroyo/reconcilectl/pkg/diff"
)

// Mode selects which reconciler operation a run invokes.
type Mode string

const (
	// ModeCheck computes differences without touching external systems.
	ModeCheck Mode = "check"

	// ModeApply reconciles external systems toward the desired state.
	ModeApply Mode = "apply"
)

// verb returns the progressive form used in the run banner.
func (m Mode) verb() string {
	if m == ModeApply {
		return "applying"
	}
	return "checking"
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every reconciler completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a reconciler or the run itself failed.
	RunStatusFailed RunStatus = "failed"
)

// CheckResult is what a reconciler returns from Check or Apply: either a
// structured diff or a free-form message.
type CheckResult struct {
	// Diff is the structural difference. Nil for message results.
	Diff *diff.Diff `json:"diff,omitempty"`

	// Message is a textual result. Echoed to the output, never joined.
	Message string `json:"message,omitempty"`
}

// DiffResult wraps d in a CheckResult.
func DiffResult(d diff.Diff) CheckResult {
	return CheckResult{Diff: &d}
}

// MessageResult wraps a textual result.
func MessageResult(msg string) CheckResult {
	return CheckResult{Message: msg}
}

// IsDiff reports whether the result carries a diff.
func (r CheckResult) IsDiff() bool {
	return r.Diff != nil
}

// RunReport describes a completed check or apply run.
type RunReport struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// Source is the module path the reconcilers were loaded from.
	Source string `json:"source,omitempty"`

	// Mode is the operation invoked on every reconciler.
	Mode Mode `json:"mode"`

	// Status is the run state.
	Status RunStatus `json:"status"`

	// Reconcilers is the number of reconcilers in the run.
	Reconcilers int `json:"reconcilers"`

	// Diff is the join of every diff result, in registration order.
	Diff diff.Diff `json:"diff"`

	// Messages are the textual results, in registration order.
	Messages []string `json:"messages,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Duration returns the wall-clock time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
