package reconcilers

import (
	"context"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
)

// Static reports a fixed diff. Apply reports ApplyDiff when set, CheckDiff
// otherwise. It never touches external state.
type Static struct {
	name      string
	checkDiff diff.Diff
	applyDiff *diff.Diff
}

// NewStatic creates a static reconciler. applyDiff may be nil.
func NewStatic(name string, checkDiff diff.Diff, applyDiff *diff.Diff) *Static {
	return &Static{name: name, checkDiff: checkDiff, applyDiff: applyDiff}
}

// Name implements engine.Reconciler.
func (s *Static) Name() string { return s.name }

// Check implements engine.Reconciler.
func (s *Static) Check(ctx context.Context) (engine.CheckResult, error) {
	return engine.DiffResult(s.checkDiff), nil
}

// Apply implements engine.Reconciler.
func (s *Static) Apply(ctx context.Context) (engine.CheckResult, error) {
	if s.applyDiff != nil {
		return engine.DiffResult(*s.applyDiff), nil
	}
	return engine.DiffResult(s.checkDiff), nil
}

// Message reports a textual result from both Check and Apply.
type Message struct {
	name    string
	message string
}

// NewMessage creates a message reconciler.
func NewMessage(name, message string) *Message {
	return &Message{name: name, message: message}
}

// Name implements engine.Reconciler.
func (m *Message) Name() string { return m.name }

// Check implements engine.Reconciler.
func (m *Message) Check(ctx context.Context) (engine.CheckResult, error) {
	return engine.MessageResult(m.message), nil
}

// Apply implements engine.Reconciler.
func (m *Message) Apply(ctx context.Context) (engine.CheckResult, error) {
	return engine.MessageResult(m.message), nil
}

var (
	_ engine.Reconciler = (*Static)(nil)
	_ engine.Reconciler = (*Message)(nil)
)
