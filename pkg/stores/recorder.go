package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

var _ engine.RunRecorder = (*SQLiteStore)(nil)

// RecordRunStarted stores a running run.
func (s *SQLiteStore) RecordRunStarted(ctx context.Context, report *engine.RunReport) error {
	return s.CreateRun(ctx, &Run{
		ID:          report.RunID,
		ModulePath:  report.Source,
		Mode:        string(report.Mode),
		Status:      RunStatusRunning,
		Reconcilers: report.Reconcilers,
		StartedAt:   report.StartedAt,
	})
}

// RecordReconcilerResult upserts the element state for name. The hash covers
// the diff or message, so two runs with the same hash saw the same result.
func (s *SQLiteStore) RecordReconcilerResult(ctx context.Context, runID string, mode engine.Mode, name string, result engine.CheckResult) error {
	state := &ElementState{
		ID:        uuid.New().String(),
		Name:      name,
		LastRunID: runID,
		Mode:      string(mode),
	}

	var hashed []byte
	if result.Diff != nil {
		raw, err := json.Marshal(result.Diff)
		if err != nil {
			return fmt.Errorf("failed to encode diff for %s: %w", name, err)
		}
		encoded := string(raw)
		state.Diff = &encoded
		state.Changes = result.Diff.Summary().Total()
		hashed = raw
	} else {
		message := result.Message
		state.Message = &message
		hashed = []byte(message)
	}

	sum := sha256.Sum256(hashed)
	state.Hash = hex.EncodeToString(sum[:])

	return s.UpsertElementState(ctx, state)
}

// RecordRunFinished stores the outcome of a run. Apply runs also get an
// audit entry.
func (s *SQLiteStore) RecordRunFinished(ctx context.Context, report *engine.RunReport, runErr error) error {
	rawDiff, err := json.Marshal(report.Diff)
	if err != nil {
		return fmt.Errorf("failed to encode run diff: %w", err)
	}
	diffJSON := string(rawDiff)

	messages := report.Messages
	if messages == nil {
		messages = []string{}
	}
	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode run messages: %w", err)
	}
	messagesJSON := string(rawMessages)

	status := RunStatusSucceeded
	var errMsg *string
	if runErr != nil {
		status = RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	run := &Run{
		ID:       report.RunID,
		Status:   status,
		Diff:     &diffJSON,
		Messages: &messagesJSON,
		Error:    errMsg,
	}
	if !report.CompletedAt.IsZero() {
		completed := report.CompletedAt
		run.CompletedAt = &completed
	}
	if err := s.FinishRun(ctx, run); err != nil {
		return err
	}

	if report.Mode != engine.ModeApply {
		return nil
	}

	summary := report.Diff.Summary()
	details, err := json.Marshal(map[string]any{
		"module":   report.Source,
		"added":    summary.Added,
		"deleted":  summary.Deleted,
		"modified": summary.Modified,
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	detailsJSON := string(details)
	runID := report.RunID

	return s.CreateAuditEntry(ctx, &AuditEntry{
		Action:   "apply." + string(status),
		TargetID: &runID,
		Details:  &detailsJSON,
	})
}

// EventSubscriber returns a telemetry subscriber that appends every event to
// the events table. Failures are logged and never interrupt the run.
func (s *SQLiteStore) EventSubscriber(logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		event := &Event{
			Type:      e.Type,
			Level:     EventLevel(e.Level),
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if event.Level == "" {
			event.Level = EventLevelInfo
		}
		if e.RunID != "" {
			runID := e.RunID
			event.RunID = &runID
		}
		if e.Reconciler != "" {
			name := e.Reconciler
			event.Reconciler = &name
		}
		if len(e.Data) > 0 {
			raw, err := json.Marshal(e.Data)
			if err != nil {
				logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to encode event data")
			} else {
				details := string(raw)
				event.Details = &details
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.AppendEvent(ctx, event); err != nil {
			logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to persist event")
		}
	}
}
