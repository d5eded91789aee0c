package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one check or apply invocation.
type Run struct {
	ID          string     `json:"id"`
	ModulePath  string     `json:"module_path"`
	Mode        string     `json:"mode"`
	Status      RunStatus  `json:"status"`
	Reconcilers int        `json:"reconcilers"`
	Diff        *string    `json:"diff,omitempty"`     // JSON diff
	Messages    *string    `json:"messages,omitempty"` // JSON array of strings
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ElementState is the latest result recorded for a reconciler, keyed by
// reconciler name.
type ElementState struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LastRunID string    `json:"last_run_id"`
	Mode      string    `json:"mode"`
	Diff      *string   `json:"diff,omitempty"` // JSON diff
	Message   *string   `json:"message,omitempty"`
	Hash      string    `json:"hash"`    // SHA256 of the result, for drift between runs
	Changes   int       `json:"changes"` // leaf entries in Diff
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is an append-only log entry.
type Event struct {
	ID         int64      `json:"id"`
	RunID      *string    `json:"run_id,omitempty"`
	Reconciler *string    `json:"reconciler,omitempty"`
	Type       string     `json:"type"`
	Level      EventLevel `json:"level"`
	Message    string     `json:"message"`
	Details    *string    `json:"details,omitempty"` // JSON blob
	Timestamp  time.Time  `json:"timestamp"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "apply.succeeded", "apply.failed"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // run ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// ElementState operations
	UpsertElementState(ctx context.Context, state *ElementState) error
	GetElementState(ctx context.Context, name string) (*ElementState, error)
	ListElementStates(ctx context.Context, limit, offset int) ([]*ElementState, error)
	DeleteElementState(ctx context.Context, name string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
