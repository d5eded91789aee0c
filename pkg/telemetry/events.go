package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Reconciler is the associated reconciler name, if applicable.
	Reconciler string `json:"reconciler,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted          = "run.started"
	EventTypeRunCompleted        = "run.completed"
	EventTypeRunFailed           = "run.failed"
	EventTypeReconcilerStarted   = "reconciler.started"
	EventTypeReconcilerCompleted = "reconciler.completed"
	EventTypeReconcilerFailed    = "reconciler.failed"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeModuleChanged       = "module.changed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Delivery is synchronous and
// in subscription order, so a subscriber sees events in the order they were
// published.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	closed      bool
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	return &EventPublisher{config: cfg}, nil
}

// Publish delivers an event to all matching subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Source == "" {
		event.Source = ep.config.Source
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	if ep.closed {
		return fmt.Errorf("event publisher stopped")
	}

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, mode string, reconcilers int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "driver",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started (%s, %d reconcilers)", runID, mode, reconcilers),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"mode":        mode,
			"reconcilers": reconcilers,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, mode string, duration time.Duration, changes int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "driver",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with %d changes", runID, changes),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"mode":     mode,
			"changes":  changes,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, mode, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "driver",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"mode":   mode,
			"reason": reason,
		},
	})
}

// PublishReconcilerStarted publishes a reconciler started event.
func (ep *EventPublisher) PublishReconcilerStarted(runID, reconciler, mode string) error {
	return ep.Publish(Event{
		Type:       EventTypeReconcilerStarted,
		Source:     "driver",
		RunID:      runID,
		Reconciler: reconciler,
		Message:    fmt.Sprintf("Reconciler %s started %s", reconciler, mode),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"mode": mode,
		},
	})
}

// PublishReconcilerCompleted publishes a reconciler completed event.
func (ep *EventPublisher) PublishReconcilerCompleted(runID, reconciler, mode string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeReconcilerCompleted,
		Source:     "driver",
		RunID:      runID,
		Reconciler: reconciler,
		Message:    fmt.Sprintf("Reconciler %s completed %s", reconciler, mode),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"mode":     mode,
			"duration": duration.Seconds(),
		},
	})
}

// PublishReconcilerFailed publishes a reconciler failed event.
func (ep *EventPublisher) PublishReconcilerFailed(runID, reconciler, mode, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeReconcilerFailed,
		Source:     "driver",
		RunID:      runID,
		Reconciler: reconciler,
		Message:    fmt.Sprintf("Reconciler %s failed %s: %s", reconciler, mode, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"mode":   mode,
			"reason": reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(runID, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		RunID:   runID,
		Message: fmt.Sprintf("Policy violation: %s - %s", policyName, reason),
		Level:   level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"severity": severity,
			"reason":   reason,
		},
	})
}

// PublishModuleChanged publishes a module file change seen by the watcher.
func (ep *EventPublisher) PublishModuleChanged(path string) error {
	return ep.Publish(Event{
		Type:    EventTypeModuleChanged,
		Source:  "watcher",
		Message: fmt.Sprintf("Module %s changed", path),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path": path,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// Shutdown stops delivery. Later Publish calls return an error.
func (ep *EventPublisher) Shutdown() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.closed = true
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
