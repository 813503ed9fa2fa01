package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the depmark system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TransactionID is the associated transaction ID, if applicable.
	TransactionID string `json:"transaction_id,omitempty"`

	// Packages lists the packages the event concerns, if applicable.
	Packages []string `json:"packages,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeStatesChanged        = "package.states_changed"
	EventTypeOverlayReset         = "overlay.reset"
	EventTypeOverlayLoaded        = "overlay.loaded"
	EventTypeOverlaySaved         = "overlay.saved"
	EventTypeTransactionCommitted = "transaction.committed"
	EventTypeTransactionUndone    = "transaction.undone"
	EventTypeSweepCompleted       = "sweep.completed"
	EventTypePackageProtected     = "package.protected"
	EventTypeSyncCompleted        = "sync.completed"
	EventTypeError                = "error"
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

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishStatesChanged publishes the batched state-change notification for
// one transaction. Packages lists every package whose selection, flags or
// candidate changed; a transaction produces exactly one such event.
func (ep *EventPublisher) PublishStatesChanged(txID string, packages []string) error {
	return ep.Publish(Event{
		Type:          EventTypeStatesChanged,
		Source:        "engine",
		TransactionID: txID,
		Packages:      packages,
		Message:       fmt.Sprintf("%d package states changed", len(packages)),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"count": len(packages),
		},
	})
}

// PublishOverlayReset publishes a whole-state reset event, fired when the
// overlay is reloaded or a snapshot is restored.
func (ep *EventPublisher) PublishOverlayReset(path string) error {
	return ep.Publish(Event{
		Type:    EventTypeOverlayReset,
		Source:  "engine",
		Message: fmt.Sprintf("Selection state reset from %s", path),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path": path,
		},
	})
}

// PublishOverlayLoaded publishes an overlay load event.
func (ep *EventPublisher) PublishOverlayLoaded(path string, sections, corrupt int) error {
	level := EventLevelInfo
	if corrupt > 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeOverlayLoaded,
		Source:  "engine",
		Message: fmt.Sprintf("Loaded %d sections from %s (%d corrupt)", sections, path, corrupt),
		Level:   level,
		Data: map[string]interface{}{
			"path":     path,
			"sections": sections,
			"corrupt":  corrupt,
		},
	})
}

// PublishOverlaySaved publishes an overlay save event.
func (ep *EventPublisher) PublishOverlaySaved(path string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeOverlaySaved,
		Source:  "engine",
		Message: fmt.Sprintf("Saved selection state to %s", path),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path":     path,
			"duration": duration.Seconds(),
		},
	})
}

// PublishTransactionCommitted publishes a transaction committed event.
func (ep *EventPublisher) PublishTransactionCommitted(txID, command string, changed int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:          EventTypeTransactionCommitted,
		Source:        "engine",
		TransactionID: txID,
		Message:       fmt.Sprintf("Transaction %s committed: %s (%d changes)", txID, command, changed),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"command":  command,
			"changed":  changed,
			"duration": duration.Seconds(),
		},
	})
}

// PublishTransactionUndone publishes a transaction undo event.
func (ep *EventPublisher) PublishTransactionUndone(txID, undoneOf string, changed int) error {
	return ep.Publish(Event{
		Type:          EventTypeTransactionUndone,
		Source:        "engine",
		TransactionID: txID,
		Message:       fmt.Sprintf("Transaction %s undone by %s (%d changes reverted)", undoneOf, txID, changed),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"undone_of": undoneOf,
			"changed":   changed,
		},
	})
}

// PublishSweepCompleted publishes an orphan sweep completion event.
func (ep *EventPublisher) PublishSweepCompleted(collected, reinstated, conflicted int) error {
	return ep.Publish(Event{
		Type:    EventTypeSweepCompleted,
		Source:  "engine",
		Message: fmt.Sprintf("Sweep completed: %d collected, %d reinstated, %d conflicted", collected, reinstated, conflicted),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"collected":  collected,
			"reinstated": reinstated,
			"conflicted": conflicted,
		},
	})
}

// PublishPackageProtected publishes an event for a package a policy kept
// out of the sweep.
func (ep *EventPublisher) PublishPackageProtected(pkg, policyName string) error {
	return ep.Publish(Event{
		Type:     EventTypePackageProtected,
		Source:   "policy_engine",
		Packages: []string{pkg},
		Message:  fmt.Sprintf("Package %s protected by policy %s", pkg, policyName),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"policy": policyName,
		},
	})
}

// PublishSyncCompleted publishes an overlay sync completion event.
func (ep *EventPublisher) PublishSyncCompleted(direction, host string, bytes int64, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeSyncCompleted,
		Source:  "sync",
		Message: fmt.Sprintf("Sync %s with %s completed (%d bytes)", direction, host, bytes),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"direction": direction,
			"host":      host,
			"bytes":     bytes,
			"duration":  duration.Seconds(),
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

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain the buffer before shutting down so events published
			// ahead of Shutdown are not lost.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
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

// FilterByTransaction creates a filter that only allows events for a specific transaction.
func FilterByTransaction(txID string) EventFilter {
	return func(event Event) bool {
		return event.TransactionID == txID
	}
}

// FilterByPackage creates a filter that only allows events mentioning a specific package.
func FilterByPackage(name string) EventFilter {
	return func(event Event) bool {
		for _, p := range event.Packages {
			if p == name {
				return true
			}
		}
		return false
	}
}
