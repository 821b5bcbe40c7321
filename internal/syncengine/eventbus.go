package syncengine

import (
	"sync"

	"go.uber.org/zap"
)

// Event names, literal and stable: they double as wire/log identifiers, so
// they are string constants rather than an iota.
const (
	EventDocumentCreated  = "document:created"
	EventDocumentUpdated  = "document:updated"
	EventDocumentDeleted  = "document:deleted"
	EventSyncStarted      = "sync:started"
	EventSyncCompleted    = "sync:completed"
	EventSyncFailed       = "sync:failed"
	EventConflictDetected = "conflict:detected"
	EventConflictResolved = "conflict:resolved"
	EventConnectionOnline = "connection:online"
	EventConnectionOffline = "connection:offline"
	EventStateChanged     = "state:changed"
)

// SyncPhase distinguishes the pull half-sync from the push half-sync in
// sync:* event payloads.
type SyncPhase string

const (
	// SyncPhasePull tags events emitted during pull().
	SyncPhasePull SyncPhase = "pull"
	// SyncPhasePush tags events emitted during push().
	SyncPhasePush SyncPhase = "push"
)

// DocumentEventPayload is emitted for document:created/updated/deleted.
type DocumentEventPayload[T any] struct {
	Document        Document[T]
	PreviousVersion *Version
}

// SyncEventPayload is emitted for sync:started/completed/failed.
type SyncEventPayload struct {
	Type        SyncPhase
	ChangeCount int
	Error       error
}

// ConflictEventPayload is emitted for conflict:detected/resolved.
type ConflictEventPayload[T any] struct {
	DocumentID DocumentID
	Conflict   ConflictInfo[T]
	Resolution *ConflictResolution[T]
}

// StateChangedPayload is emitted for state:changed; it is the same snapshot
// returned by GetSyncState at the moment of emission.
type StateChangedPayload struct {
	State SyncState
}

// Subscription is returned by EventBus.On; Unsubscribe is idempotent.
type Subscription struct {
	bus   *EventBus
	event string
	id    int64
}

// Unsubscribe removes the listener. Calling it more than once is a no-op.
func (subscription *Subscription) Unsubscribe() {
	if subscription == nil || subscription.bus == nil {
		return
	}
	subscription.bus.removeListener(subscription.event, subscription.id)
	subscription.bus = nil
}

type listenerEntry struct {
	id int64
	fn func(payload any)
}

// EventBus is a typed publish/subscribe hub. Listener failures (panics) are
// isolated: they are recovered, logged to the diagnostic channel, and never
// prevent subsequent listeners in the same emit from running nor propagate
// out of Emit.
type EventBus struct {
	mu        sync.Mutex
	listeners map[string][]listenerEntry
	nextID    int64
	logger    *zap.Logger
}

// NewEventBus returns an empty bus. A nil logger defaults to a no-op logger.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		listeners: make(map[string][]listenerEntry),
		logger:    logger,
	}
}

// On registers a listener for event and returns an idempotent unsubscribe handle.
func (bus *EventBus) On(event string, listener func(payload any)) *Subscription {
	bus.mu.Lock()
	bus.nextID++
	id := bus.nextID
	bus.listeners[event] = append(bus.listeners[event], listenerEntry{id: id, fn: listener})
	bus.mu.Unlock()
	return &Subscription{bus: bus, event: event, id: id}
}

// Off removes a specific subscription; equivalent to calling Unsubscribe on it.
func (bus *EventBus) Off(subscription *Subscription) {
	subscription.Unsubscribe()
}

func (bus *EventBus) removeListener(event string, id int64) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	entries := bus.listeners[event]
	for i, entry := range entries {
		if entry.id == id {
			bus.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(bus.listeners[event]) == 0 {
		delete(bus.listeners, event)
	}
}

// RemoveAllListeners clears listeners for event, or every event when event is "".
func (bus *EventBus) RemoveAllListeners(event string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if event == "" {
		bus.listeners = make(map[string][]listenerEntry)
		return
	}
	delete(bus.listeners, event)
}

// Emit invokes every currently-registered listener for event, in
// registration order. A snapshot of the listener slice is taken under lock
// so that a listener unsubscribing itself or others mid-emit is safe.
func (bus *EventBus) Emit(event string, payload any) {
	bus.mu.Lock()
	entries := bus.listeners[event]
	copies := make([]listenerEntry, len(entries))
	copy(copies, entries)
	bus.mu.Unlock()

	for _, entry := range copies {
		bus.invoke(event, entry, payload)
	}
}

func (bus *EventBus) invoke(event string, entry listenerEntry, payload any) {
	defer func() {
		if recovered := recover(); recovered != nil {
			bus.logger.Error("event listener panicked",
				zap.String("event", event),
				zap.Any("recovered", recovered))
		}
	}()
	entry.fn(payload)
}
