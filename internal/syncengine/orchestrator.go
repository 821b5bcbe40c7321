package syncengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// onlineProbeInterval is fixed per the spec; unlike the other tunables it is
// not exposed as a Config field.
const onlineProbeInterval = 10 * time.Second

// Config enumerates the orchestrator's scheduling and retry tunables.
// Zero-value fields are defaulted by New, with one exception: SyncInterval's
// zero value is a meaningful choice ("disable periodic sync"), not an
// unset-field marker, so it is never overridden. Callers who want the
// documented 30s default should start from DefaultConfig().
type Config struct {
	// SyncInterval drives the periodic sync ticker; 0 disables it.
	SyncInterval time.Duration
	// BatchSize caps how many pending changes a single push attempt carries.
	BatchSize int
	// RetryAttempts is the total number of tries for a transport call (pull or push).
	RetryAttempts int
	// RetryDelay is the base exponential-backoff delay between retries.
	RetryDelay time.Duration
	// DebounceDelay is the coalescing window for push after a local mutation.
	DebounceDelay time.Duration
	// PostOnlineSyncDelay is the delay after an offline->online transition
	// before a sync is triggered.
	PostOnlineSyncDelay time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:         30 * time.Second,
		BatchSize:            100,
		RetryAttempts:        3,
		RetryDelay:           time.Second,
		DebounceDelay:        time.Second,
		PostOnlineSyncDelay:  time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = defaults.DebounceDelay
	}
	if cfg.PostOnlineSyncDelay <= 0 {
		cfg.PostOnlineSyncDelay = defaults.PostOnlineSyncDelay
	}
	return cfg
}

// IDGenerator synthesizes a DocumentID for Create calls that omit one.
type IDGenerator func() (DocumentID, error)

// OrchestratorConfig describes the inputs required to build an Orchestrator.
type OrchestratorConfig[T any] struct {
	Store       Store[T]
	Transport   Transport[T]
	Resolver    Resolver[T]
	Bus         *EventBus
	Clock       Clock
	Scheduler   Scheduler
	Logger      *zap.Logger
	IDGenerator IDGenerator
	Sync        Config
}

// Orchestrator is the synchronization state machine: local CRUD feeds the
// change tracker, which a debounced/periodic/event-triggered scheduler
// drains through pull/push/apply/resolve against the injected store and
// transport. All state transitions are single-threaded in spirit: isSyncing
// acts as a non-blocking, single-permit mutex that local CRUD never
// contends for.
type Orchestrator[T any] struct {
	store       Store[T]
	transport   Transport[T]
	resolver    Resolver[T]
	bus         *EventBus
	tracker     *ChangeTracker[T]
	clock       Clock
	scheduler   Scheduler
	logger      *zap.Logger
	idGenerator IDGenerator
	cfg         Config

	stateMu    sync.Mutex
	started    bool
	isOnline   bool
	lastPullTs Timestamp
	lastPushTs Timestamp

	syncing atomic.Bool

	periodicCancel      CancelFunc
	probeCancel         CancelFunc
	unsubscribeRealtime func()

	debounceMu     sync.Mutex
	debounceCancel CancelFunc
}

// New validates cfg and constructs an Orchestrator. Store and Transport are
// required; Resolver defaults to LWW, Bus/Clock/Scheduler/Logger default to
// production implementations.
func New[T any](cfg OrchestratorConfig[T]) (*Orchestrator[T], error) {
	if cfg.Store == nil {
		return nil, newEngineError("syncengine.new", "missing_store", errMissingStore)
	}
	if cfg.Transport == nil {
		return nil, newEngineError("syncengine.new", "missing_transport", errMissingTransport)
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewLWWResolver[T]()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = NewEventBus(logger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewSystemScheduler()
	}

	return &Orchestrator[T]{
		store:       cfg.Store,
		transport:   cfg.Transport,
		resolver:    resolver,
		bus:         bus,
		tracker:     NewChangeTracker[T](),
		clock:       clock,
		scheduler:   scheduler,
		logger:      logger,
		idGenerator: cfg.IDGenerator,
		cfg:         normalizeConfig(cfg.Sync),
	}, nil
}

// Events exposes the bus for external subscription.
func (o *Orchestrator[T]) Events() *EventBus {
	return o.bus
}

// Start is idempotent. It loads the last sync timestamp, probes online
// status once, installs the periodic and probe tickers, subscribes to the
// transport's real-time callback if present, and — if online — runs one
// synchronous Sync.
func (o *Orchestrator[T]) Start(ctx context.Context) error {
	o.stateMu.Lock()
	if o.started {
		o.stateMu.Unlock()
		return nil
	}
	o.started = true
	o.stateMu.Unlock()

	lastSync, err := o.store.GetLastSyncTimestamp(ctx)
	if err != nil {
		o.logger.Warn("failed to load last sync timestamp, resetting to zero", zap.Error(err))
		lastSync = 0
	}
	o.stateMu.Lock()
	o.lastPullTs = lastSync
	o.lastPushTs = lastSync
	o.stateMu.Unlock()

	o.probeOnlineStatus(ctx)

	if o.cfg.SyncInterval > 0 {
		o.periodicCancel = o.scheduler.Every(o.cfg.SyncInterval, func() {
			o.Sync(context.Background())
		})
	}
	o.probeCancel = o.scheduler.Every(onlineProbeInterval, func() {
		o.probeOnlineStatus(context.Background())
	})

	if realtime, ok := o.transport.(RealtimeTransport[T]); ok {
		o.unsubscribeRealtime = realtime.OnRemoteChange(func(changes []ChangeRecord[T]) {
			o.handleRealtimeChanges(context.Background(), changes)
		})
	}

	if o.IsOnline() {
		o.Sync(ctx)
	}
	return nil
}

// Stop cancels all timers, unsubscribes from the transport's real-time
// callback, and closes the store if it implements io.Closer. In-flight
// transport calls run to completion; their emissions are still delivered.
func (o *Orchestrator[T]) Stop() error {
	o.stateMu.Lock()
	if !o.started {
		o.stateMu.Unlock()
		return nil
	}
	o.started = false
	o.stateMu.Unlock()

	if o.periodicCancel != nil {
		o.periodicCancel()
		o.periodicCancel = nil
	}
	if o.probeCancel != nil {
		o.probeCancel()
		o.probeCancel = nil
	}
	o.debounceMu.Lock()
	if o.debounceCancel != nil {
		o.debounceCancel()
		o.debounceCancel = nil
	}
	o.debounceMu.Unlock()
	if o.unsubscribeRealtime != nil {
		o.unsubscribeRealtime()
		o.unsubscribeRealtime = nil
	}

	if closer, ok := o.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// IsOnline reports the last observed connectivity state.
func (o *Orchestrator[T]) IsOnline() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.isOnline
}

// GetSyncState recomputes a snapshot on demand.
func (o *Orchestrator[T]) GetSyncState() SyncState {
	o.stateMu.Lock()
	state := SyncState{
		LastPullTimestamp: o.lastPullTs,
		LastPushTimestamp: o.lastPushTs,
		IsOnline:          o.isOnline,
	}
	o.stateMu.Unlock()
	state.PendingChanges = o.tracker.GetPendingChangeCount()
	state.IsSyncing = o.syncing.Load()
	return state
}

// ---- Local CRUD (§4.5.3) ----

// Get is a pure store read.
func (o *Orchestrator[T]) Get(ctx context.Context, id DocumentID) (*Document[T], error) {
	return o.store.Get(ctx, id)
}

// List returns every document in the store.
func (o *Orchestrator[T]) List(ctx context.Context) ([]Document[T], error) {
	return o.store.GetAll(ctx)
}

// Create synthesizes an id when one is not supplied, stamps a fresh version,
// writes through the store, records the change, emits document:created, and
// schedules a debounced push.
func (o *Orchestrator[T]) Create(ctx context.Context, data T, id ...DocumentID) (Document[T], error) {
	var docID DocumentID
	if len(id) > 0 && id[0] != "" {
		docID = id[0]
	} else {
		generated, err := o.generateID()
		if err != nil {
			return Document[T]{}, newEngineError("create", "id_generation_failed", err)
		}
		docID = generated
	}

	doc := Document[T]{ID: docID, Data: data, Version: Version{ID: docID, Timestamp: o.clock.Now()}}
	if err := o.store.Put(ctx, doc); err != nil {
		return Document[T]{}, newEngineError("create", "store_put_failed", err)
	}
	o.tracker.RecordCreate(doc, o.clock.Now())
	o.bus.Emit(EventDocumentCreated, DocumentEventPayload[T]{Document: doc})
	o.scheduleDebouncedPush()
	return doc, nil
}

// Put is an idempotent raw write. Per the documented imprecision in §9 Q1,
// previousVersion is reported as the written version rather than the prior
// stored version; see DESIGN.md for why this is preserved rather than fixed.
func (o *Orchestrator[T]) Put(ctx context.Context, doc Document[T]) error {
	if err := o.store.Put(ctx, doc); err != nil {
		return newEngineError("put", "store_put_failed", err)
	}
	o.tracker.RecordUpdate(doc, o.clock.Now())
	writtenVersion := doc.Version
	o.bus.Emit(EventDocumentUpdated, DocumentEventPayload[T]{Document: doc, PreviousVersion: &writtenVersion})
	o.scheduleDebouncedPush()
	return nil
}

// Update returns nil, nil if the document is absent; otherwise it clones
// with a strictly-greater timestamp (the monotonicity defense of §3),
// writes through, records the change, and emits document:updated with the
// prior version.
func (o *Orchestrator[T]) Update(ctx context.Context, id DocumentID, data T) (*Document[T], error) {
	existing, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, newEngineError("update", "store_get_failed", err)
	}
	if existing == nil {
		return nil, nil
	}

	priorVersion := existing.Version
	newTimestamp := o.clock.Now()
	if newTimestamp <= priorVersion.Timestamp {
		newTimestamp = priorVersion.Timestamp + 1
	}
	updated := Document[T]{ID: id, Data: data, Version: Version{ID: id, Timestamp: newTimestamp}, Deleted: existing.Deleted}

	if err := o.store.Put(ctx, updated); err != nil {
		return nil, newEngineError("update", "store_put_failed", err)
	}
	o.tracker.RecordUpdate(updated, o.clock.Now())
	o.bus.Emit(EventDocumentUpdated, DocumentEventPayload[T]{Document: updated, PreviousVersion: &priorVersion})
	o.scheduleDebouncedPush()
	return &updated, nil
}

// Delete returns false if the document is absent; otherwise it removes it
// from the store, records the change, and emits document:deleted.
func (o *Orchestrator[T]) Delete(ctx context.Context, id DocumentID) (bool, error) {
	existing, err := o.store.Get(ctx, id)
	if err != nil {
		return false, newEngineError("delete", "store_get_failed", err)
	}
	if existing == nil {
		return false, nil
	}

	if err := o.store.Delete(ctx, id); err != nil {
		return false, newEngineError("delete", "store_delete_failed", err)
	}
	o.tracker.RecordDelete(id, existing.Version, o.clock.Now())
	o.bus.Emit(EventDocumentDeleted, DocumentEventPayload[T]{
		Document: Document[T]{ID: id, Version: existing.Version, Deleted: true},
	})
	o.scheduleDebouncedPush()
	return true, nil
}

func (o *Orchestrator[T]) generateID() (DocumentID, error) {
	if o.idGenerator != nil {
		return o.idGenerator()
	}
	return DocumentID(fmt.Sprintf("doc-%d", o.clock.Now())), nil
}

// ---- Sync state machine (§4.5.4) ----

// Sync runs Pull then Push in sequence. Each guards its own entry
// independently, so Sync itself never needs (or holds) the permit.
func (o *Orchestrator[T]) Sync(ctx context.Context) {
	o.Pull(ctx)
	o.Push(ctx)
}

func (o *Orchestrator[T]) tryAcquireSync() bool {
	return o.syncing.CompareAndSwap(false, true)
}

func (o *Orchestrator[T]) releaseSync() {
	o.syncing.Store(false)
	o.emitStateChanged()
}

// Pull is a no-op while syncing or offline. On success it applies every
// remote change, advances lastPullTs, and persists it; on failure it emits
// sync:failed without advancing lastPullTs.
func (o *Orchestrator[T]) Pull(ctx context.Context) {
	if !o.IsOnline() {
		return
	}
	if !o.tryAcquireSync() {
		return
	}
	defer o.releaseSync()

	o.bus.Emit(EventSyncStarted, SyncEventPayload{Type: SyncPhasePull})

	result, err := o.retryPull(ctx)
	if err != nil {
		o.bus.Emit(EventSyncFailed, SyncEventPayload{Type: SyncPhasePull, Error: err})
		return
	}

	for _, change := range result.Changes {
		o.applyRemoteChange(ctx, change)
	}

	o.stateMu.Lock()
	o.lastPullTs = result.Timestamp
	o.stateMu.Unlock()
	if setErr := o.store.SetLastSyncTimestamp(ctx, result.Timestamp); setErr != nil {
		o.logger.Warn("failed to persist last pull timestamp", zap.Error(setErr))
	}
	o.bus.Emit(EventSyncCompleted, SyncEventPayload{Type: SyncPhasePull, ChangeCount: len(result.Changes)})
}

func (o *Orchestrator[T]) retryPull(ctx context.Context) (PullResult[T], error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		result, err := o.transport.Pull(ctx, o.lastPullTimestamp())
		if err == nil && result.Success {
			return result, nil
		}
		if err == nil {
			err = fmt.Errorf("pull reported failure: %v", result.Error)
		}
		lastErr = err
		if attempt < o.cfg.RetryAttempts {
			o.sleepBackoff(ctx, attempt)
		}
	}
	return PullResult[T]{}, lastErr
}

func (o *Orchestrator[T]) lastPullTimestamp() Timestamp {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastPullTs
}

func (o *Orchestrator[T]) lastPushTimestamp() Timestamp {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastPushTs
}

// Push is a no-op while syncing, offline, or with an empty queue. It
// snapshots up to batchSize pending changes, pushes them, resolves any
// returned conflicts, then clears everything up to and including the
// pushed batch from the tracker.
func (o *Orchestrator[T]) Push(ctx context.Context) {
	if !o.tracker.HasPendingChanges() {
		return
	}
	if !o.IsOnline() {
		return
	}
	if !o.tryAcquireSync() {
		return
	}
	defer o.releaseSync()

	o.bus.Emit(EventSyncStarted, SyncEventPayload{Type: SyncPhasePush})

	pending := o.tracker.GetPendingChanges()
	batchSize := o.cfg.BatchSize
	if batchSize <= 0 || batchSize > len(pending) {
		batchSize = len(pending)
	}
	pushed := pending[:batchSize]

	lastPush := o.lastPushTimestamp()
	batch := ChangeBatch[T]{Changes: pushed, LastSyncTimestamp: &lastPush}

	result, err := o.retryPush(ctx, batch)
	if err != nil {
		o.bus.Emit(EventSyncFailed, SyncEventPayload{Type: SyncPhasePush, Error: err})
		return
	}

	for _, conflict := range result.Conflicts {
		o.resolveConflict(ctx, conflict)
	}

	cutoff := maxLocalTimestamp(pushed) + 1
	o.tracker.ClearChangesBefore(cutoff)

	if result.Timestamp != nil {
		o.stateMu.Lock()
		o.lastPushTs = *result.Timestamp
		o.stateMu.Unlock()
		if setErr := o.store.SetLastSyncTimestamp(ctx, *result.Timestamp); setErr != nil {
			o.logger.Warn("failed to persist last push timestamp", zap.Error(setErr))
		}
	}

	o.bus.Emit(EventSyncCompleted, SyncEventPayload{Type: SyncPhasePush, ChangeCount: len(pushed)})
}

func (o *Orchestrator[T]) retryPush(ctx context.Context, batch ChangeBatch[T]) (PushResult[T], error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		result, err := o.transport.Push(ctx, batch)
		if err == nil && result.Success {
			return result, nil
		}
		if err == nil {
			err = fmt.Errorf("push reported failure: %v", result.Error)
		}
		lastErr = err
		if attempt < o.cfg.RetryAttempts {
			o.sleepBackoff(ctx, attempt)
		}
	}
	return PushResult[T]{}, lastErr
}

func (o *Orchestrator[T]) sleepBackoff(ctx context.Context, attempt int) {
	delay := o.cfg.RetryDelay * time.Duration(uint64(1)<<uint(attempt-1))
	o.scheduler.Sleep(ctx, delay)
}

func maxLocalTimestamp[T any](changes []ChangeRecord[T]) Timestamp {
	var max Timestamp
	for _, change := range changes {
		if change.LocalTimestamp > max {
			max = change.LocalTimestamp
		}
	}
	return max
}

// ---- Applying remote changes (§4.5.5) and conflict resolution (§4.5.6) ----

func (o *Orchestrator[T]) applyRemoteChange(ctx context.Context, change ChangeRecord[T]) {
	if change.Op == ChangeOpDelete {
		if err := o.store.Delete(ctx, change.ID); err != nil {
			o.emitApplyFailure(change.ID, err)
		}
		return
	}

	if change.Data == nil {
		return
	}

	existing, err := o.store.Get(ctx, change.ID)
	if err != nil {
		o.emitApplyFailure(change.ID, err)
		return
	}

	if existing != nil && existing.Version.Timestamp > change.Version.Timestamp {
		o.resolveConflict(ctx, ConflictInfo[T]{
			DocumentID:    change.ID,
			LocalVersion:  existing.Version,
			RemoteVersion: change.Version,
			LocalData:     existing.Data,
			RemoteData:    *change.Data,
		})
		return
	}

	doc := Document[T]{ID: change.ID, Data: *change.Data, Version: change.Version, Deleted: false}
	if err := o.store.Put(ctx, doc); err != nil {
		o.emitApplyFailure(change.ID, err)
	}
}

func (o *Orchestrator[T]) emitApplyFailure(id DocumentID, cause error) {
	o.bus.Emit(EventSyncFailed, SyncEventPayload{
		Type:  SyncPhasePull,
		Error: fmt.Errorf("Failed to apply remote change for %s: %w", id, cause),
	})
}

func (o *Orchestrator[T]) resolveConflict(ctx context.Context, conflict ConflictInfo[T]) {
	o.bus.Emit(EventConflictDetected, ConflictEventPayload[T]{DocumentID: conflict.DocumentID, Conflict: conflict})

	resolution, err := o.resolver.Resolve(ctx, conflict)
	if err != nil {
		o.bus.Emit(EventSyncFailed, SyncEventPayload{
			Type:  SyncPhasePush,
			Error: fmt.Errorf("Failed to resolve conflict for %s: %w", conflict.DocumentID, err),
		})
		return
	}
	resolution = clampResolution(o.logger, conflict, resolution)

	doc := Document[T]{ID: conflict.DocumentID, Data: resolution.ResolvedData, Version: resolution.ResolvedVersion}
	if err := o.store.Put(ctx, doc); err != nil {
		o.bus.Emit(EventSyncFailed, SyncEventPayload{
			Type:  SyncPhasePush,
			Error: fmt.Errorf("Failed to resolve conflict for %s: %w", conflict.DocumentID, err),
		})
		return
	}
	o.tracker.RecordUpdate(doc, o.clock.Now())
	o.bus.Emit(EventConflictResolved, ConflictEventPayload[T]{
		DocumentID: conflict.DocumentID,
		Conflict:   conflict,
		Resolution: &resolution,
	})
}

// clampResolution enforces §9 Q5: a resolver returning ts < max(local, remote)
// would regress the version history, so the write is clamped up to that maximum.
func clampResolution[T any](logger *zap.Logger, conflict ConflictInfo[T], resolution ConflictResolution[T]) ConflictResolution[T] {
	maxTimestamp := conflict.LocalVersion.Timestamp
	if conflict.RemoteVersion.Timestamp > maxTimestamp {
		maxTimestamp = conflict.RemoteVersion.Timestamp
	}
	if resolution.ResolvedVersion.Timestamp < maxTimestamp {
		logger.Warn("resolver returned a version older than the newer side; clamping",
			zap.String("document_id", conflict.DocumentID.String()))
		resolution.ResolvedVersion.Timestamp = maxTimestamp
	}
	return resolution
}

// ---- Connectivity tracking (§4.5.7) ----

func (o *Orchestrator[T]) probeOnlineStatus(ctx context.Context) {
	wasOnline := o.IsOnline()

	online, err := o.transport.IsOnline(ctx)
	if err != nil {
		if !wasOnline {
			return
		}
		o.setOnline(false)
		o.bus.Emit(EventConnectionOffline, nil)
		o.emitStateChanged()
		return
	}

	if online == wasOnline {
		return
	}
	o.setOnline(online)
	if online {
		o.bus.Emit(EventConnectionOnline, nil)
	} else {
		o.bus.Emit(EventConnectionOffline, nil)
	}
	o.emitStateChanged()

	if online && !wasOnline {
		o.scheduler.After(o.cfg.PostOnlineSyncDelay, func() {
			if o.isStarted() {
				o.Sync(context.Background())
			}
		})
	}
}

func (o *Orchestrator[T]) setOnline(online bool) {
	o.stateMu.Lock()
	o.isOnline = online
	o.stateMu.Unlock()
}

func (o *Orchestrator[T]) isStarted() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.started
}

func (o *Orchestrator[T]) emitStateChanged() {
	o.bus.Emit(EventStateChanged, StateChangedPayload{State: o.GetSyncState()})
}

// ---- Real-time intake (§4.5.8) ----

func (o *Orchestrator[T]) handleRealtimeChanges(ctx context.Context, changes []ChangeRecord[T]) {
	if !o.isStarted() {
		return
	}
	for _, change := range changes {
		o.applyRemoteChange(ctx, change)
	}
	o.emitStateChanged()
}

// ---- Debounced push (§4.5.9) ----

func (o *Orchestrator[T]) scheduleDebouncedPush() {
	o.debounceMu.Lock()
	defer o.debounceMu.Unlock()
	if o.debounceCancel != nil {
		o.debounceCancel()
	}
	o.debounceCancel = o.scheduler.After(o.cfg.DebounceDelay, func() {
		o.Push(context.Background())
	})
}
