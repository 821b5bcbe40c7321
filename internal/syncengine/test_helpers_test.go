package syncengine

import (
	"context"
	"sync"
	"time"
)

// stubClock is a Clock test double whose value is advanced explicitly.
type stubClock struct {
	mu  sync.Mutex
	now Timestamp
}

func newStubClock(start Timestamp) *stubClock {
	return &stubClock{now: start}
}

func (c *stubClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(delta Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += delta
}

func (c *stubClock) Set(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

type scheduledCall struct {
	fn        func()
	recurring bool
	cancelled bool
}

// stubScheduler replaces real timers with calls the test fires explicitly,
// so debounce/periodic/post-online-sync behavior is deterministic.
type stubScheduler struct {
	mu    sync.Mutex
	calls []*scheduledCall
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{}
}

func (s *stubScheduler) schedule(fn func(), recurring bool) CancelFunc {
	s.mu.Lock()
	call := &scheduledCall{fn: fn, recurring: recurring}
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		call.cancelled = true
		s.mu.Unlock()
	}
}

func (s *stubScheduler) After(_ time.Duration, fn func()) CancelFunc {
	return s.schedule(fn, false)
}

func (s *stubScheduler) Every(_ time.Duration, fn func()) CancelFunc {
	return s.schedule(fn, true)
}

// Sleep is a no-op: retry backoff must not cost wall-clock time in tests.
func (s *stubScheduler) Sleep(_ context.Context, _ time.Duration) {}

// FireOneShot invokes every pending (non-cancelled, non-recurring) call once,
// in registration order, then discards them — mirroring that a one-shot
// timer only ever fires once.
func (s *stubScheduler) FireOneShot() {
	s.mu.Lock()
	var due []*scheduledCall
	var kept []*scheduledCall
	for _, call := range s.calls {
		if !call.recurring && !call.cancelled {
			due = append(due, call)
			continue
		}
		kept = append(kept, call)
	}
	s.calls = kept
	s.mu.Unlock()
	for _, call := range due {
		call.fn()
	}
}

// FireRecurring invokes every pending (non-cancelled, recurring) call once.
func (s *stubScheduler) FireRecurring() {
	s.mu.Lock()
	var due []*scheduledCall
	for _, call := range s.calls {
		if call.recurring && !call.cancelled {
			due = append(due, call)
		}
	}
	s.mu.Unlock()
	for _, call := range due {
		call.fn()
	}
}

// stubStore is an in-memory Store double with injectable failures.
type stubStore[T any] struct {
	mu       sync.Mutex
	docs     map[DocumentID]Document[T]
	lastSync Timestamp

	getErr    error
	putErr    error
	deleteErr error
}

func newStubStore[T any]() *stubStore[T] {
	return &stubStore[T]{docs: make(map[DocumentID]Document[T])}
}

func (s *stubStore[T]) Get(_ context.Context, id DocumentID) (*Document[T], error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *stubStore[T]) Put(_ context.Context, doc Document[T]) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubStore[T]) Delete(_ context.Context, id DocumentID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *stubStore[T]) GetBatch(ctx context.Context, ids []DocumentID) ([]Document[T], error) {
	out := make([]Document[T], 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *stubStore[T]) PutBatch(ctx context.Context, docs []Document[T]) error {
	for _, doc := range docs {
		if err := s.Put(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubStore[T]) GetAll(_ context.Context) ([]Document[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document[T], 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	return out, nil
}

func (s *stubStore[T]) GetAllIDs(ctx context.Context) ([]DocumentID, error) {
	docs, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]DocumentID, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (s *stubStore[T]) GetChangesSince(_ context.Context, _ Timestamp) ([]ChangeRecord[T], error) {
	return nil, nil
}

func (s *stubStore[T]) PutChange(_ context.Context, _ ChangeRecord[T]) error {
	return nil
}

func (s *stubStore[T]) ClearChangesBefore(_ context.Context, _ Timestamp) error {
	return nil
}

func (s *stubStore[T]) GetLastSyncTimestamp(_ context.Context) (Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, nil
}

func (s *stubStore[T]) SetLastSyncTimestamp(_ context.Context, ts Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = ts
	return nil
}

func (s *stubStore[T]) seed(doc Document[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
}

// stubTransport is a Transport+RealtimeTransport double: online state, pull
// and push results (or per-call error sequences, for retry-then-succeed
// scenarios) are all set directly by the test.
type stubTransport[T any] struct {
	mu sync.Mutex

	online    bool
	onlineErr error

	pullResult   PullResult[T]
	pullErr      error
	pullAttempts []error
	pullCalls    int

	pushResult   PushResult[T]
	pushErr      error
	pushAttempts []error
	pushCalls    int

	realtimeCb func(changes []ChangeRecord[T])
}

func newStubTransport[T any]() *stubTransport[T] {
	return &stubTransport[T]{online: true}
}

func (t *stubTransport[T]) IsOnline(_ context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onlineErr != nil {
		return false, t.onlineErr
	}
	return t.online, nil
}

func (t *stubTransport[T]) Pull(_ context.Context, _ Timestamp) (PullResult[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempt := t.pullCalls
	t.pullCalls++
	if attempt < len(t.pullAttempts) && t.pullAttempts[attempt] != nil {
		return PullResult[T]{}, t.pullAttempts[attempt]
	}
	if t.pullErr != nil {
		return PullResult[T]{}, t.pullErr
	}
	return t.pullResult, nil
}

func (t *stubTransport[T]) Push(_ context.Context, _ ChangeBatch[T]) (PushResult[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempt := t.pushCalls
	t.pushCalls++
	if attempt < len(t.pushAttempts) && t.pushAttempts[attempt] != nil {
		return PushResult[T]{}, t.pushAttempts[attempt]
	}
	if t.pushErr != nil {
		return PushResult[T]{}, t.pushErr
	}
	return t.pushResult, nil
}

func (t *stubTransport[T]) OnRemoteChange(cb func(changes []ChangeRecord[T])) (unsubscribe func()) {
	t.mu.Lock()
	t.realtimeCb = cb
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.realtimeCb = nil
		t.mu.Unlock()
	}
}

func (t *stubTransport[T]) emitRemoteChanges(changes []ChangeRecord[T]) {
	t.mu.Lock()
	cb := t.realtimeCb
	t.mu.Unlock()
	if cb != nil {
		cb(changes)
	}
}

func (t *stubTransport[T]) setOnline(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = online
}

// basicTransport wraps a stubTransport but deliberately does not expose
// OnRemoteChange, so RealtimeTransport type assertions against it fail. No
// test in this package constructs it.
type basicTransport[T any] struct {
	inner *stubTransport[T]
}

func (b *basicTransport[T]) IsOnline(ctx context.Context) (bool, error) {
	return b.inner.IsOnline(ctx)
}

func (b *basicTransport[T]) Pull(ctx context.Context, since Timestamp) (PullResult[T], error) {
	return b.inner.Pull(ctx, since)
}

func (b *basicTransport[T]) Push(ctx context.Context, batch ChangeBatch[T]) (PushResult[T], error) {
	return b.inner.Push(ctx, batch)
}
