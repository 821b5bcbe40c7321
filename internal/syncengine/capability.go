package syncengine

import "context"

// Store is the durable-persistence capability consumed by the orchestrator.
// Concrete persistence is pluggable; internal/sqlitestore is one reference
// implementation, not a requirement. Implementations that hold resources
// worth releasing may additionally implement io.Closer; Stop() checks for it
// via type assertion rather than requiring it here.
type Store[T any] interface {
	Get(ctx context.Context, id DocumentID) (*Document[T], error)
	Put(ctx context.Context, doc Document[T]) error
	Delete(ctx context.Context, id DocumentID) error

	GetBatch(ctx context.Context, ids []DocumentID) ([]Document[T], error)
	PutBatch(ctx context.Context, docs []Document[T]) error

	GetAll(ctx context.Context) ([]Document[T], error)
	GetAllIDs(ctx context.Context) ([]DocumentID, error)

	GetChangesSince(ctx context.Context, ts Timestamp) ([]ChangeRecord[T], error)
	PutChange(ctx context.Context, change ChangeRecord[T]) error
	ClearChangesBefore(ctx context.Context, ts Timestamp) error

	GetLastSyncTimestamp(ctx context.Context) (Timestamp, error)
	SetLastSyncTimestamp(ctx context.Context, ts Timestamp) error
}

// PullResult is the outcome of a single Transport.Pull call.
type PullResult[T any] struct {
	Success   bool
	Changes   []ChangeRecord[T]
	Timestamp Timestamp
	Error     error
}

// PushResult is the outcome of a single Transport.Push call.
type PushResult[T any] struct {
	Success   bool
	Conflicts []ConflictInfo[T]
	Timestamp *Timestamp
	Error     error
}

// Transport is the remote-connectivity capability consumed by the
// orchestrator. Concrete wire transport is pluggable; internal/httptransport
// is one reference implementation, not a requirement.
type Transport[T any] interface {
	Push(ctx context.Context, batch ChangeBatch[T]) (PushResult[T], error)
	Pull(ctx context.Context, since Timestamp) (PullResult[T], error)
	IsOnline(ctx context.Context) (bool, error)
}

// RealtimeTransport is an optional extension: a transport that can push
// remote changes to the orchestrator out-of-band, without waiting for the
// next pull. The orchestrator checks for this via type assertion.
type RealtimeTransport[T any] interface {
	Transport[T]
	// OnRemoteChange registers cb to be invoked whenever the transport
	// observes remote changes, and returns an unsubscribe function.
	OnRemoteChange(cb func(changes []ChangeRecord[T])) (unsubscribe func())
}
