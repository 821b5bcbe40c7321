package syncengine

import "context"

// Resolver resolves a pointwise conflict between a local and a remote
// version of the same document. The returned resolution's version must be
// safe for the caller to write back as the document's new head.
type Resolver[T any] interface {
	Resolve(ctx context.Context, conflict ConflictInfo[T]) (ConflictResolution[T], error)
}

// LWWResolver is the default Last-Write-Wins resolver: the remote side wins
// when its timestamp is strictly greater, ties are broken by the greater
// document id, otherwise local wins. The chosen side's version is returned
// verbatim.
type LWWResolver[T any] struct{}

// NewLWWResolver returns the default Last-Write-Wins resolver.
func NewLWWResolver[T any]() LWWResolver[T] {
	return LWWResolver[T]{}
}

// Resolve implements Resolver.
func (LWWResolver[T]) Resolve(_ context.Context, conflict ConflictInfo[T]) (ConflictResolution[T], error) {
	remoteWins := conflict.RemoteVersion.Timestamp > conflict.LocalVersion.Timestamp
	tie := conflict.RemoteVersion.Timestamp == conflict.LocalVersion.Timestamp
	if tie && conflict.RemoteVersion.ID > conflict.LocalVersion.ID {
		remoteWins = true
	}

	if remoteWins {
		return ConflictResolution[T]{
			ResolvedData:    conflict.RemoteData,
			ResolvedVersion: conflict.RemoteVersion,
		}, nil
	}
	return ConflictResolution[T]{
		ResolvedData:    conflict.LocalData,
		ResolvedVersion: conflict.LocalVersion,
	}, nil
}

// MergeFn attempts to merge local and remote payloads into one. Returning an
// error, or ok == false, signals that the merge could not be performed and
// the fallback resolver should run.
type MergeFn[T any] func(local, remote T) (merged T, ok bool, err error)

// MergeResolver runs a user-supplied merge function; on success it
// synthesizes a version with Timestamp = max(local.Timestamp,
// remote.Timestamp). On failure, or when the merge reports !ok, it delegates
// to Fallback.
type MergeResolver[T any] struct {
	Merge    MergeFn[T]
	Fallback Resolver[T]
}

// Resolve implements Resolver.
func (resolver MergeResolver[T]) Resolve(ctx context.Context, conflict ConflictInfo[T]) (ConflictResolution[T], error) {
	if resolver.Merge != nil {
		merged, ok, err := resolver.Merge(conflict.LocalData, conflict.RemoteData)
		if err == nil && ok {
			ts := conflict.LocalVersion.Timestamp
			if conflict.RemoteVersion.Timestamp > ts {
				ts = conflict.RemoteVersion.Timestamp
			}
			return ConflictResolution[T]{
				ResolvedData:    merged,
				ResolvedVersion: Version{ID: conflict.DocumentID, Timestamp: ts},
			}, nil
		}
	}
	return resolver.Fallback.Resolve(ctx, conflict)
}
