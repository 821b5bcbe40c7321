// Package server is the reference HTTP sync server: a gin router exposing
// the wire endpoints internal/httptransport.Client speaks, backed by a
// syncengine.Store[T] the server owns directly (it runs no Orchestrator of
// its own — it is the "remote" side a client syncs against).
package server

import (
	"context"

	"github.com/meridiansync/syncd/internal/syncengine"
)

// SyncService answers pull/push requests against a server-owned store. It
// never resolves conflicts itself: a push conflict is only detected and
// reported back, exactly like Transport.Push's contract describes — the
// calling orchestrator's configured Resolver always has the last word.
type SyncService[T any] struct {
	store syncengine.Store[T]
}

// NewSyncService constructs a SyncService over store.
func NewSyncService[T any](store syncengine.Store[T]) *SyncService[T] {
	return &SyncService[T]{store: store}
}

// Pull returns every change recorded after since, oldest first, alongside
// the current server timestamp as the new high-water mark.
func (service *SyncService[T]) Pull(ctx context.Context, since syncengine.Timestamp) (syncengine.PullResult[T], error) {
	changes, err := service.store.GetChangesSince(ctx, since)
	if err != nil {
		return syncengine.PullResult[T]{Success: false, Error: err}, nil
	}
	return syncengine.PullResult[T]{
		Success:   true,
		Changes:   changes,
		Timestamp: currentServerTimestamp(changes, since),
	}, nil
}

// currentServerTimestamp reports the newest timestamp the caller now knows
// about: the latest change's LocalTimestamp if any changes were returned,
// else the since the caller already had.
func currentServerTimestamp[T any](changes []syncengine.ChangeRecord[T], since syncengine.Timestamp) syncengine.Timestamp {
	if len(changes) == 0 {
		return since
	}
	latest := changes[0].LocalTimestamp
	for _, change := range changes[1:] {
		if change.LocalTimestamp > latest {
			latest = change.LocalTimestamp
		}
	}
	return latest
}

// Push applies each change in batch to the server's store. A change whose
// target already holds a newer version is left untouched and reported as a
// conflict; every other change is applied unconditionally.
func (service *SyncService[T]) Push(ctx context.Context, batch syncengine.ChangeBatch[T]) (syncengine.PushResult[T], error) {
	conflicts := make([]syncengine.ConflictInfo[T], 0)
	var latest syncengine.Timestamp

	for _, change := range batch.Changes {
		if err := service.store.PutChange(ctx, change); err != nil {
			return syncengine.PushResult[T]{Success: false, Error: err}, nil
		}
		conflict, err := service.applyChange(ctx, change)
		if err != nil {
			return syncengine.PushResult[T]{Success: false, Error: err}, nil
		}
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
		if change.LocalTimestamp > latest {
			latest = change.LocalTimestamp
		}
	}

	return syncengine.PushResult[T]{
		Success:   true,
		Conflicts: conflicts,
		Timestamp: &latest,
	}, nil
}

func (service *SyncService[T]) applyChange(ctx context.Context, change syncengine.ChangeRecord[T]) (*syncengine.ConflictInfo[T], error) {
	if change.Op == syncengine.ChangeOpDelete {
		return nil, service.store.Delete(ctx, change.ID)
	}
	if change.Data == nil {
		return nil, nil
	}

	existing, err := service.store.Get(ctx, change.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Version.Timestamp > change.Version.Timestamp {
		return &syncengine.ConflictInfo[T]{
			DocumentID:    change.ID,
			LocalVersion:  existing.Version,
			RemoteVersion: change.Version,
			LocalData:     existing.Data,
			RemoteData:    *change.Data,
		}, nil
	}

	doc := syncengine.Document[T]{ID: change.ID, Data: *change.Data, Version: change.Version}
	return nil, service.store.Put(ctx, doc)
}
