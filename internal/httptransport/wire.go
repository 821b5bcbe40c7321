// Package httptransport is the reference HTTP implementation of
// syncengine.Transport[T] (client.go) plus the JSON wire format both the
// client and internal/httptransport/server speak (this file). Concrete
// transport is pluggable; nothing in syncengine imports this package.
package httptransport

import (
	"encoding/json"

	"github.com/meridiansync/syncd/internal/syncengine"
)

// wireVersion is the JSON shape of syncengine.Version.
type wireVersion struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

func toWireVersion(version syncengine.Version) wireVersion {
	return wireVersion{ID: version.ID.String(), Timestamp: int64(version.Timestamp)}
}

func fromWireVersion(version wireVersion) syncengine.Version {
	return syncengine.Version{ID: syncengine.DocumentID(version.ID), Timestamp: syncengine.Timestamp(version.Timestamp)}
}

// wireChangeRecord is the JSON shape of syncengine.ChangeRecord[T]. Data is
// omitted for deletes, matching ChangeRecord's own "Data present iff Op is
// not Delete" invariant.
type wireChangeRecord[T any] struct {
	ID             string      `json:"id"`
	Op             string      `json:"op"`
	Data           *T          `json:"data,omitempty"`
	Version        wireVersion `json:"version"`
	LocalTimestamp int64       `json:"localTimestamp"`
}

func toWireChangeRecord[T any](change syncengine.ChangeRecord[T]) wireChangeRecord[T] {
	return wireChangeRecord[T]{
		ID:             change.ID.String(),
		Op:             string(change.Op),
		Data:           change.Data,
		Version:        toWireVersion(change.Version),
		LocalTimestamp: int64(change.LocalTimestamp),
	}
}

func fromWireChangeRecord[T any](change wireChangeRecord[T]) syncengine.ChangeRecord[T] {
	return syncengine.ChangeRecord[T]{
		ID:             syncengine.DocumentID(change.ID),
		Op:             syncengine.ChangeOp(change.Op),
		Data:           change.Data,
		Version:        fromWireVersion(change.Version),
		LocalTimestamp: syncengine.Timestamp(change.LocalTimestamp),
	}
}

// wireChangeBatch is the JSON shape of syncengine.ChangeBatch[T]; it is also
// the POST /sync/push request body.
type wireChangeBatch[T any] struct {
	Changes           []wireChangeRecord[T] `json:"changes"`
	LastSyncTimestamp *int64                `json:"lastSyncTimestamp,omitempty"`
}

func toWireChangeBatch[T any](batch syncengine.ChangeBatch[T]) wireChangeBatch[T] {
	wire := wireChangeBatch[T]{Changes: make([]wireChangeRecord[T], len(batch.Changes))}
	for i, change := range batch.Changes {
		wire.Changes[i] = toWireChangeRecord(change)
	}
	if batch.LastSyncTimestamp != nil {
		value := int64(*batch.LastSyncTimestamp)
		wire.LastSyncTimestamp = &value
	}
	return wire
}

func fromWireChangeBatch[T any](wire wireChangeBatch[T]) syncengine.ChangeBatch[T] {
	batch := syncengine.ChangeBatch[T]{Changes: make([]syncengine.ChangeRecord[T], len(wire.Changes))}
	for i, change := range wire.Changes {
		batch.Changes[i] = fromWireChangeRecord(change)
	}
	if wire.LastSyncTimestamp != nil {
		value := syncengine.Timestamp(*wire.LastSyncTimestamp)
		batch.LastSyncTimestamp = &value
	}
	return batch
}

// wireConflictInfo is the JSON shape of syncengine.ConflictInfo[T].
type wireConflictInfo[T any] struct {
	DocumentID    string      `json:"documentId"`
	LocalVersion  wireVersion `json:"localVersion"`
	RemoteVersion wireVersion `json:"remoteVersion"`
	LocalData     T           `json:"localData"`
	RemoteData    T           `json:"remoteData"`
}

func toWireConflictInfo[T any](conflict syncengine.ConflictInfo[T]) wireConflictInfo[T] {
	return wireConflictInfo[T]{
		DocumentID:    conflict.DocumentID.String(),
		LocalVersion:  toWireVersion(conflict.LocalVersion),
		RemoteVersion: toWireVersion(conflict.RemoteVersion),
		LocalData:     conflict.LocalData,
		RemoteData:    conflict.RemoteData,
	}
}

func fromWireConflictInfo[T any](conflict wireConflictInfo[T]) syncengine.ConflictInfo[T] {
	return syncengine.ConflictInfo[T]{
		DocumentID:    syncengine.DocumentID(conflict.DocumentID),
		LocalVersion:  fromWireVersion(conflict.LocalVersion),
		RemoteVersion: fromWireVersion(conflict.RemoteVersion),
		LocalData:     conflict.LocalData,
		RemoteData:    conflict.RemoteData,
	}
}

// pullResponsePayload is the GET /sync/pull response body.
type pullResponsePayload[T any] struct {
	Success   bool                  `json:"success"`
	Changes   []wireChangeRecord[T] `json:"changes"`
	Timestamp int64                 `json:"timestamp"`
	Error     string                `json:"error,omitempty"`
}

// pushResponsePayload is the POST /sync/push response body.
type pushResponsePayload[T any] struct {
	Success   bool                  `json:"success"`
	Conflicts []wireConflictInfo[T] `json:"conflicts,omitempty"`
	Timestamp *int64                `json:"timestamp,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// EncodePullResponse renders a PullResult as the GET /sync/pull response
// body, exported so internal/httptransport/server can share this package's
// wire codec without duplicating it.
func EncodePullResponse[T any](result syncengine.PullResult[T]) ([]byte, error) {
	payload := pullResponsePayload[T]{
		Success:   result.Success,
		Timestamp: int64(result.Timestamp),
		Changes:   make([]wireChangeRecord[T], len(result.Changes)),
	}
	for i, change := range result.Changes {
		payload.Changes[i] = toWireChangeRecord(change)
	}
	if result.Error != nil {
		payload.Error = result.Error.Error()
	}
	return json.Marshal(payload)
}

// EncodePushResponse renders a PushResult as the POST /sync/push response body.
func EncodePushResponse[T any](result syncengine.PushResult[T]) ([]byte, error) {
	payload := pushResponsePayload[T]{
		Success:   result.Success,
		Conflicts: make([]wireConflictInfo[T], len(result.Conflicts)),
	}
	for i, conflict := range result.Conflicts {
		payload.Conflicts[i] = toWireConflictInfo(conflict)
	}
	if result.Timestamp != nil {
		value := int64(*result.Timestamp)
		payload.Timestamp = &value
	}
	if result.Error != nil {
		payload.Error = result.Error.Error()
	}
	return json.Marshal(payload)
}

// DecodeChangeBatch parses the POST /sync/push request body.
func DecodeChangeBatch[T any](raw []byte) (syncengine.ChangeBatch[T], error) {
	var wire wireChangeBatch[T]
	if err := json.Unmarshal(raw, &wire); err != nil {
		return syncengine.ChangeBatch[T]{}, err
	}
	return fromWireChangeBatch(wire), nil
}
