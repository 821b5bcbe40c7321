// Package syncengine implements the offline-first document synchronization
// core: the version model, the pending-change log, the pluggable conflict
// resolver, the event bus, and the orchestrator that ties them together.
package syncengine

import (
	"errors"
	"fmt"
)

// ErrInvalidDocumentID indicates an empty document identifier was supplied.
var ErrInvalidDocumentID = errors.New("syncengine: invalid document id")

// DocumentID is an opaque, non-empty identifier stable for a document's lifetime.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	if rawInput == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	return DocumentID(rawInput), nil
}

// String returns the underlying identifier.
func (id DocumentID) String() string {
	return string(id)
}

// Timestamp is a millisecond-resolution wall-clock value. The engine never
// assumes it is monotonic across calls to now(); see Version monotonicity
// defense in the orchestrator.
type Timestamp int64

// Version totally orders document revisions by (Timestamp, ID), with the
// identifier as tiebreak so two writers stamping the same millisecond still
// resolve deterministically.
type Version struct {
	ID        DocumentID
	Timestamp Timestamp
}

// CompareVersions returns -1, 0, or +1 comparing a to b, ordering first by
// Timestamp then lexicographically by ID.
func CompareVersions(a, b Version) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// Document is the externally-visible, versioned unit of synchronization. It
// is parametric in the payload type T; serialization to and from the wire is
// the transport's concern, not the engine's.
type Document[T any] struct {
	ID      DocumentID
	Data    T
	Version Version
	Deleted bool
}

// ChangeOp is the closed set of mutation kinds a ChangeRecord can describe.
type ChangeOp string

const (
	// ChangeOpCreate records a new document.
	ChangeOpCreate ChangeOp = "create"
	// ChangeOpUpdate records a mutation of an existing document.
	ChangeOpUpdate ChangeOp = "update"
	// ChangeOpDelete records a soft removal; it carries no data payload.
	ChangeOpDelete ChangeOp = "delete"
)

// ChangeRecord describes a single local or remote mutation queued for sync.
// Data is present iff Op is not ChangeOpDelete.
type ChangeRecord[T any] struct {
	ID             DocumentID
	Op             ChangeOp
	Data           *T
	Version        Version
	LocalTimestamp Timestamp
}

// ChangeBatch is the payload of a single push: an ordered subsequence of the
// pending queue, oldest LocalTimestamp first, plus the timestamp of the last
// successful sync known to the sender.
type ChangeBatch[T any] struct {
	Changes           []ChangeRecord[T]
	LastSyncTimestamp *Timestamp
}

// ConflictInfo captures a side-by-side divergence that must be resolved
// pointwise: either the server reported a conflict, or an incoming remote
// version is older than the local head.
type ConflictInfo[T any] struct {
	DocumentID    DocumentID
	LocalVersion  Version
	RemoteVersion Version
	LocalData     T
	RemoteData    T
}

// ConflictResolution is the result a Resolver returns. The caller writes
// ResolvedVersion back as the document's new head, so its Timestamp must be
// at least the greater of the two conflicting versions' timestamps.
type ConflictResolution[T any] struct {
	ResolvedData    T
	ResolvedVersion Version
}

// SyncState is a point-in-time snapshot of the orchestrator, recomputed on
// demand rather than maintained incrementally.
type SyncState struct {
	LastPullTimestamp Timestamp
	LastPushTimestamp Timestamp
	PendingChanges    int
	IsOnline          bool
	IsSyncing         bool
}
