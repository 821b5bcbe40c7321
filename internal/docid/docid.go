// Package docid provides a UUIDv7 document id generator compatible with
// syncengine.IDGenerator.
package docid

import (
	"github.com/google/uuid"

	"github.com/meridiansync/syncd/internal/syncengine"
)

// NewGenerator returns a syncengine.IDGenerator backed by UUIDv7, so
// generated document ids are lexicographically sortable by creation time —
// useful for the tie-break half of syncengine.CompareVersions.
func NewGenerator() syncengine.IDGenerator {
	return func() (syncengine.DocumentID, error) {
		value, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return syncengine.DocumentID(value.String()), nil
	}
}
