// Package sqlitestore is the reference persistence layer for syncengine: a
// GORM-backed SQLite implementation of syncengine.Store[T]. It is one
// pluggable implementation among many the orchestrator could use, not a
// requirement — concrete persistence is a non-goal of the engine itself.
package sqlitestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridiansync/syncd/internal/syncengine"
)

// Store is a GORM+SQLite implementation of syncengine.Store[T]. The payload
// type T is serialized to JSON text; callers needing a different wire
// encoding should implement their own Store.
type Store[T any] struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open establishes a SQLite connection at path and migrates the schema. A
// single max-open-connection cap matches the teacher's sqlite setup, since
// the pure-Go SQLite driver does not benefit from connection pooling.
func Open[T any](path string, logger *zap.Logger) (*Store[T], error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&documentRow{}, &changeRow{}, &metaRow{}); err != nil {
		return nil, err
	}

	logger.Info("sync store initialized", zap.String("path", path))
	return &Store[T]{db: db, logger: logger}, nil
}

// Close releases the underlying database handle. Satisfies io.Closer, which
// syncengine.Orchestrator.Stop checks for via type assertion.
func (store *Store[T]) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodePayload[T any](data T) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodePayload[T any](raw string) (T, error) {
	var data T
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return data, err
	}
	return data, nil
}

func toDocumentRow[T any](doc syncengine.Document[T]) (documentRow, error) {
	encoded, err := encodePayload(doc.Data)
	if err != nil {
		return documentRow{}, err
	}
	return documentRow{
		ID:        doc.ID.String(),
		Data:      encoded,
		VersionTS: int64(doc.Version.Timestamp),
		Deleted:   doc.Deleted,
	}, nil
}

func fromDocumentRow[T any](row documentRow) (syncengine.Document[T], error) {
	data, err := decodePayload[T](row.Data)
	if err != nil {
		return syncengine.Document[T]{}, err
	}
	id := syncengine.DocumentID(row.ID)
	return syncengine.Document[T]{
		ID:      id,
		Data:    data,
		Version: syncengine.Version{ID: id, Timestamp: syncengine.Timestamp(row.VersionTS)},
		Deleted: row.Deleted,
	}, nil
}

// Get returns the current row for id, or nil if absent.
func (store *Store[T]) Get(ctx context.Context, id syncengine.DocumentID) (*syncengine.Document[T], error) {
	var row documentRow
	err := store.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := fromDocumentRow[T](row)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Put upserts the current row for doc.ID.
func (store *Store[T]) Put(ctx context.Context, doc syncengine.Document[T]) error {
	row, err := toDocumentRow(doc)
	if err != nil {
		return err
	}
	return store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Delete removes the current row for id. Deletion is a hard delete at this
// layer; the orchestrator's change log is what preserves tombstone intent
// for the other side of a sync.
func (store *Store[T]) Delete(ctx context.Context, id syncengine.DocumentID) error {
	return store.db.WithContext(ctx).Delete(&documentRow{}, "id = ?", id.String()).Error
}

// GetBatch reads multiple documents in one query.
func (store *Store[T]) GetBatch(ctx context.Context, ids []syncengine.DocumentID) ([]syncengine.Document[T], error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	var rows []documentRow
	if err := store.db.WithContext(ctx).Where("id IN ?", raw).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeRows[T](rows)
}

// PutBatch upserts multiple documents inside one transaction.
func (store *Store[T]) PutBatch(ctx context.Context, docs []syncengine.Document[T]) error {
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, doc := range docs {
			row, err := toDocumentRow(doc)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAll returns every document row, including soft-deleted ones.
func (store *Store[T]) GetAll(ctx context.Context) ([]syncengine.Document[T], error) {
	var rows []documentRow
	if err := store.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeRows[T](rows)
}

// GetAllIDs returns every document id without decoding payloads.
func (store *Store[T]) GetAllIDs(ctx context.Context) ([]syncengine.DocumentID, error) {
	var raw []string
	if err := store.db.WithContext(ctx).Model(&documentRow{}).Pluck("id", &raw).Error; err != nil {
		return nil, err
	}
	ids := make([]syncengine.DocumentID, len(raw))
	for i, id := range raw {
		ids[i] = syncengine.DocumentID(id)
	}
	return ids, nil
}

func decodeRows[T any](rows []documentRow) ([]syncengine.Document[T], error) {
	docs := make([]syncengine.Document[T], 0, len(rows))
	for _, row := range rows {
		doc, err := fromDocumentRow[T](row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetChangesSince returns logged changes with LocalTimestamp > ts, oldest first.
func (store *Store[T]) GetChangesSince(ctx context.Context, ts syncengine.Timestamp) ([]syncengine.ChangeRecord[T], error) {
	var rows []changeRow
	err := store.db.WithContext(ctx).
		Where("local_timestamp > ?", int64(ts)).
		Order("local_timestamp ASC, sequence_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	changes := make([]syncengine.ChangeRecord[T], 0, len(rows))
	for _, row := range rows {
		change, err := fromChangeRow[T](row)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// PutChange appends a change row.
func (store *Store[T]) PutChange(ctx context.Context, change syncengine.ChangeRecord[T]) error {
	row, err := toChangeRow(change)
	if err != nil {
		return err
	}
	return store.db.WithContext(ctx).Create(&row).Error
}

// ClearChangesBefore deletes logged changes with LocalTimestamp < ts,
// mirroring ChangeTracker.ClearChangesBefore's cutoff-inclusive retention.
func (store *Store[T]) ClearChangesBefore(ctx context.Context, ts syncengine.Timestamp) error {
	return store.db.WithContext(ctx).Where("local_timestamp < ?", int64(ts)).Delete(&changeRow{}).Error
}

func toChangeRow[T any](change syncengine.ChangeRecord[T]) (changeRow, error) {
	row := changeRow{
		DocumentID:     change.ID.String(),
		Op:             string(change.Op),
		VersionID:      change.Version.ID.String(),
		VersionTS:      int64(change.Version.Timestamp),
		LocalTimestamp: int64(change.LocalTimestamp),
	}
	if change.Data != nil {
		encoded, err := encodePayload(*change.Data)
		if err != nil {
			return changeRow{}, err
		}
		row.Data = &encoded
	}
	return row, nil
}

func fromChangeRow[T any](row changeRow) (syncengine.ChangeRecord[T], error) {
	change := syncengine.ChangeRecord[T]{
		ID:             syncengine.DocumentID(row.DocumentID),
		Op:             syncengine.ChangeOp(row.Op),
		Version:        syncengine.Version{ID: syncengine.DocumentID(row.VersionID), Timestamp: syncengine.Timestamp(row.VersionTS)},
		LocalTimestamp: syncengine.Timestamp(row.LocalTimestamp),
	}
	if row.Data != nil {
		data, err := decodePayload[T](*row.Data)
		if err != nil {
			return syncengine.ChangeRecord[T]{}, err
		}
		change.Data = &data
	}
	return change, nil
}

// GetLastSyncTimestamp reads the persisted bookmark, defaulting to 0.
func (store *Store[T]) GetLastSyncTimestamp(ctx context.Context) (syncengine.Timestamp, error) {
	var row metaRow
	err := store.db.WithContext(ctx).Where("key = ?", metaKeyLastSyncTimestamp).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return syncengine.Timestamp(row.Value), nil
}

// SetLastSyncTimestamp persists the bookmark.
func (store *Store[T]) SetLastSyncTimestamp(ctx context.Context, ts syncengine.Timestamp) error {
	row := metaRow{Key: metaKeyLastSyncTimestamp, Value: int64(ts)}
	return store.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}
