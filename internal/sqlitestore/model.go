package sqlitestore

// documentRow is the current-head table: one row per live or tombstoned document.
type documentRow struct {
	ID        string `gorm:"column:id;primaryKey;size:190"`
	Data      string `gorm:"column:data;type:text;not null"`
	VersionTS int64  `gorm:"column:version_ts;not null"`
	Deleted   bool   `gorm:"column:deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (documentRow) TableName() string {
	return "sync_documents"
}

// changeRow is the append-only pending-change log mirrored to disk so a
// process restart does not lose unpushed local mutations.
type changeRow struct {
	SequenceID     int64   `gorm:"column:sequence_id;primaryKey;autoIncrement"`
	DocumentID     string  `gorm:"column:document_id;size:190;not null;index:idx_sync_changes_document"`
	Op             string  `gorm:"column:op;size:16;not null"`
	Data           *string `gorm:"column:data;type:text"`
	VersionID      string  `gorm:"column:version_id;size:190;not null"`
	VersionTS      int64   `gorm:"column:version_ts;not null"`
	LocalTimestamp int64   `gorm:"column:local_timestamp;not null;index:idx_sync_changes_local_ts"`
}

// TableName provides the explicit table binding for GORM.
func (changeRow) TableName() string {
	return "sync_changes"
}

// metaRow is a tiny key/value table; today it only ever holds last-sync bookkeeping.
type metaRow struct {
	Key   string `gorm:"column:key;primaryKey;size:190"`
	Value int64  `gorm:"column:value;not null"`
}

// TableName provides the explicit table binding for GORM.
func (metaRow) TableName() string {
	return "sync_meta"
}

const metaKeyLastSyncTimestamp = "last_sync_timestamp"
