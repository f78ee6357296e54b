package postgres

import (
	"context"
	"errors"
	"time"

	"tradesim/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRecord stores one opaque serialized value per key. The engine
// persists its balance and trade sets through these records.
type SnapshotRecord struct {
	ID uint `gorm:"primaryKey"`

	Key   string `gorm:"type:text;not null;uniqueIndex:idx_snapshot_key"`
	Value []byte `gorm:"type:bytea;not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (SnapshotRecord) TableName() string {
	return "snapshot_record"
}

// Save upserts the value for a key.
func (p *PostgresClient) Save(ctx context.Context, key string, value []byte) error {
	record := &SnapshotRecord{Key: key, Value: value}

	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(record)

	return tx.Error
}

// Load returns the value for a key, or storage.ErrNotFound.
func (p *PostgresClient) Load(ctx context.Context, key string) ([]byte, error) {
	var record SnapshotRecord
	err := p.DB.WithContext(ctx).
		Where("key = ?", key).
		First(&record).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record.Value, nil
}

// DeleteSnapshot removes the record for a key. Missing keys are not an error.
func (p *PostgresClient) DeleteSnapshot(ctx context.Context, key string) error {
	return p.DB.WithContext(ctx).
		Where("key = ?", key).
		Delete(&SnapshotRecord{}).Error
}
