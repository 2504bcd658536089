package idempotency

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetRecord retrieves a live record by key. Expired records are treated as
// absent.
func (d *Database) GetRecord(key string) (*Record, error) {
	var record Record
	if err := d.db.Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if record.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

// UpsertRecord writes a record, replacing any expired predecessor under the
// same key. The unique index on key makes concurrent writers converge on a
// single row.
func (d *Database) UpsertRecord(record *Record) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"result", "expires_at", "updated_at"}),
	}).Create(record).Error
}

// DeleteExpired prunes records past their expiry, returning how many rows
// were removed.
func (d *Database) DeleteExpired() (int64, error) {
	result := d.db.Unscoped().Where("expires_at < ?", time.Now()).Delete(&Record{})
	return result.RowsAffected, result.Error
}
