package allocation

import (
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateEntry(entry *LedgerEntry) error {
	return d.db.Create(entry).Error
}

// GetByPayment returns the ledger entries written for one payment, oldest
// first.
func (d *Database) GetByPayment(paymentID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := d.db.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}
