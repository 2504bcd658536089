package database

import (
	"github.com/monetra/autoinvest/internal/allocation"
	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/idempotency"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/payments"
	"github.com/monetra/autoinvest/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes a GORM sqlite connection at the given path and
// migrates every pipeline model. Use ":memory:" for throwaway databases.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.ExchangeOrder{},
		&orders.DustEntry{},
		&allocation.LedgerEntry{},
		&payments.PaymentRecord{},
		&payments.SubscriptionAllocation{},
		&idempotency.Record{},
		&events.LogEntry{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
