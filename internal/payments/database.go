package payments

import (
	"errors"

	"github.com/monetra/autoinvest/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpsertPayment persists a payment record, ignoring redeliveries of a
// payment id already on file.
func (d *Database) UpsertPayment(record *PaymentRecord) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(record).Error
}

func (d *Database) GetPayment(paymentID string) (*PaymentRecord, error) {
	var record PaymentRecord
	if err := d.db.Where("payment_id = ?", paymentID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ReplaceAllocations swaps a subscription's allocation plan atomically.
func (d *Database) ReplaceAllocations(subscriptionID string, allocations []types.Allocation) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", subscriptionID).Delete(&SubscriptionAllocation{}).Error; err != nil {
			return err
		}
		for _, a := range allocations {
			row := SubscriptionAllocation{
				SubscriptionID: subscriptionID,
				AssetID:        a.AssetID,
				Percent:        a.Percent,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAllocations returns a subscription's allocation plan.
func (d *Database) GetAllocations(subscriptionID string) ([]types.Allocation, error) {
	var rows []SubscriptionAllocation
	if err := d.db.Where("subscription_id = ?", subscriptionID).Order("asset_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	allocations := make([]types.Allocation, 0, len(rows))
	for _, r := range rows {
		allocations = append(allocations, types.Allocation{AssetID: r.AssetID, Percent: r.Percent})
	}
	return allocations, nil
}
