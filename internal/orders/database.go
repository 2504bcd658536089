package orders

import (
	"errors"

	"github.com/monetra/autoinvest/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.ExchangeOrder) error {
	return d.db.Create(order).Error
}

func (d *Database) UpdateOrder(order *types.ExchangeOrder) error {
	return d.db.Save(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.ExchangeOrder, error) {
	var order types.ExchangeOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByStatus returns all orders in one status, oldest first.
func (d *Database) GetByStatus(status string) ([]types.ExchangeOrder, error) {
	var orders []types.ExchangeOrder
	err := d.db.Where("status = ?", status).Order("created_at ASC").Find(&orders).Error
	return orders, err
}

// GetChain returns every order for one (payment, asset) allocation: the
// original plus all retries and continuations, oldest first.
func (d *Database) GetChain(paymentID, assetID string) ([]types.ExchangeOrder, error) {
	var orders []types.ExchangeOrder
	err := d.db.
		Where("payment_id = ? AND asset_id = ?", paymentID, assetID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// GetByPayment returns all orders created for one payment.
func (d *Database) GetByPayment(paymentID string) ([]types.ExchangeOrder, error) {
	var orders []types.ExchangeOrder
	err := d.db.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&orders).Error
	return orders, err
}

// SumFilledQuote totals the filled quote quantity across an allocation's
// order chain, the figure retries net out of the allocation target.
func (d *Database) SumFilledQuote(paymentID, assetID string) (decimal.Decimal, error) {
	orders, err := d.GetChain(paymentID, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.FilledQuoteQty)
	}
	return total, nil
}

// SumRequestedQuote totals the requested quote quantity across an
// allocation's order chain, used to enforce the chain-level spend bound.
func (d *Database) SumRequestedQuote(paymentID, assetID string) (decimal.Decimal, error) {
	orders, err := d.GetChain(paymentID, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.RequestedQuoteQty)
	}
	return total, nil
}

func (d *Database) CreateDustEntry(entry *DustEntry) error {
	return d.db.Create(entry).Error
}

// GetDustEntries returns recorded dust for an exchange, newest first.
func (d *Database) GetDustEntries(exchangeName string) ([]DustEntry, error) {
	var entries []DustEntry
	err := d.db.Where("exchange_name = ?", exchangeName).Order("created_at DESC").Find(&entries).Error
	return entries, err
}
