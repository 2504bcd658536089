package allocation

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntry is the durable record of quote currency committed to one
// allocation order. One entry is written per placed order; entries are never
// updated or deleted, corrections arrive as new orders in the same chain.
type LedgerEntry struct {
	gorm.Model
	EntryID        string          `gorm:"uniqueIndex" json:"entry_id"`
	PaymentID      string          `gorm:"index" json:"payment_id"`
	UserID         string          `json:"user_id"`
	SubscriptionID string          `json:"subscription_id"`
	AssetID        string          `json:"asset_id"`
	OrderID        string          `gorm:"index" json:"order_id"`
	ExchangeName   string          `json:"exchange_name"`
	Requested      decimal.Decimal `gorm:"type:decimal(20,8)" json:"requested"`
	Filled         decimal.Decimal `gorm:"type:decimal(20,8)" json:"filled"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}
