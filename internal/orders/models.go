package orders

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DustEntry records the residual quote amount left unfilled when an order is
// reported filled with filled < requested. Entries are consolidated later by
// treasury tooling; recording them never fails the parent order.
type DustEntry struct {
	gorm.Model
	OrderID      string          `gorm:"index" json:"order_id"`
	ExchangeName string          `json:"exchange_name"`
	AssetID      string          `json:"asset_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,8)" json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}
