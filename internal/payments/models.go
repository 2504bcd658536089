package payments

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentRecord is the locally persisted copy of a confirmed payment. The
// provider owns the payment; this row exists so manual reprocessing can
// rebuild the pipeline input without another provider round trip.
type PaymentRecord struct {
	gorm.Model
	PaymentID      string          `gorm:"uniqueIndex" json:"payment_id"`
	UserID         string          `json:"user_id"`
	SubscriptionID string          `gorm:"index" json:"subscription_id"`
	ProviderTxID   string          `json:"provider_tx_id"`
	NetAmount      decimal.Decimal `gorm:"type:decimal(20,8)" json:"net_amount"`
	Currency       string          `json:"currency"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// SubscriptionAllocation is one row of a subscription's allocation plan.
type SubscriptionAllocation struct {
	gorm.Model
	SubscriptionID string          `gorm:"index:idx_subscription_asset,unique" json:"subscription_id"`
	AssetID        string          `gorm:"index:idx_subscription_asset,unique" json:"asset_id"`
	Percent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"percent"`
}
