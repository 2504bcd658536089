package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the immutable record of a confirmed external payment. It is
// created by the payment provider integration and only ever referenced here.
type Payment struct {
	PaymentID      string          `json:"payment_id"`
	UserID         string          `json:"user_id"`
	SubscriptionID string          `json:"subscription_id"`
	ProviderTxID   string          `json:"provider_tx_id"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	Currency       string          `json:"currency"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// Allocation is a percentage of a payment's net amount earmarked for one
// asset. A subscription's allocations are expected to sum to at most 100,
// but that is enforced upstream, not here.
type Allocation struct {
	AssetID string          `json:"asset_id"`
	Percent decimal.Decimal `json:"percent"` // (0, 100]
}

// PaymentEvent is the durable envelope a payment confirmation arrives in.
type PaymentEvent struct {
	EventID string  `json:"event_id"`
	Payment Payment `json:"payment"`
}
