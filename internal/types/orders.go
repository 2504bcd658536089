package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order sides and types accepted by the execution path.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
)

// ExchangeOrder statuses. Queued orders have been created by retry or
// continuation logic but not yet submitted. Pending orders are live on the
// exchange with no terminal outcome observed yet. Filled and Failed are
// terminal; PartiallyFilled spawns exactly one continuation order and is
// then left alone.
const (
	OrderStatusQueued          = "QUEUED"
	OrderStatusPending         = "PENDING"
	OrderStatusFilled          = "FILLED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFailed          = "FAILED"
)

// MaxOrderRetries bounds the retry chain built by the reconciliation loop.
const MaxOrderRetries = 3

// ExchangeOrder is the persisted record of one order placed (or queued to be
// placed) against an exchange. Rows are never deleted; a retry or partial-fill
// continuation supersedes its predecessor through PreviousOrderID.
type ExchangeOrder struct {
	gorm.Model        `json:"-"`
	OrderID           string          `gorm:"uniqueIndex" json:"order_id"`
	ExchangeOrderID   string          `gorm:"index" json:"exchange_order_id"`
	UserID            string          `json:"user_id"`
	PaymentID         string          `gorm:"index:idx_payment_asset" json:"payment_id"`
	SubscriptionID    string          `json:"subscription_id"`
	ExchangeName      string          `json:"exchange_name"`
	AssetID           string          `gorm:"index:idx_payment_asset" json:"asset_id"`
	Side              string          `json:"side"`
	RequestedQuoteQty decimal.Decimal `gorm:"type:decimal(20,8)" json:"requested_quote_quantity"`
	FilledQuoteQty    decimal.Decimal `gorm:"type:decimal(20,8)" json:"filled_quote_quantity"`
	FilledBaseQty     decimal.Decimal `gorm:"type:decimal(20,8)" json:"filled_base_quantity"`
	Price             decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Status            string          `gorm:"index" json:"status"`
	RetryCount        int             `json:"retry_count"`
	PreviousOrderID   string          `json:"previous_order_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Terminal reports whether the order's status admits no further transitions.
func (o *ExchangeOrder) Terminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusFailed
}

// OrderResult is the ephemeral per-allocation outcome of one payment
// processing run. It is aggregated into the run's response, never persisted.
type OrderResult struct {
	ExchangeName string          `json:"exchange_name"`
	OrderID      string          `json:"order_id,omitempty"`
	AssetID      string          `json:"asset_id"`
	RequestedQty decimal.Decimal `json:"requested_quantity"`
	FilledQty    decimal.Decimal `json:"filled_quantity"`
	Status       string          `json:"status"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ProcessingResult aggregates the allocation outcomes of one payment run.
// Success is true when at least one allocation succeeded; callers inspect
// Results for the per-allocation picture.
type ProcessingResult struct {
	PaymentID string        `json:"payment_id"`
	Success   bool          `json:"success"`
	Results   []OrderResult `json:"results"`
}
