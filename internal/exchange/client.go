// Package exchange defines the narrow contract the pipeline consumes an
// exchange through, plus a registry routing assets to their configured venue.
// Transport details (HTTP/WebSocket wiring to a real venue) live behind the
// Client interface and are out of scope here.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound    = errors.New("order not found on exchange")
	ErrUnknownAsset     = errors.New("asset has no configured exchange")
	ErrUnknownExchange  = errors.New("unknown exchange")
	ErrUnknownSymbol    = errors.New("unknown trading symbol")
	ErrInsufficientBase = errors.New("insufficient exchange balance")
)

// Balance is an exchange account balance for one ticker.
type Balance struct {
	Ticker    string
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// PlacedOrder is the canonical view of an order as the exchange reports it.
// Status values reuse the local order state names.
type PlacedOrder struct {
	ExchangeOrderID string
	ClientRef       string
	Symbol          string
	Side            string
	Status          string
	RequestedQuote  decimal.Decimal
	FilledQuote     decimal.Decimal
	FilledBase      decimal.Decimal
	Price           decimal.Decimal
}

// Client is the exchange collaborator contract. A nil PlacedOrder or a
// terminal failed status from any method is treated as a hard failure by the
// caller; retry policy lives in the resilience layer above.
type Client interface {
	Name() string
	QuoteAsset() string
	PlaceMarketBuy(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientRef string) (*PlacedOrder, error)
	PlaceMarketSell(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientRef string) (*PlacedOrder, error)
	GetOrderInfo(ctx context.Context, exchangeOrderID string) (*PlacedOrder, error)
	GetBalance(ctx context.Context, ticker string) (Balance, error)
	GetMinNotional(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetAssetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
