package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/monetra/autoinvest/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Simulated is an in-memory exchange used by the simulation binary and the
// package tests. Latency, liquidity and success rate are tunable so failure
// paths (rejections, partial fills, insufficient balance) can be exercised
// without a live venue.
type Simulated struct {
	ExchangeName    string
	Quote           string
	MinLatency      int     // milliseconds
	MaxLatency      int     // milliseconds
	LiquidityFactor float64 // 0-1, fraction of an order that can fill when liquidity is short
	SuccessRate     float64 // 0-1, probability an order is accepted

	mu           sync.Mutex
	balances     map[string]decimal.Decimal // ticker -> available
	prices       map[string]decimal.Decimal // symbol -> last price
	minNotionals map[string]decimal.Decimal // symbol -> min order size in quote
	orders       map[string]*PlacedOrder    // exchange order id -> order
	seq          int64
}

// NewSimulated creates a simulated exchange that always accepts orders and
// fills them fully. Tests dial SuccessRate / LiquidityFactor down to force
// failures.
func NewSimulated(name, quoteAsset string) *Simulated {
	return &Simulated{
		ExchangeName:    name,
		Quote:           quoteAsset,
		LiquidityFactor: 1.0,
		SuccessRate:     1.0,
		balances:        make(map[string]decimal.Decimal),
		prices:          make(map[string]decimal.Decimal),
		minNotionals:    make(map[string]decimal.Decimal),
		orders:          make(map[string]*PlacedOrder),
	}
}

func (s *Simulated) Name() string       { return s.ExchangeName }
func (s *Simulated) QuoteAsset() string { return s.Quote }

// SetBalance sets the available balance for a ticker.
func (s *Simulated) SetBalance(ticker string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ticker] = amount
}

// SetPrice sets the last price for a symbol.
func (s *Simulated) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// SetMinNotional sets the minimum order size in quote currency for a symbol.
func (s *Simulated) SetMinNotional(symbol string, min decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minNotionals[symbol] = min
}

// SetOrderStatus rewrites a stored order's status and fills, used to stage
// reconciliation scenarios.
func (s *Simulated) SetOrderStatus(exchangeOrderID, status string, filledQuote, filledBase decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[exchangeOrderID]; ok {
		o.Status = status
		o.FilledQuote = filledQuote
		o.FilledBase = filledBase
	}
}

func (s *Simulated) simulateLatency() {
	if s.MaxLatency <= 0 {
		return
	}
	latency := s.MinLatency
	if s.MaxLatency > s.MinLatency {
		latency += rand.Intn(s.MaxLatency - s.MinLatency + 1)
	}
	time.Sleep(time.Duration(latency) * time.Millisecond)
}

func (s *Simulated) PlaceMarketBuy(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientRef string) (*PlacedOrder, error) {
	return s.placeMarket(ctx, symbol, types.SideBuy, quoteQty, clientRef)
}

func (s *Simulated) PlaceMarketSell(ctx context.Context, symbol string, quoteQty decimal.Decimal, clientRef string) (*PlacedOrder, error) {
	return s.placeMarket(ctx, symbol, types.SideSell, quoteQty, clientRef)
}

func (s *Simulated) placeMarket(ctx context.Context, symbol, side string, quoteQty decimal.Decimal, clientRef string) (*PlacedOrder, error) {
	logger := log.With().
		Str("exchange", s.ExchangeName).
		Str("symbol", symbol).
		Str("side", side).
		Str("client_ref", clientRef).
		Logger()

	s.simulateLatency()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent on client reference: a resubmitted order returns the
	// original result instead of executing twice.
	for _, o := range s.orders {
		if o.ClientRef != "" && o.ClientRef == clientRef {
			logger.Debug().Str("exchange_order_id", o.ExchangeOrderID).Msg("duplicate client reference, returning existing order")
			dup := *o
			return &dup, nil
		}
	}

	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	if rand.Float64() > s.SuccessRate {
		logger.Warn().Float64("success_rate", s.SuccessRate).Msg("order rejected by success rate threshold")
		return nil, fmt.Errorf("order rejected on exchange %s", s.ExchangeName)
	}

	available := s.balances[s.Quote]
	if side == types.SideBuy && available.LessThan(quoteQty) {
		return nil, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBase, quoteQty, s.Quote, available)
	}

	// Price variance of up to ±2%, as a live market would show.
	executedPrice := price
	if s.MaxLatency > 0 {
		variance := decimal.NewFromFloat(1 + (rand.Float64()*0.04 - 0.02))
		executedPrice = price.Mul(variance)
	}

	filledQuote := quoteQty
	status := types.OrderStatusFilled
	if rand.Float64() > s.LiquidityFactor {
		filledQuote = quoteQty.Mul(decimal.NewFromFloat(s.LiquidityFactor)).RoundDown(8)
		status = types.OrderStatusPartiallyFilled
		logger.Debug().
			Str("requested", quoteQty.String()).
			Str("filled", filledQuote.String()).
			Msg("fill reduced by available liquidity")
	}

	if side == types.SideBuy {
		s.balances[s.Quote] = available.Sub(filledQuote)
	} else {
		s.balances[s.Quote] = available.Add(filledQuote)
	}

	s.seq++
	order := &PlacedOrder{
		ExchangeOrderID: fmt.Sprintf("%s-%d", s.ExchangeName, s.seq),
		ClientRef:       clientRef,
		Symbol:          symbol,
		Side:            side,
		Status:          status,
		RequestedQuote:  quoteQty,
		FilledQuote:     filledQuote,
		FilledBase:      filledQuote.Div(executedPrice).RoundDown(8),
		Price:           executedPrice,
	}
	s.orders[order.ExchangeOrderID] = order

	logger.Info().
		Str("exchange_order_id", order.ExchangeOrderID).
		Str("status", order.Status).
		Str("filled_quote", order.FilledQuote.String()).
		Msg("market order executed")

	result := *order
	return &result, nil
}

func (s *Simulated) GetOrderInfo(ctx context.Context, exchangeOrderID string) (*PlacedOrder, error) {
	s.simulateLatency()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[exchangeOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, exchangeOrderID)
	}
	result := *o
	return &result, nil
}

func (s *Simulated) GetBalance(ctx context.Context, ticker string) (Balance, error) {
	s.simulateLatency()
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	available := s.balances[ticker]
	return Balance{Ticker: ticker, Total: available, Available: available}, nil
}

func (s *Simulated) GetMinNotional(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if min, ok := s.minNotionals[symbol]; ok {
		return min, nil
	}
	// Default floor comparable to what large spot venues enforce.
	return decimal.NewFromInt(10), nil
}

func (s *Simulated) GetAssetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return price, nil
}
