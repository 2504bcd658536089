// Package allocation fans one confirmed payment out into per-asset market
// orders. Allocations are processed sequentially so that every admission
// decision stays valid relative to the quote balance consumed by earlier
// allocations of the same payment.
package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/monetra/autoinvest/internal/balance"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/monetra/autoinvest/pkg/cache"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatusAlreadyProcessed marks an allocation that was skipped because the
// remaining quantity after netting out previous fills is at or below the
// exchange minimum notional. This is the resume path: reprocessing a payment
// never re-buys what an earlier run already filled.
const StatusAlreadyProcessed = "ALREADY_PROCESSED"

// hundred is the percent divisor, allocations carry percentages in (0, 100].
var hundred = decimal.NewFromInt(100)

// minNotionalTTL bounds how long a cached exchange minimum order size is
// trusted. Venues change these rarely.
const minNotionalTTL = time.Hour

// Processor turns a payment's allocation percentages into placed orders.
type Processor struct {
	db          *Database
	orders      *orders.Executor
	gate        *balance.Gate
	registry    *exchange.Registry
	rex         *resilience.Executor
	policy      resilience.Policy
	minNotional *cache.TTLCache
}

func NewProcessor(gormDB *gorm.DB, orderExec *orders.Executor, gate *balance.Gate, registry *exchange.Registry, rex *resilience.Executor) *Processor {
	return &Processor{
		db:          NewDatabase(gormDB),
		orders:      orderExec,
		gate:        gate,
		registry:    registry,
		rex:         rex,
		policy:      resilience.QuickOperation("exchange.get_min_notional"),
		minNotional: cache.New(),
	}
}

// DB exposes the ledger store for the API layer.
func (p *Processor) DB() *Database { return p.db }

// ProcessAllocations executes every allocation of one payment in order. A
// failure in one allocation is recorded in its OrderResult and processing
// continues with the next; the aggregate fails only when every allocation
// failed.
func (p *Processor) ProcessAllocations(ctx context.Context, payment types.Payment, allocations []types.Allocation) (*types.ProcessingResult, error) {
	fields := map[string]string{}
	if payment.PaymentID == "" {
		fields["payment_id"] = "must not be empty"
	}
	if !payment.NetAmount.IsPositive() {
		fields["net_amount"] = "must be greater than zero"
	}
	if len(allocations) == 0 {
		fields["allocations"] = "must not be empty"
	}
	if len(fields) > 0 {
		return nil, types.ValidationError("invalid allocation request", fields)
	}

	logger := log.With().
		Str("component", "allocation_processor").
		Str("payment_id", payment.PaymentID).
		Str("net_amount", payment.NetAmount.String()).
		Logger()

	result := &types.ProcessingResult{PaymentID: payment.PaymentID}
	succeeded := 0

	for _, alloc := range allocations {
		res, err := p.processOne(ctx, payment, alloc)
		if err != nil {
			reason := types.Classify(err)
			logger.Warn().
				Err(err).
				Str("asset_id", alloc.AssetID).
				Str("reason", string(reason)).
				Msg("allocation failed")
			res.AssetID = alloc.AssetID
			res.Success = false
			res.ErrorMessage = err.Error()
			if res.Status == "" {
				res.Status = types.OrderStatusFailed
			}
		} else {
			succeeded++
		}
		result.Results = append(result.Results, res)
	}

	result.Success = succeeded > 0
	logger.Info().
		Int("allocations", len(allocations)).
		Int("succeeded", succeeded).
		Bool("success", result.Success).
		Msg("payment allocations processed")
	return result, nil
}

// processOne runs the full admission/netting/placement sequence for a single
// allocation. Every returned error carries a taxonomy reason.
func (p *Processor) processOne(ctx context.Context, payment types.Payment, alloc types.Allocation) (types.OrderResult, error) {
	res := types.OrderResult{AssetID: alloc.AssetID}

	if !alloc.Percent.IsPositive() || alloc.Percent.GreaterThan(hundred) {
		return res, types.ValidationError("invalid allocation percent", map[string]string{
			"percent": "must be in (0, 100]",
		})
	}

	target := payment.NetAmount.Mul(alloc.Percent).Div(hundred).RoundDown(2)
	if !target.IsPositive() {
		return res, types.ValidationError("allocation target rounds to zero", map[string]string{
			"target": "net amount x percent must exceed 0.01",
		})
	}

	client, err := p.registry.ClientFor(alloc.AssetID)
	if err != nil {
		return res, types.WrapError(types.ReasonNotFound, err, "no exchange configured for asset %s", alloc.AssetID)
	}
	res.ExchangeName = client.Name()
	res.RequestedQty = target

	check, err := p.gate.CheckSufficientBalance(ctx, client.Name(), client.QuoteAsset(), target)
	if err != nil {
		return res, err
	}
	if !check.Sufficient() {
		return res, types.NewError(types.ReasonInsufficientBalance,
			"insufficient %s on %s: available %s, required %s",
			client.QuoteAsset(), client.Name(), check.Available, check.Required)
	}

	previousFilled, err := p.orders.DB().SumFilledQuote(payment.PaymentID, alloc.AssetID)
	if err != nil {
		return res, types.WrapError(types.ReasonDatabase, err, "failed to load fill history for payment %s asset %s", payment.PaymentID, alloc.AssetID)
	}
	remaining := target.Sub(previousFilled)

	symbol := alloc.AssetID + client.QuoteAsset()
	minNotional, err := p.minNotionalFor(ctx, client, symbol)
	if err != nil {
		return res, err
	}
	if remaining.LessThanOrEqual(minNotional) {
		res.Status = StatusAlreadyProcessed
		res.Success = true
		res.FilledQty = decimal.Zero
		res.RequestedQty = decimal.Zero
		log.Debug().
			Str("payment_id", payment.PaymentID).
			Str("asset_id", alloc.AssetID).
			Str("remaining", remaining.String()).
			Str("min_notional", minNotional.String()).
			Msg("allocation already processed, remaining below minimum notional")
		return res, nil
	}

	// Total requested across the order chain must never exceed the target,
	// even if rounding drifted across earlier partial fills.
	requestedSoFar, err := p.orders.DB().SumRequestedQuote(payment.PaymentID, alloc.AssetID)
	if err != nil {
		return res, types.WrapError(types.ReasonDatabase, err, "failed to load order chain for payment %s asset %s", payment.PaymentID, alloc.AssetID)
	}
	if headroom := target.Sub(requestedSoFar); remaining.GreaterThan(headroom) {
		log.Warn().
			Str("payment_id", payment.PaymentID).
			Str("asset_id", alloc.AssetID).
			Str("remaining", remaining.String()).
			Str("headroom", headroom.String()).
			Msg("clamping allocation to chain headroom")
		remaining = headroom
		if remaining.LessThanOrEqual(minNotional) {
			res.Status = StatusAlreadyProcessed
			res.Success = true
			res.FilledQty = decimal.Zero
			res.RequestedQty = decimal.Zero
			return res, nil
		}
	}

	order, err := p.orders.PlaceOrder(ctx, orders.PlaceOrderRequest{
		Client:         client,
		AssetID:        alloc.AssetID,
		QuoteQty:       remaining,
		Side:           types.SideBuy,
		UserID:         payment.UserID,
		PaymentID:      payment.PaymentID,
		SubscriptionID: payment.SubscriptionID,
	})
	if order != nil {
		res.OrderID = order.OrderID
		res.Status = order.Status
		res.RequestedQty = order.RequestedQuoteQty
		res.FilledQty = order.FilledQuoteQty
		p.recordLedger(payment, order)
	}
	if err != nil {
		return res, err
	}

	res.Success = true
	return res, nil
}

// minNotionalFor returns the cached minimum order size for a symbol,
// querying the exchange on a cache miss.
func (p *Processor) minNotionalFor(ctx context.Context, client exchange.Client, symbol string) (decimal.Decimal, error) {
	key := "minnotional:" + client.Name() + ":" + symbol
	v, err := p.minNotional.GetOrCompute(key, minNotionalTTL, func() (any, error) {
		res := resilience.Execute(ctx, p.rex, p.policy, func(ctx context.Context) (decimal.Decimal, error) {
			return client.GetMinNotional(ctx, symbol)
		})
		if !res.Success {
			return nil, types.WrapError(res.Reason, res.Err, "failed to fetch min notional for %s on %s", symbol, client.Name())
		}
		return res.Value, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// recordLedger writes the audit entry for a placed order. The order itself
// is already durable; a ledger write failure is logged, not surfaced.
func (p *Processor) recordLedger(payment types.Payment, order *types.ExchangeOrder) {
	entry := &LedgerEntry{
		EntryID:        uuid.New().String(),
		PaymentID:      payment.PaymentID,
		UserID:         payment.UserID,
		SubscriptionID: payment.SubscriptionID,
		AssetID:        order.AssetID,
		OrderID:        order.OrderID,
		ExchangeName:   order.ExchangeName,
		Requested:      order.RequestedQuoteQty,
		Filled:         order.FilledQuoteQty,
		Status:         order.Status,
	}
	if err := p.db.CreateEntry(entry); err != nil {
		log.Error().Err(err).
			Str("payment_id", payment.PaymentID).
			Str("order_id", order.OrderID).
			Msg("failed to write ledger entry")
	}
}
