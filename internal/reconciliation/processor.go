// Package reconciliation re-queries exchanges for the true status of orders
// whose outcome was not observed synchronously and feeds retry and
// partial-fill continuation orders back into the execution path.
package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Processor struct {
	orders   *orders.Executor
	registry *exchange.Registry
	rex      *resilience.Executor
	policy   resilience.Policy
	interval time.Duration
}

func NewProcessor(orderExec *orders.Executor, registry *exchange.Registry, rex *resilience.Executor, interval time.Duration) *Processor {
	return &Processor{
		orders:   orderExec,
		registry: registry,
		rex:      rex,
		policy:   resilience.ExchangeAPI("exchange.get_order_info"),
		interval: interval,
	}
}

// Start begins the reconciliation loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconciliation_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting reconciliation processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-ticker.C:
			if err := p.ReconcilePending(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to reconcile pending orders")
			}
			if err := p.SubmitQueued(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to submit queued orders")
			}
		}
	}
}

// ReconcilePending refreshes every order stuck in the pending state against
// its exchange. Per-order failures are logged and the scan continues.
func (p *Processor) ReconcilePending(ctx context.Context) error {
	logger := log.With().Str("component", "reconciliation_processor").Logger()

	pending, err := p.orders.DB().GetByStatus(types.OrderStatusPending)
	if err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to load pending orders")
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Info().Int("pending_count", len(pending)).Msg("reconciling pending orders")

	for i := range pending {
		if err := p.reconcileOrder(ctx, &pending[i]); err != nil {
			logger.Error().
				Err(err).
				Str("order_id", pending[i].OrderID).
				Msg("failed to reconcile order")
		}
	}
	return nil
}

// SubmitQueued pushes retry and continuation orders created by earlier
// reconciliation passes to their exchanges.
func (p *Processor) SubmitQueued(ctx context.Context) error {
	logger := log.With().Str("component", "reconciliation_processor").Logger()

	queued, err := p.orders.DB().GetByStatus(types.OrderStatusQueued)
	if err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to load queued orders")
	}

	for i := range queued {
		if err := p.orders.SubmitQueued(ctx, &queued[i]); err != nil {
			logger.Error().
				Err(err).
				Str("order_id", queued[i].OrderID).
				Msg("failed to submit queued order")
		}
	}
	return nil
}

func (p *Processor) reconcileOrder(ctx context.Context, order *types.ExchangeOrder) error {
	if order.ExchangeOrderID == "" {
		// Submitted but never acknowledged; the exchange has nothing to
		// look up, treat as a failed placement.
		return p.handleFailed(order)
	}

	client, err := p.registry.ClientByName(order.ExchangeName)
	if err != nil {
		return types.WrapError(types.ReasonNotFound, err, "exchange %s for order %s", order.ExchangeName, order.OrderID)
	}

	res := resilience.Execute(ctx, p.rex, p.policy, func(ctx context.Context) (*exchange.PlacedOrder, error) {
		return client.GetOrderInfo(ctx, order.ExchangeOrderID)
	})
	if !res.Success {
		return types.WrapError(res.Reason, res.Err, "failed to fetch order %s from %s", order.ExchangeOrderID, order.ExchangeName)
	}

	info := res.Value
	switch info.Status {
	case types.OrderStatusFilled:
		order.Status = types.OrderStatusFilled
		order.FilledQuoteQty = info.FilledQuote
		order.FilledBaseQty = info.FilledBase
		order.Price = info.Price
		if err := p.orders.DB().UpdateOrder(order); err != nil {
			return types.WrapError(types.ReasonDatabase, err, "failed to update filled order %s", order.OrderID)
		}
		log.Info().
			Str("order_id", order.OrderID).
			Str("filled_quote", order.FilledQuoteQty.String()).
			Msg("pending order confirmed filled")
		return nil

	case types.OrderStatusPartiallyFilled:
		return p.handlePartialFill(order, info)

	case types.OrderStatusFailed:
		return p.handleFailed(order)

	default:
		// Still pending on the exchange, nothing to do this pass.
		return nil
	}
}

// handlePartialFill finalizes the partially filled order and enqueues
// exactly one continuation order for the unfilled remainder.
func (p *Processor) handlePartialFill(order *types.ExchangeOrder, info *exchange.PlacedOrder) error {
	order.Status = types.OrderStatusPartiallyFilled
	order.FilledQuoteQty = info.FilledQuote
	order.FilledBaseQty = info.FilledBase
	order.Price = info.Price
	if err := p.orders.DB().UpdateOrder(order); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to update partially filled order %s", order.OrderID)
	}

	remaining := order.RequestedQuoteQty.Sub(order.FilledQuoteQty)
	if !remaining.IsPositive() {
		return nil
	}

	continuation := p.successor(order, remaining)
	if err := p.orders.DB().CreateOrder(continuation); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to enqueue continuation for order %s", order.OrderID)
	}
	log.Info().
		Str("order_id", order.OrderID).
		Str("continuation_id", continuation.OrderID).
		Str("remaining", remaining.String()).
		Msg("continuation order enqueued for partial fill")
	return nil
}

// handleFailed marks the order failed and, under the retry budget, enqueues
// a replacement for the full requested quantity.
func (p *Processor) handleFailed(order *types.ExchangeOrder) error {
	order.Status = types.OrderStatusFailed
	if err := p.orders.DB().UpdateOrder(order); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to update failed order %s", order.OrderID)
	}

	if order.RetryCount >= types.MaxOrderRetries {
		log.Warn().
			Str("order_id", order.OrderID).
			Int("retry_count", order.RetryCount).
			Msg("retry budget exhausted, order failed terminally")
		return nil
	}

	retry := p.successor(order, order.RequestedQuoteQty)
	if err := p.orders.DB().CreateOrder(retry); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to enqueue retry for order %s", order.OrderID)
	}
	log.Info().
		Str("order_id", order.OrderID).
		Str("retry_id", retry.OrderID).
		Int("retry_count", retry.RetryCount).
		Msg("retry order enqueued")
	return nil
}

// successor builds the queued follow-up order for a retry or continuation.
func (p *Processor) successor(order *types.ExchangeOrder, quoteQty decimal.Decimal) *types.ExchangeOrder {
	return &types.ExchangeOrder{
		OrderID:           uuid.New().String(),
		UserID:            order.UserID,
		PaymentID:         order.PaymentID,
		SubscriptionID:    order.SubscriptionID,
		ExchangeName:      order.ExchangeName,
		AssetID:           order.AssetID,
		Side:              order.Side,
		RequestedQuoteQty: quoteQty,
		Status:            types.OrderStatusQueued,
		RetryCount:        order.RetryCount + 1,
		PreviousOrderID:   order.OrderID,
	}
}
