// Package orders places market orders against an exchange, persists the
// resulting order rows and records dust left by filled-short orders.
package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlaceOrderRequest describes one market order to execute.
type PlaceOrderRequest struct {
	Client          exchange.Client
	AssetID         string
	QuoteQty        decimal.Decimal
	ClientRef       string
	Side            string // defaults to BUY
	UserID          string
	PaymentID       string
	SubscriptionID  string
	RetryCount      int
	PreviousOrderID string
}

// Executor validates order requests, delegates to the exchange through the
// resilience wrapper and maps the exchange response to a canonical persisted
// order. Retry policy lives one level up; a failed placement here is final
// for this call.
type Executor struct {
	db       *Database
	bus      *events.Bus
	rex      *resilience.Executor
	registry *exchange.Registry
	policy   resilience.Policy
}

func NewExecutor(gormDB *gorm.DB, bus *events.Bus, rex *resilience.Executor, registry *exchange.Registry) *Executor {
	return &Executor{
		db:       NewDatabase(gormDB),
		bus:      bus,
		rex:      rex,
		registry: registry,
		policy:   resilience.ExchangeAPI("exchange.place_order"),
	}
}

// DB exposes the order store for sibling services.
func (e *Executor) DB() *Database { return e.db }

// PlaceOrder executes a single market order and persists the outcome. A nil
// exchange response or a terminal failed status from the exchange is a hard
// failure.
func (e *Executor) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*types.ExchangeOrder, error) {
	if req.Side == "" {
		req.Side = types.SideBuy
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	symbol := req.AssetID + req.Client.QuoteAsset()
	logger := log.With().
		Str("component", "order_executor").
		Str("exchange", req.Client.Name()).
		Str("symbol", symbol).
		Str("side", req.Side).
		Str("payment_id", req.PaymentID).
		Logger()

	order := &types.ExchangeOrder{
		OrderID:           uuid.New().String(),
		UserID:            req.UserID,
		PaymentID:         req.PaymentID,
		SubscriptionID:    req.SubscriptionID,
		ExchangeName:      req.Client.Name(),
		AssetID:           req.AssetID,
		Side:              req.Side,
		RequestedQuoteQty: req.QuoteQty,
		Status:            types.OrderStatusPending,
		RetryCount:        req.RetryCount,
		PreviousOrderID:   req.PreviousOrderID,
	}

	clientRef := req.ClientRef
	if clientRef == "" {
		clientRef = order.OrderID
	}

	res := resilience.Execute(ctx, e.rex, e.policy, func(ctx context.Context) (*exchange.PlacedOrder, error) {
		if req.Side == types.SideSell {
			return req.Client.PlaceMarketSell(ctx, symbol, req.QuoteQty, clientRef)
		}
		return req.Client.PlaceMarketBuy(ctx, symbol, req.QuoteQty, clientRef)
	})

	if !res.Success || res.Value == nil || res.Value.Status == types.OrderStatusFailed {
		order.Status = types.OrderStatusFailed
		if err := e.db.CreateOrder(order); err != nil {
			logger.Error().Err(err).Msg("failed to persist rejected order")
		}
		if !res.Success {
			logger.Warn().Err(res.Err).Str("reason", string(res.Reason)).Msg("exchange rejected order")
			return order, types.WrapError(res.Reason, res.Err, "order placement failed on %s", req.Client.Name())
		}
		logger.Warn().Msg("exchange returned terminal failure for order")
		return order, types.NewError(types.ReasonOrderExecution, "exchange reported order failed on %s", req.Client.Name())
	}

	placed := res.Value
	order.ExchangeOrderID = placed.ExchangeOrderID
	order.Status = placed.Status
	order.FilledQuoteQty = placed.FilledQuote
	order.FilledBaseQty = placed.FilledBase
	order.Price = placed.Price

	if err := e.db.CreateOrder(order); err != nil {
		return nil, types.WrapError(types.ReasonDatabase, err, "failed to persist order %s", order.OrderID)
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("exchange_order_id", order.ExchangeOrderID).
		Str("status", order.Status).
		Str("filled_quote", order.FilledQuoteQty.String()).
		Msg("order placed")

	if order.Status == types.OrderStatusFilled {
		e.handleDust(order)
	}

	e.bus.Publish(events.EventOrderCompleted, *order)
	return order, nil
}

// SubmitQueued submits an order previously enqueued by the reconciliation
// loop and updates the row in place.
func (e *Executor) SubmitQueued(ctx context.Context, order *types.ExchangeOrder) error {
	if order.Status != types.OrderStatusQueued {
		return types.NewError(types.ReasonValidation, "order %s is %s, only queued orders can be submitted", order.OrderID, order.Status)
	}

	client, err := e.clientFor(order)
	if err != nil {
		return err
	}

	symbol := order.AssetID + client.QuoteAsset()
	res := resilience.Execute(ctx, e.rex, e.policy, func(ctx context.Context) (*exchange.PlacedOrder, error) {
		if order.Side == types.SideSell {
			return client.PlaceMarketSell(ctx, symbol, order.RequestedQuoteQty, order.OrderID)
		}
		return client.PlaceMarketBuy(ctx, symbol, order.RequestedQuoteQty, order.OrderID)
	})

	if !res.Success || res.Value == nil || res.Value.Status == types.OrderStatusFailed {
		order.Status = types.OrderStatusFailed
		if err := e.db.UpdateOrder(order); err != nil {
			return types.WrapError(types.ReasonDatabase, err, "failed to persist failed submission %s", order.OrderID)
		}
		return types.NewError(types.ReasonOrderExecution, "queued order %s failed on submission", order.OrderID)
	}

	placed := res.Value
	order.ExchangeOrderID = placed.ExchangeOrderID
	order.Status = placed.Status
	order.FilledQuoteQty = placed.FilledQuote
	order.FilledBaseQty = placed.FilledBase
	order.Price = placed.Price

	if err := e.db.UpdateOrder(order); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to persist submitted order %s", order.OrderID)
	}

	if order.Status == types.OrderStatusFilled {
		e.handleDust(order)
	}
	e.bus.Publish(events.EventOrderCompleted, *order)
	return nil
}

// clientFor resolves the exchange a persisted order belongs to.
func (e *Executor) clientFor(order *types.ExchangeOrder) (exchange.Client, error) {
	client, err := e.registry.ClientByName(order.ExchangeName)
	if err != nil {
		return nil, types.WrapError(types.ReasonNotFound, err, "exchange %s for order %s", order.ExchangeName, order.OrderID)
	}
	return client, nil
}

// handleDust records the unfilled residual of a filled order. Dust handling
// is best effort and never fails the parent order.
func (e *Executor) handleDust(order *types.ExchangeOrder) {
	residual := order.RequestedQuoteQty.Sub(order.FilledQuoteQty)
	if !residual.IsPositive() {
		return
	}

	entry := &DustEntry{
		OrderID:      order.OrderID,
		ExchangeName: order.ExchangeName,
		AssetID:      order.AssetID,
		Amount:       residual,
	}
	if err := e.db.CreateDustEntry(entry); err != nil {
		log.Warn().Err(err).Str("order_id", order.OrderID).Msg("failed to record dust entry")
		return
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("amount", residual.String()).
		Msg("dust recorded for consolidation")
	e.bus.Publish(events.EventDustRecorded, *entry)
}

func validateRequest(req PlaceOrderRequest) error {
	fields := map[string]string{}
	if req.Client == nil {
		fields["exchange"] = "must not be nil"
	}
	if req.AssetID == "" {
		fields["asset_id"] = "must not be empty"
	}
	if !req.QuoteQty.IsPositive() {
		fields["quote_quantity"] = "must be greater than zero"
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		fields["side"] = "must be BUY or SELL"
	}
	if len(fields) > 0 {
		return types.ValidationError("invalid order request", fields)
	}
	return nil
}
