package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	processor *Processor
	orders    *orders.Executor
	sim       *exchange.Simulated
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.ExchangeOrder{}, &orders.DustEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sim := exchange.NewSimulated("binance", "USDT")
	sim.SetBalance("USDT", dec("10000"))
	sim.SetPrice("BTCUSDT", dec("50000"))

	registry := exchange.NewRegistry()
	registry.RegisterExchange(sim)

	rex := resilience.NewExecutor()
	orderExec := orders.NewExecutor(db, events.NewBus(), rex, registry)
	return &fixture{
		processor: NewProcessor(orderExec, registry, rex, time.Minute),
		orders:    orderExec,
		sim:       sim,
	}
}

// stagePending places an order on the simulated exchange and persists a
// matching local row stuck in the pending state.
func (f *fixture) stagePending(t *testing.T, orderID, requested string, retryCount int) *types.ExchangeOrder {
	t.Helper()

	placed, err := f.sim.PlaceMarketBuy(context.Background(), "BTCUSDT", dec(requested), orderID)
	if err != nil {
		t.Fatalf("stage exchange order: %v", err)
	}

	order := &types.ExchangeOrder{
		OrderID:           orderID,
		PaymentID:         "pay-1",
		AssetID:           "BTC",
		ExchangeName:      "binance",
		ExchangeOrderID:   placed.ExchangeOrderID,
		Side:              types.SideBuy,
		RequestedQuoteQty: dec(requested),
		Status:            types.OrderStatusPending,
		RetryCount:        retryCount,
	}
	if err := f.orders.DB().CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func TestPartialFillSpawnsOneContinuation(t *testing.T) {
	f := newFixture(t)
	order := f.stagePending(t, "ord-1", "100", 0)
	f.sim.SetOrderStatus(order.ExchangeOrderID, types.OrderStatusPartiallyFilled, dec("30"), dec("0.0006"))

	if err := f.processor.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	updated, _ := f.orders.DB().GetOrder("ord-1")
	if updated.Status != types.OrderStatusPartiallyFilled {
		t.Fatalf("status=%s, expected PARTIALLY_FILLED", updated.Status)
	}
	if !updated.FilledQuoteQty.Equal(dec("30")) {
		t.Fatalf("filled=%s, expected 30", updated.FilledQuoteQty)
	}

	chain, err := f.orders.DB().GetChain("pay-1", "BTC")
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length=%d, expected original plus one continuation", len(chain))
	}
	continuation := chain[1]
	if continuation.Status != types.OrderStatusQueued {
		t.Fatalf("continuation status=%s, expected QUEUED", continuation.Status)
	}
	if !continuation.RequestedQuoteQty.Equal(dec("70")) {
		t.Fatalf("continuation quantity=%s, expected 70", continuation.RequestedQuoteQty)
	}
	if continuation.RetryCount != 1 || continuation.PreviousOrderID != "ord-1" {
		t.Fatalf("continuation=%+v, expected retry_count 1 linked to ord-1", continuation)
	}
}

func TestFailedOrderRetriedUnderBudget(t *testing.T) {
	f := newFixture(t)
	order := f.stagePending(t, "ord-1", "100", 1)
	f.sim.SetOrderStatus(order.ExchangeOrderID, types.OrderStatusFailed, decimal.Zero, decimal.Zero)

	if err := f.processor.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	updated, _ := f.orders.DB().GetOrder("ord-1")
	if updated.Status != types.OrderStatusFailed {
		t.Fatalf("status=%s, expected FAILED", updated.Status)
	}

	chain, _ := f.orders.DB().GetChain("pay-1", "BTC")
	if len(chain) != 2 {
		t.Fatalf("chain length=%d, expected one retry enqueued", len(chain))
	}
	retry := chain[1]
	if retry.Status != types.OrderStatusQueued || retry.RetryCount != 2 {
		t.Fatalf("retry=%+v, expected QUEUED with retry_count 2", retry)
	}
	if !retry.RequestedQuoteQty.Equal(dec("100")) {
		t.Fatalf("retry quantity=%s, expected full 100", retry.RequestedQuoteQty)
	}
}

func TestFailedOrderTerminalAtRetryBudget(t *testing.T) {
	f := newFixture(t)
	order := f.stagePending(t, "ord-1", "100", types.MaxOrderRetries)
	f.sim.SetOrderStatus(order.ExchangeOrderID, types.OrderStatusFailed, decimal.Zero, decimal.Zero)

	if err := f.processor.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	chain, _ := f.orders.DB().GetChain("pay-1", "BTC")
	if len(chain) != 1 {
		t.Fatalf("chain length=%d, expected no retry past the budget", len(chain))
	}
	if chain[0].Status != types.OrderStatusFailed {
		t.Fatalf("status=%s, expected terminal FAILED", chain[0].Status)
	}
}

func TestFilledOrderUpdatedLocally(t *testing.T) {
	f := newFixture(t)
	order := f.stagePending(t, "ord-1", "100", 0)
	f.sim.SetOrderStatus(order.ExchangeOrderID, types.OrderStatusFilled, dec("100"), dec("0.002"))

	if err := f.processor.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	updated, _ := f.orders.DB().GetOrder("ord-1")
	if updated.Status != types.OrderStatusFilled {
		t.Fatalf("status=%s, expected FILLED", updated.Status)
	}
	if !updated.FilledQuoteQty.Equal(dec("100")) || !updated.FilledBaseQty.Equal(dec("0.002")) {
		t.Fatalf("fills=%s/%s, expected 100/0.002", updated.FilledQuoteQty, updated.FilledBaseQty)
	}

	chain, _ := f.orders.DB().GetChain("pay-1", "BTC")
	if len(chain) != 1 {
		t.Fatalf("chain length=%d, filled order must not spawn successors", len(chain))
	}
}

func TestUnacknowledgedPendingOrderFails(t *testing.T) {
	f := newFixture(t)

	order := &types.ExchangeOrder{
		OrderID:           "ord-1",
		PaymentID:         "pay-1",
		AssetID:           "BTC",
		ExchangeName:      "binance",
		Side:              types.SideBuy,
		RequestedQuoteQty: dec("100"),
		Status:            types.OrderStatusPending,
	}
	if err := f.orders.DB().CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := f.processor.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	updated, _ := f.orders.DB().GetOrder("ord-1")
	if updated.Status != types.OrderStatusFailed {
		t.Fatalf("status=%s, expected FAILED for unacknowledged order", updated.Status)
	}
	chain, _ := f.orders.DB().GetChain("pay-1", "BTC")
	if len(chain) != 2 {
		t.Fatalf("chain length=%d, expected a retry enqueued", len(chain))
	}
}

func TestScanContinuesPastBrokenOrder(t *testing.T) {
	f := newFixture(t)

	// First pending order points at an exchange the registry does not know.
	broken := &types.ExchangeOrder{
		OrderID:           "ord-broken",
		PaymentID:         "pay-0",
		AssetID:           "BTC",
		ExchangeName:      "ghost",
		ExchangeOrderID:   "ghost-1",
		Side:              types.SideBuy,
		RequestedQuoteQty: dec("50"),
		Status:            types.OrderStatusPending,
	}
	if err := f.orders.DB().CreateOrder(broken); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	order := f.stagePending(t, "ord-1", "100", 0)
	f.sim.SetOrderStatus(order.ExchangeOrderID, types.OrderStatusFilled, dec("100"), dec("0.002"))

	if err := f.processor.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}

	updated, _ := f.orders.DB().GetOrder("ord-1")
	if updated.Status != types.OrderStatusFilled {
		t.Fatal("expected the healthy order to be reconciled despite the broken one")
	}
}

func TestSubmitQueuedSubmitsContinuations(t *testing.T) {
	f := newFixture(t)

	queued := &types.ExchangeOrder{
		OrderID:           "ord-q",
		PaymentID:         "pay-1",
		AssetID:           "BTC",
		ExchangeName:      "binance",
		Side:              types.SideBuy,
		RequestedQuoteQty: dec("70"),
		Status:            types.OrderStatusQueued,
		RetryCount:        1,
		PreviousOrderID:   "ord-0",
	}
	if err := f.orders.DB().CreateOrder(queued); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := f.processor.SubmitQueued(context.Background()); err != nil {
		t.Fatalf("SubmitQueued: %v", err)
	}

	updated, _ := f.orders.DB().GetOrder("ord-q")
	if updated.Status != types.OrderStatusFilled {
		t.Fatalf("status=%s, expected FILLED after submission", updated.Status)
	}
	if updated.ExchangeOrderID == "" {
		t.Fatal("expected exchange order id after submission")
	}
}
