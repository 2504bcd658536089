package payments

import (
	"context"
	"testing"
	"time"

	"github.com/monetra/autoinvest/internal/allocation"
	"github.com/monetra/autoinvest/internal/balance"
	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/idempotency"
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
	orchestrator *Orchestrator
	orders       *orders.Executor
	eventLog     *events.Log
	sim          *exchange.Simulated
}

func newFixture(t *testing.T, available string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	models := []any{
		&types.ExchangeOrder{}, &orders.DustEntry{}, &allocation.LedgerEntry{},
		&PaymentRecord{}, &SubscriptionAllocation{},
		&idempotency.Record{}, &events.LogEntry{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sim := exchange.NewSimulated("binance", "USDT")
	sim.SetBalance("USDT", dec(available))
	sim.SetPrice("BTCUSDT", dec("50000"))
	sim.SetPrice("ETHUSDT", dec("3000"))

	registry := exchange.NewRegistry()
	registry.RegisterExchange(sim)
	for _, asset := range []string{"BTC", "ETH"} {
		if err := registry.RegisterAsset(asset, "binance"); err != nil {
			t.Fatalf("register asset: %v", err)
		}
	}

	bus := events.NewBus()
	requester := balance.NewRequester(bus, 15*time.Minute, 8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	requester.Start(ctx)

	rex := resilience.NewExecutor()
	gate := balance.NewGate(balance.DefaultConfig(), registry, requester, rex)
	orderExec := orders.NewExecutor(db, bus, rex, registry)
	processor := allocation.NewProcessor(db, orderExec, gate, registry, rex)
	guard := idempotency.NewGuard(db)
	eventLog := events.NewLog(db)

	f := &fixture{
		orchestrator: NewOrchestrator(db, guard, processor, eventLog, bus, rex),
		orders:       orderExec,
		eventLog:     eventLog,
		sim:          sim,
	}
	if err := f.orchestrator.DB().ReplaceAllocations("sub-1", []types.Allocation{
		{AssetID: "BTC", Percent: dec("60")},
		{AssetID: "ETH", Percent: dec("40")},
	}); err != nil {
		t.Fatalf("ReplaceAllocations: %v", err)
	}
	return f
}

func paymentEvent(eventID, paymentID string) types.PaymentEvent {
	return types.PaymentEvent{
		EventID: eventID,
		Payment: types.Payment{
			PaymentID:      paymentID,
			UserID:         "user-1",
			SubscriptionID: "sub-1",
			ProviderTxID:   "tx-" + paymentID,
			NetAmount:      dec("100"),
			Currency:       "USDT",
			ReceivedAt:     time.Now(),
		},
	}
}

func TestHandleProcessesPayment(t *testing.T) {
	f := newFixture(t, "10000")
	event := paymentEvent("evt-1", "pay-1")

	if err := f.orchestrator.Ingest(event); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	result, err := f.orchestrator.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Success || len(result.Results) != 2 {
		t.Fatalf("result=%+v, expected 2 successful allocations", result)
	}

	placed, err := f.orders.DB().GetByPayment("pay-1")
	if err != nil {
		t.Fatalf("GetByPayment: %v", err)
	}
	if len(placed) != 2 {
		t.Fatalf("orders=%d, expected 2", len(placed))
	}

	entry, err := f.eventLog.GetByID("evt-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.Status != events.LogStatusProcessed {
		t.Fatalf("event status=%s, expected %s", entry.Status, events.LogStatusProcessed)
	}
}

func TestRedeliveredEventIsNoOp(t *testing.T) {
	f := newFixture(t, "10000")
	event := paymentEvent("evt-1", "pay-1")

	first, err := f.orchestrator.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	second, err := f.orchestrator.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if !second.Success || second.PaymentID != first.PaymentID {
		t.Fatalf("second=%+v, expected stored result for %s", second, first.PaymentID)
	}

	placed, _ := f.orders.DB().GetByPayment("pay-1")
	if len(placed) != 2 {
		t.Fatalf("orders=%d after redelivery, expected exactly one set of 2", len(placed))
	}
}

func TestPaymentIDScopedIdempotency(t *testing.T) {
	f := newFixture(t, "10000")

	// Same payment arrives under two different delivery events.
	if _, err := f.orchestrator.Handle(context.Background(), paymentEvent("evt-1", "pay-1")); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if _, err := f.orchestrator.Handle(context.Background(), paymentEvent("evt-2", "pay-1")); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	placed, _ := f.orders.DB().GetByPayment("pay-1")
	if len(placed) != 2 {
		t.Fatalf("orders=%d, expected one set of 2 across both events", len(placed))
	}
}

func TestAllAllocationsFailedMarksEventFailed(t *testing.T) {
	f := newFixture(t, "5") // below both allocation targets
	event := paymentEvent("evt-1", "pay-1")

	if err := f.orchestrator.Ingest(event); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	result, err := f.orchestrator.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Success {
		t.Fatal("expected overall failure")
	}

	entry, err := f.eventLog.GetByID("evt-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.Status != events.LogStatusFailed {
		t.Fatalf("event status=%s, expected %s", entry.Status, events.LogStatusFailed)
	}
}

func TestUnknownSubscriptionFails(t *testing.T) {
	f := newFixture(t, "10000")
	event := paymentEvent("evt-1", "pay-1")
	event.Payment.SubscriptionID = "sub-unknown"

	if err := f.orchestrator.Ingest(event); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	_, err := f.orchestrator.Handle(context.Background(), event)
	if types.Classify(err) != types.ReasonNotFound {
		t.Fatalf("err=%v, expected not-found", err)
	}

	entry, _ := f.eventLog.GetByID("evt-1")
	if entry.Status != events.LogStatusFailed {
		t.Fatalf("event status=%s, expected %s", entry.Status, events.LogStatusFailed)
	}
}

func TestReprocessResumesPartialPayment(t *testing.T) {
	f := newFixture(t, "10000")

	// First run: ETH unknown to the registry, so only BTC fills.
	if err := f.orchestrator.DB().ReplaceAllocations("sub-1", []types.Allocation{
		{AssetID: "BTC", Percent: dec("60")},
		{AssetID: "DOGE", Percent: dec("40")},
	}); err != nil {
		t.Fatalf("ReplaceAllocations: %v", err)
	}
	result, err := f.orchestrator.Handle(context.Background(), paymentEvent("evt-1", "pay-1"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Success {
		t.Fatal("expected partial success")
	}

	// Partial success stores the result, so reprocessing by payment id is a
	// no-op rather than a double spend.
	again, err := f.orchestrator.ProcessPayment(context.Background(), paymentEvent("evt-2", "pay-1").Payment)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if !again.Success {
		t.Fatal("expected stored result on reprocess")
	}
	placed, _ := f.orders.DB().GetByPayment("pay-1")
	if len(placed) != 1 {
		t.Fatalf("orders=%d, expected the single BTC order", len(placed))
	}
}

func TestReplayUnprocessedDrainsBacklog(t *testing.T) {
	f := newFixture(t, "10000")

	// Two events logged but never handled, one handled up front.
	for _, ev := range []types.PaymentEvent{
		paymentEvent("evt-1", "pay-1"),
		paymentEvent("evt-2", "pay-2"),
		paymentEvent("evt-3", "pay-3"),
	} {
		if err := f.orchestrator.Ingest(ev); err != nil {
			t.Fatalf("Ingest(%s): %v", ev.EventID, err)
		}
	}
	if _, err := f.orchestrator.Handle(context.Background(), paymentEvent("evt-3", "pay-3")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	replayed, err := f.orchestrator.ReplayUnprocessed(context.Background(), 100)
	if err != nil {
		t.Fatalf("ReplayUnprocessed: %v", err)
	}
	if replayed != 2 {
		t.Fatalf("replayed=%d, expected the 2 pending events", replayed)
	}

	for _, paymentID := range []string{"pay-1", "pay-2"} {
		placed, err := f.orders.DB().GetByPayment(paymentID)
		if err != nil {
			t.Fatalf("GetByPayment(%s): %v", paymentID, err)
		}
		if len(placed) != 2 {
			t.Fatalf("orders for %s = %d, expected 2", paymentID, len(placed))
		}
	}

	// Backlog is empty afterwards.
	again, err := f.orchestrator.ReplayUnprocessed(context.Background(), 100)
	if err != nil {
		t.Fatalf("ReplayUnprocessed: %v", err)
	}
	if again != 0 {
		t.Fatalf("replayed=%d on a drained log, expected 0", again)
	}
}
