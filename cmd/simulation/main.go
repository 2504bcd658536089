package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/monetra/autoinvest/internal/allocation"
	"github.com/monetra/autoinvest/internal/balance"
	"github.com/monetra/autoinvest/internal/database"
	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/idempotency"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/payments"
	"github.com/monetra/autoinvest/internal/reconciliation"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minPayments = 20
	maxPayments = 120
	numWorkers  = 5
	// redeliveryRate is the fraction of payment events delivered twice, to
	// exercise the idempotency path the way flaky webhook providers do.
	redeliveryRate = 0.2
)

var subscriptionPlans = map[string][]types.Allocation{
	"sub-conservative": {
		{AssetID: "BTC", Percent: decimal.NewFromInt(70)},
		{AssetID: "ETH", Percent: decimal.NewFromInt(30)},
	},
	"sub-balanced": {
		{AssetID: "BTC", Percent: decimal.NewFromInt(40)},
		{AssetID: "ETH", Percent: decimal.NewFromInt(30)},
		{AssetID: "SOL", Percent: decimal.NewFromInt(30)},
	},
	"sub-aggressive": {
		{AssetID: "SOL", Percent: decimal.NewFromInt(50)},
		{AssetID: "DOT", Percent: decimal.NewFromInt(50)},
	},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// pipeline bundles the in-process services the simulation drives.
type pipeline struct {
	orchestrator *payments.Orchestrator
	reconciler   *reconciliation.Processor
	orders       *orders.Executor
}

// simStats aggregates outcomes across all simulated payments.
type simStats struct {
	mu               sync.Mutex
	TotalPayments    int
	Succeeded        int
	Failed           int
	Redelivered      int
	OrdersFilled     int
	OrdersPartial    int
	OrdersFailed     int
	AlreadyProcessed int
	TotalInvested    decimal.Decimal
	Assets           map[string]int
	Durations        []time.Duration
	StartTime        time.Time
}

func (s *simStats) record(result *types.ProcessingResult, err error, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalPayments++
	s.Durations = append(s.Durations, elapsed)
	if err != nil || result == nil || !result.Success {
		s.Failed++
		return
	}
	s.Succeeded++
	for _, r := range result.Results {
		if !r.Success {
			s.OrdersFailed++
			continue
		}
		switch r.Status {
		case allocation.StatusAlreadyProcessed:
			s.AlreadyProcessed++
		case types.OrderStatusPartiallyFilled:
			s.OrdersPartial++
			s.Assets[r.AssetID]++
			s.TotalInvested = s.TotalInvested.Add(r.FilledQty)
		default:
			s.OrdersFilled++
			s.Assets[r.AssetID]++
			s.TotalInvested = s.TotalInvested.Add(r.FilledQty)
		}
	}
}

// main runs the payment pipeline simulation: random payments fan out through
// the orchestrator against simulated exchanges, a share of events is
// redelivered to exercise idempotency, and a reconciliation pass settles
// whatever was left pending or partially filled.
func main() {
	p, err := buildPipeline()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	targetPayments := rand.Intn(maxPayments-minPayments) + minPayments
	fmt.Printf("Starting simulation with %d payments across %d workers\n", targetPayments, numWorkers)

	stats := &simStats{
		Assets:        make(map[string]int),
		TotalInvested: decimal.Zero,
		StartTime:     time.Now(),
	}

	var wg sync.WaitGroup
	paymentsPerWorker := targetPayments / numWorkers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, paymentsPerWorker, p, stats)
		}(i)
	}
	wg.Wait()

	// One reconciliation pass picks up partial fills and submits the
	// continuation orders it enqueues.
	ctx := context.Background()
	if err := p.reconciler.ReconcilePending(ctx); err != nil {
		log.Error().Err(err).Msg("reconciliation failed")
	}
	if err := p.reconciler.SubmitQueued(ctx); err != nil {
		log.Error().Err(err).Msg("queued submission failed")
	}

	printSummary(stats)
}

// runWorker submits a stream of random payment events, redelivering a share
// of them to prove the second delivery is a no-op.
func runWorker(workerID, numPayments int, p *pipeline, stats *simStats) {
	subscriptions := make([]string, 0, len(subscriptionPlans))
	for id := range subscriptionPlans {
		subscriptions = append(subscriptions, id)
	}

	for i := 0; i < numPayments; i++ {
		amount := decimal.NewFromInt(int64(rand.Intn(950) + 50))
		event := types.PaymentEvent{
			EventID: uuid.New().String(),
			Payment: types.Payment{
				PaymentID:      uuid.New().String(),
				UserID:         fmt.Sprintf("user-%d-%d", workerID, i),
				SubscriptionID: subscriptions[rand.Intn(len(subscriptions))],
				ProviderTxID:   uuid.New().String(),
				NetAmount:      amount,
				Currency:       "USD",
				ReceivedAt:     time.Now(),
			},
		}

		if err := p.orchestrator.Ingest(event); err != nil {
			log.Error().Err(err).Msg("failed to ingest payment event")
			continue
		}

		start := time.Now()
		result, err := p.orchestrator.Handle(context.Background(), event)
		stats.record(result, err, time.Since(start))

		if rand.Float64() < redeliveryRate {
			if _, err := p.orchestrator.Handle(context.Background(), event); err == nil {
				stats.mu.Lock()
				stats.Redelivered++
				stats.mu.Unlock()
			}
		}

		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
	}
}

func buildPipeline() (*pipeline, error) {
	db, err := database.NewDatabase(":memory:")
	if err != nil {
		return nil, err
	}

	registry := exchange.NewRegistry()

	binance := exchange.NewSimulated("binance", "USDT")
	binance.MinLatency = 5
	binance.MaxLatency = 40
	binance.SuccessRate = 0.95
	binance.LiquidityFactor = 0.9
	binance.SetBalance("USDT", decimal.NewFromInt(5_000_000))
	binance.SetPrice("BTCUSDT", decimal.NewFromInt(65_000))
	binance.SetPrice("ETHUSDT", decimal.NewFromInt(3_400))
	registry.RegisterExchange(binance)

	kraken := exchange.NewSimulated("kraken", "USDC")
	kraken.MinLatency = 10
	kraken.MaxLatency = 60
	kraken.SuccessRate = 0.93
	kraken.LiquidityFactor = 0.85
	kraken.SetBalance("USDC", decimal.NewFromInt(2_000_000))
	kraken.SetPrice("SOLUSDC", decimal.NewFromInt(150))
	kraken.SetPrice("DOTUSDC", decimal.NewFromInt(7))
	registry.RegisterExchange(kraken)

	routes := map[string]string{"BTC": "binance", "ETH": "binance", "SOL": "kraken", "DOT": "kraken"}
	for asset, venue := range routes {
		if err := registry.RegisterAsset(asset, venue); err != nil {
			return nil, err
		}
	}

	bus := events.NewBus()
	ctx := context.Background()

	sink := events.NewNotificationSink(bus)
	sink.Start(ctx)

	requester := balance.NewRequester(bus, 15*time.Minute, 256)
	requester.Start(ctx)

	rex := resilience.NewExecutor()
	gate := balance.NewGate(balance.DefaultConfig(), registry, requester, rex)
	orderExec := orders.NewExecutor(db, bus, rex, registry)
	processor := allocation.NewProcessor(db, orderExec, gate, registry, rex)
	guard := idempotency.NewGuard(db)
	eventLog := events.NewLog(db)
	orchestrator := payments.NewOrchestrator(db, guard, processor, eventLog, bus, rex)

	paymentsDB := payments.NewDatabase(db)
	for id, plan := range subscriptionPlans {
		if err := paymentsDB.ReplaceAllocations(id, plan); err != nil {
			return nil, err
		}
	}

	return &pipeline{
		orchestrator: orchestrator,
		reconciler:   reconciliation.NewProcessor(orderExec, registry, rex, time.Minute),
		orders:       orderExec,
	}, nil
}

func printSummary(stats *simStats) {
	duration := time.Since(stats.StartTime)

	var mean time.Duration
	if len(stats.Durations) > 0 {
		var sum time.Duration
		for _, d := range stats.Durations {
			sum += d
		}
		mean = sum / time.Duration(len(stats.Durations))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PAYMENT PIPELINE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Payment Statistics
------------------
Total Payments:    %d
Succeeded:         %d
Failed:            %d
Redeliveries:      %d (all returned the stored result)
Orders Filled:     %d
Orders Partial:    %d
Orders Failed:     %d
Already Processed: %d
Total Invested:    %s
Mean Latency:      %v
Duration:          %v

Asset Distribution
------------------
`, stats.TotalPayments, stats.Succeeded, stats.Failed, stats.Redelivered,
		stats.OrdersFilled, stats.OrdersPartial, stats.OrdersFailed, stats.AlreadyProcessed,
		stats.TotalInvested.StringFixed(2), mean.Round(time.Millisecond), duration.Round(time.Millisecond))

	maxCount := 0
	for _, count := range stats.Assets {
		if count > maxCount {
			maxCount = count
		}
	}
	for asset, count := range stats.Assets {
		barLength := 0
		if maxCount > 0 {
			barLength = count * 20 / maxCount
		}
		fmt.Printf("%-4s: %s (%d)\n", asset, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if stats.TotalPayments > 0 {
		successRate = float64(stats.Succeeded) / float64(stats.TotalPayments) * 100
	}
	log.Warn().
		Float64("success_rate", successRate).
		Int("total_payments", stats.TotalPayments).
		Str("total_invested", stats.TotalInvested.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")
}
