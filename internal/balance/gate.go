// Package balance implements the admission-control gate that decides whether
// an exchange holds enough of its reserve asset before an order is placed,
// raising deduplicated funding requests on shortfall or low balance.
package balance

import (
	"context"

	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/monetra/autoinvest/pkg/cache"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Verdict is the explicit outcome of an admission check. Expected outcomes
// are values, not exceptions: only genuinely unexpected faults surface as
// errors.
type Verdict int

const (
	// VerdictOK: balance comfortably covers the required amount.
	VerdictOK Verdict = iota
	// VerdictOKLow: sufficient, but under the low-water ratio; a background
	// funding request was raised.
	VerdictOKLow
	// VerdictInsufficient: the check failed and a funding request for the
	// shortfall plus buffer was raised.
	VerdictInsufficient
)

// CheckResult carries the verdict and the numbers behind it.
type CheckResult struct {
	Verdict   Verdict
	Available decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

// Sufficient reports whether the order may proceed.
func (r CheckResult) Sufficient() bool { return r.Verdict != VerdictInsufficient }

// Gate performs balance admission checks against exchange reserve assets.
type Gate struct {
	cfg       Config
	registry  *exchange.Registry
	requester *Requester
	executor  *resilience.Executor
	policy    resilience.Policy
	balances  *cache.TTLCache
	verdicts  *cache.TTLCache
}

func NewGate(cfg Config, registry *exchange.Registry, requester *Requester, executor *resilience.Executor) *Gate {
	return &Gate{
		cfg:       cfg,
		registry:  registry,
		requester: requester,
		executor:  executor,
		policy:    resilience.ExchangeAPI("exchange.get_balance"),
		balances:  cache.New(),
		verdicts:  cache.New(),
	}
}

// CheckSufficientBalance validates its inputs before any I/O, fetches the
// exchange's available reserve balance (cached briefly), and applies the
// decision rule. Validation failures are terminal and never retried.
func (g *Gate) CheckSufficientBalance(ctx context.Context, exchangeName, reserveTicker string, required decimal.Decimal) (CheckResult, error) {
	fields := map[string]string{}
	if exchangeName == "" {
		fields["exchange_name"] = "must not be empty"
	}
	if reserveTicker == "" {
		fields["reserve_ticker"] = "must not be empty"
	}
	if !required.IsPositive() {
		fields["required_amount"] = "must be greater than zero"
	}
	if len(fields) > 0 {
		return CheckResult{}, types.ValidationError("invalid balance check request", fields)
	}

	logger := log.With().
		Str("component", "balance_gate").
		Str("exchange", exchangeName).
		Str("ticker", reserveTicker).
		Str("required", required.String()).
		Logger()

	// A fresh insufficient verdict for the same tuple short-circuits
	// repeated checks while funding is still in flight.
	verdictKey := verdictKey(exchangeName, reserveTicker, required)
	if v, ok := g.verdicts.Get(verdictKey); ok {
		logger.Debug().Msg("returning cached insufficient verdict")
		return v.(CheckResult), nil
	}

	client, err := g.registry.ClientByName(exchangeName)
	if err != nil {
		return CheckResult{}, types.WrapError(types.ReasonNotFound, err, "exchange %s is not configured", exchangeName)
	}

	available, err := g.availableBalance(ctx, client, reserveTicker)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{Available: available, Required: required}
	buffer := required.Mul(g.cfg.SafetyBuffer)

	switch {
	case available.LessThan(required):
		result.Verdict = VerdictInsufficient
		result.Shortfall = required.Sub(available).Add(buffer)
		g.requester.Request(exchangeName, reserveTicker, result.Shortfall)
		g.verdicts.Set(verdictKey, result, g.cfg.NegativeTTL)
		logger.Warn().
			Str("available", available.String()).
			Str("shortfall", result.Shortfall.String()).
			Msg("insufficient balance, funding requested")

	case available.LessThan(required.Mul(g.cfg.LowBalanceRatio)):
		result.Verdict = VerdictOKLow
		g.requester.Request(exchangeName, reserveTicker, required)
		logger.Info().
			Str("available", available.String()).
			Msg("balance low, background funding requested")

	default:
		result.Verdict = VerdictOK
	}

	return result, nil
}

// availableBalance fetches the reserve asset balance through the resilience
// wrapper, cached to avoid hammering the exchange under allocation loops.
func (g *Gate) availableBalance(ctx context.Context, client exchange.Client, ticker string) (decimal.Decimal, error) {
	key := "balance:" + client.Name() + ":" + ticker
	cached, err := g.balances.GetOrCompute(key, g.cfg.BalanceTTL, func() (any, error) {
		res := resilience.Execute(ctx, g.executor, g.policy, func(ctx context.Context) (exchange.Balance, error) {
			return client.GetBalance(ctx, ticker)
		})
		if !res.Success {
			return nil, types.WrapError(res.Reason, res.Err, "balance fetch failed for %s on %s", ticker, client.Name())
		}
		return res.Value.Available, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return cached.(decimal.Decimal), nil
}

// InvalidateBalance drops the cached balance for an exchange and ticker,
// used after fills so the next check sees fresh numbers.
func (g *Gate) InvalidateBalance(exchangeName, ticker string) {
	g.balances.Delete("balance:" + exchangeName + ":" + ticker)
}

func verdictKey(exchangeName, ticker string, required decimal.Decimal) string {
	return "verdict:" + exchangeName + ":" + ticker + ":" + required.Round(0).String()
}
