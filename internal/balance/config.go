package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config carries the admission-gate thresholds. These are policy knobs, not
// hard-coded constants: operators tune them per deployment.
type Config struct {
	// SafetyBuffer is the fraction added on top of a shortfall when a
	// funding request is raised, so the next check clears with headroom.
	SafetyBuffer decimal.Decimal
	// LowBalanceRatio is the multiple of the required amount under which a
	// check still passes but a background funding request is raised.
	LowBalanceRatio decimal.Decimal
	// FundingCooldown suppresses duplicate funding requests for the same
	// exchange and rounded amount.
	FundingCooldown time.Duration
	// BalanceTTL caches fetched exchange balances between checks.
	BalanceTTL time.Duration
	// NegativeTTL caches an insufficient verdict to short-circuit repeated
	// checks for the same tuple.
	NegativeTTL time.Duration
}

// DefaultConfig returns the production defaults: 5% buffer, 1.2 low-water
// ratio, 15 minute funding cooldown, 1 minute balance cache, 30 second
// negative cache.
func DefaultConfig() Config {
	return Config{
		SafetyBuffer:    decimal.NewFromFloat(0.05),
		LowBalanceRatio: decimal.NewFromFloat(1.2),
		FundingCooldown: 15 * time.Minute,
		BalanceTTL:      time.Minute,
		NegativeTTL:     30 * time.Second,
	}
}
