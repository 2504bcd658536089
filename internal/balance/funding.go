package balance

import (
	"context"
	"sync"
	"time"

	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/pkg/cache"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// FundingRequest asks the treasury collaborator to top up an exchange's
// reserve asset. The underlying funding mechanism is slow and not idempotent,
// so requests are deduplicated by exchange and rounded amount within the
// cooldown window.
type FundingRequest struct {
	Exchange    string          `json:"exchange"`
	Ticker      string          `json:"ticker"`
	Amount      decimal.Decimal `json:"amount"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Requester funnels funding requests through an explicit queue consumed by a
// dedicated worker, so failures and backpressure are observable instead of
// being lost in fire-and-forget goroutines.
type Requester struct {
	bus      *events.Bus
	dedup    *cache.TTLCache
	cooldown time.Duration
	queue    chan FundingRequest

	mu      sync.Mutex
	pending []FundingRequest
}

// NewRequester creates a requester with the given dedup cooldown and queue
// capacity.
func NewRequester(bus *events.Bus, cooldown time.Duration, queueSize int) *Requester {
	return &Requester{
		bus:      bus,
		dedup:    cache.New(),
		cooldown: cooldown,
		queue:    make(chan FundingRequest, queueSize),
	}
}

// Request enqueues a funding request unless an equivalent one was issued
// within the cooldown. Returns whether the request was accepted.
func (r *Requester) Request(exchange, ticker string, amount decimal.Decimal) bool {
	key := dedupKey(exchange, ticker, amount)
	if _, seen := r.dedup.Get(key); seen {
		log.Debug().
			Str("exchange", exchange).
			Str("amount", amount.String()).
			Msg("funding request suppressed by cooldown")
		return false
	}
	r.dedup.Set(key, struct{}{}, r.cooldown)

	req := FundingRequest{
		Exchange:    exchange,
		Ticker:      ticker,
		Amount:      amount,
		RequestedAt: time.Now(),
	}

	select {
	case r.queue <- req:
		return true
	default:
		// Queue full: drop the dedup marker so the request can be retried,
		// and surface the backpressure.
		r.dedup.Delete(key)
		log.Warn().
			Str("exchange", exchange).
			Str("amount", amount.String()).
			Msg("funding queue full, request dropped")
		return false
	}
}

// Start runs the funding worker until the context is cancelled.
func (r *Requester) Start(ctx context.Context) {
	logger := log.With().Str("component", "funding_worker").Logger()
	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("shutting down funding worker")
				return
			case req := <-r.queue:
				r.mu.Lock()
				r.pending = append(r.pending, req)
				r.mu.Unlock()

				r.bus.Publish(events.EventFundingRequired, req)
				logger.Info().
					Str("exchange", req.Exchange).
					Str("ticker", req.Ticker).
					Str("amount", req.Amount.String()).
					Msg("funding request issued")
			}
		}
	}()
}

// Pending returns the funding requests issued so far and not yet
// acknowledged by the treasury side.
func (r *Requester) Pending() []FundingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FundingRequest, len(r.pending))
	copy(out, r.pending)
	return out
}

// Acknowledge clears pending requests for an exchange once treasury confirms
// the transfer.
func (r *Requester) Acknowledge(exchange string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.pending[:0]
	for _, req := range r.pending {
		if req.Exchange != exchange {
			kept = append(kept, req)
		}
	}
	r.pending = kept
}

func dedupKey(exchange, ticker string, amount decimal.Decimal) string {
	return "funding:" + exchange + ":" + ticker + ":" + amount.Round(0).String()
}
