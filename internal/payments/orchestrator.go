// Package payments is the top-level entry point of the pipeline: one
// confirmed payment event in, one set of allocation orders out. The
// orchestrator owns both idempotency domains (event id and payment id) and
// the durable event log bookkeeping.
package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/monetra/autoinvest/internal/allocation"
	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/idempotency"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// resultTTL bounds how long a stored processing result suppresses
// redelivery. Provider retries arrive within hours, not days.
const resultTTL = 24 * time.Hour

// Orchestrator drives a payment through allocation processing exactly once.
type Orchestrator struct {
	db        *Database
	guard     *idempotency.Guard
	processor *allocation.Processor
	eventLog  *events.Log
	bus       *events.Bus
	rex       *resilience.Executor
	policy    resilience.Policy
}

func NewOrchestrator(gormDB *gorm.DB, guard *idempotency.Guard, processor *allocation.Processor, eventLog *events.Log, bus *events.Bus, rex *resilience.Executor) *Orchestrator {
	return &Orchestrator{
		db:        NewDatabase(gormDB),
		guard:     guard,
		processor: processor,
		eventLog:  eventLog,
		bus:       bus,
		rex:       rex,
		policy: resilience.NewPolicy("payment.process",
			resilience.WithMaxAttempts(2),
			resilience.WithBackoff(resilience.BackoffFixed, time.Second, false),
			resilience.WithAttemptTimeout(2*time.Minute),
		),
	}
}

// DB exposes the payment store for the API layer.
func (o *Orchestrator) DB() *Database { return o.db }

// Handle processes one payment-confirmation event. A repeat delivery of an
// event id already processed returns the stored result without touching any
// exchange. The event row is marked processed or failed, never deleted.
func (o *Orchestrator) Handle(ctx context.Context, event types.PaymentEvent) (*types.ProcessingResult, error) {
	logger := log.With().
		Str("component", "payment_orchestrator").
		Str("event_id", event.EventID).
		Str("payment_id", event.Payment.PaymentID).
		Logger()

	if event.EventID == "" {
		return nil, types.ValidationError("invalid payment event", map[string]string{
			"event_id": "must not be empty",
		})
	}

	eventKey := idempotency.EventKey(event.EventID)
	exists, cached, err := idempotency.GetResult[types.ProcessingResult](o.guard, eventKey)
	if err != nil {
		return nil, types.WrapError(types.ReasonDatabase, err, "idempotency lookup for event %s", event.EventID)
	}
	if exists {
		logger.Info().Msg("event already processed, returning stored result")
		return &cached, nil
	}

	result, err := o.ProcessPayment(ctx, event.Payment)
	if err != nil {
		logger.Warn().Err(err).Msg("payment processing failed")
		o.markFailed(event.EventID, err.Error())
		return nil, err
	}
	if !result.Success {
		logger.Warn().Msg("all allocations failed, leaving event for reprocessing")
		o.markFailed(event.EventID, "all allocations failed")
		return result, nil
	}

	if err := idempotency.StoreResult(o.guard, eventKey, *result, resultTTL); err != nil {
		logger.Error().Err(err).Msg("failed to store event idempotency result")
	}
	if err := o.eventLog.MarkProcessed(event.EventID); err != nil {
		logger.Error().Err(err).Msg("failed to mark event processed")
	}

	logger.Info().Int("allocations", len(result.Results)).Msg("payment event processed")
	return result, nil
}

// ProcessPayment runs allocation processing for one payment, keyed on the
// payment id. It is the entry point for manual reprocessing: a payment can
// be resubmitted by id even when its originating event differs.
func (o *Orchestrator) ProcessPayment(ctx context.Context, payment types.Payment) (*types.ProcessingResult, error) {
	payKey := idempotency.PaymentKey(payment.PaymentID)
	exists, cached, err := idempotency.GetResult[types.ProcessingResult](o.guard, payKey)
	if err != nil {
		return nil, types.WrapError(types.ReasonDatabase, err, "idempotency lookup for payment %s", payment.PaymentID)
	}
	if exists {
		return &cached, nil
	}

	record := &PaymentRecord{
		PaymentID:      payment.PaymentID,
		UserID:         payment.UserID,
		SubscriptionID: payment.SubscriptionID,
		ProviderTxID:   payment.ProviderTxID,
		NetAmount:      payment.NetAmount,
		Currency:       payment.Currency,
		ReceivedAt:     payment.ReceivedAt,
	}
	if err := o.db.UpsertPayment(record); err != nil {
		return nil, types.WrapError(types.ReasonDatabase, err, "failed to persist payment %s", payment.PaymentID)
	}

	allocations, err := o.db.GetAllocations(payment.SubscriptionID)
	if err != nil {
		return nil, types.WrapError(types.ReasonDatabase, err, "failed to load allocations for subscription %s", payment.SubscriptionID)
	}
	if len(allocations) == 0 {
		return nil, types.NewError(types.ReasonNotFound, "no allocations configured for subscription %s", payment.SubscriptionID)
	}

	res := resilience.Execute(ctx, o.rex, o.policy, func(ctx context.Context) (*types.ProcessingResult, error) {
		return o.processor.ProcessAllocations(ctx, payment, allocations)
	})
	if !res.Success {
		return nil, types.WrapError(res.Reason, res.Err, "allocation processing failed for payment %s", payment.PaymentID)
	}

	result := res.Value
	if result.Success {
		if err := idempotency.StoreResult(o.guard, payKey, *result, resultTTL); err != nil {
			log.Error().Err(err).
				Str("payment_id", payment.PaymentID).
				Msg("failed to store payment idempotency result")
		}
	}
	return result, nil
}

// Ingest records an incoming payment event durably and announces it on the
// bus before any processing happens: an event on file can always be
// replayed, an event only in memory cannot.
func (o *Orchestrator) Ingest(event types.PaymentEvent) error {
	if err := o.eventLog.Append(event.EventID, string(events.EventPaymentReceived), event); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "failed to append event %s", event.EventID)
	}
	o.bus.Publish(events.EventPaymentReceived, event)
	return nil
}

// ReplayUnprocessed re-runs payment events the log still shows as
// unprocessed or failed. Events whose payments already completed are
// resolved by the idempotency guard without touching an exchange.
func (o *Orchestrator) ReplayUnprocessed(ctx context.Context, limit int) (int, error) {
	entries, err := o.eventLog.GetUnprocessed(string(events.EventPaymentReceived), limit)
	if err != nil {
		return 0, types.WrapError(types.ReasonDatabase, err, "failed to load unprocessed events")
	}

	replayed := 0
	for _, entry := range entries {
		var event types.PaymentEvent
		if err := json.Unmarshal([]byte(entry.Payload), &event); err != nil {
			log.Error().Err(err).Str("event_id", entry.EventID).Msg("unreadable event payload, skipping")
			continue
		}
		if _, err := o.Handle(ctx, event); err != nil {
			log.Warn().Err(err).Str("event_id", entry.EventID).Msg("event replay failed")
			continue
		}
		replayed++
	}
	return replayed, nil
}

func (o *Orchestrator) markFailed(eventID, reason string) {
	if err := o.eventLog.MarkFailed(eventID, reason); err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("failed to mark event failed")
	}
}
