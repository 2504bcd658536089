package payments

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/monetra/autoinvest/internal/allocation"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/monetra/autoinvest/pkg/response"
	"github.com/shopspring/decimal"
)

// GinHandlers contains HTTP handlers for payment intake and inspection
type GinHandlers struct {
	orchestrator *Orchestrator
	orders       *orders.Database
	ledger       *allocation.Database
}

// NewGinHandlers creates a new set of HTTP handlers for payment endpoints
func NewGinHandlers(orchestrator *Orchestrator, orderDB *orders.Database, ledgerDB *allocation.Database) *GinHandlers {
	return &GinHandlers{orchestrator: orchestrator, orders: orderDB, ledger: ledgerDB}
}

// PaymentWebhookHandler handles POST requests delivering a payment
// confirmation. The event is recorded durably before processing; a repeat
// delivery of the same event id returns the stored result.
func (h *GinHandlers) PaymentWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event types.PaymentEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			response.BadRequest(c, "Invalid payment event payload")
			return
		}
		if event.EventID == "" {
			event.EventID = uuid.New().String()
		}

		if err := h.orchestrator.Ingest(event); err != nil {
			response.Handle(c, nil, err)
			return
		}

		result, err := h.orchestrator.Handle(c.Request.Context(), event)
		response.Handle(c, result, err)
	}
}

// ReprocessPaymentHandler handles POST requests that rerun allocation
// processing for a payment already on file. Previously filled allocations
// are skipped by the resume logic, so reprocessing is safe to repeat.
// URL parameter: payment_id
func (h *GinHandlers) ReprocessPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")
		if paymentID == "" {
			response.BadRequest(c, "Payment ID is required")
			return
		}

		record, err := h.orchestrator.DB().GetPayment(paymentID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if record == nil {
			response.NotFound(c, "Payment not found")
			return
		}

		payment := types.Payment{
			PaymentID:      record.PaymentID,
			UserID:         record.UserID,
			SubscriptionID: record.SubscriptionID,
			ProviderTxID:   record.ProviderTxID,
			NetAmount:      record.NetAmount,
			Currency:       record.Currency,
			ReceivedAt:     record.ReceivedAt,
		}
		result, err := h.orchestrator.ProcessPayment(c.Request.Context(), payment)
		response.Handle(c, result, err)
	}
}

// ReplayEventsHandler handles POST requests that re-run every payment event
// still marked unprocessed or failed in the durable log. Query parameter:
// limit (default 100)
func (h *GinHandlers) ReplayEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		replayed, err := h.orchestrator.ReplayUnprocessed(c.Request.Context(), limit)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"replayed": replayed})
	}
}

// GetPaymentResultsHandler handles GET requests for everything a payment
// produced: the payment record, its order chains and its ledger entries
// URL parameter: payment_id
func (h *GinHandlers) GetPaymentResultsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")
		if paymentID == "" {
			response.BadRequest(c, "Payment ID is required")
			return
		}

		record, err := h.orchestrator.DB().GetPayment(paymentID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if record == nil {
			response.NotFound(c, "Payment not found")
			return
		}

		placed, err := h.orders.GetByPayment(paymentID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		entries, err := h.ledger.GetByPayment(paymentID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{
			"payment": record,
			"orders":  placed,
			"ledger":  entries,
		})
	}
}

// SetAllocationsHandler handles PUT requests replacing a subscription's
// allocation plan
// URL parameter: subscription_id
func (h *GinHandlers) SetAllocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subscriptionID := c.Param("subscription_id")
		if subscriptionID == "" {
			response.BadRequest(c, "Subscription ID is required")
			return
		}

		var allocations []types.Allocation
		if err := c.ShouldBindJSON(&allocations); err != nil {
			response.BadRequest(c, "Invalid allocations payload")
			return
		}
		if err := validateAllocations(allocations); err != nil {
			response.Handle(c, nil, err)
			return
		}

		if err := h.orchestrator.DB().ReplaceAllocations(subscriptionID, allocations); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"subscription_id": subscriptionID, "allocations": len(allocations)})
	}
}

// GetAllocationsHandler handles GET requests for a subscription's allocation
// plan
// URL parameter: subscription_id
func (h *GinHandlers) GetAllocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subscriptionID := c.Param("subscription_id")
		if subscriptionID == "" {
			response.BadRequest(c, "Subscription ID is required")
			return
		}

		allocations, err := h.orchestrator.DB().GetAllocations(subscriptionID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, allocations)
	}
}

func validateAllocations(allocations []types.Allocation) error {
	fields := map[string]string{}
	if len(allocations) == 0 {
		fields["allocations"] = "must not be empty"
	}
	max := decimal.NewFromInt(100)
	sum := decimal.Zero
	for _, a := range allocations {
		if a.AssetID == "" {
			fields["asset_id"] = "must not be empty"
		}
		if !a.Percent.IsPositive() || a.Percent.GreaterThan(max) {
			fields["percent"] = "must be in (0, 100]"
		}
		sum = sum.Add(a.Percent)
	}
	if sum.GreaterThan(max) {
		fields["total"] = "allocations must sum to at most 100"
	}
	if len(fields) > 0 {
		return types.ValidationError("invalid allocation plan", fields)
	}
	return nil
}
