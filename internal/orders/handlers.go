package orders

import (
	"github.com/gin-gonic/gin"
	"github.com/monetra/autoinvest/pkg/response"
)

// GinHandlers contains HTTP handlers for order inspection endpoints
type GinHandlers struct {
	db *Database
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(executor *Executor) *GinHandlers {
	return &GinHandlers{db: executor.DB()}
}

// GetOrderHandler handles GET requests to retrieve a single order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.db.GetOrder(orderID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// GetOrderChainHandler handles GET requests for an allocation's full order
// chain (original order plus retries and continuations)
// URL parameters: payment_id, asset_id
func (h *GinHandlers) GetOrderChainHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")
		assetID := c.Param("asset_id")
		if paymentID == "" || assetID == "" {
			response.BadRequest(c, "Payment ID and asset ID are required")
			return
		}

		chain, err := h.db.GetChain(paymentID, assetID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, chain)
	}
}
