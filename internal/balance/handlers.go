package balance

import (
	"github.com/gin-gonic/gin"
	"github.com/monetra/autoinvest/pkg/response"
)

// GinHandlers contains HTTP handlers for funding inspection endpoints
type GinHandlers struct {
	requester *Requester
}

// NewGinHandlers creates a new set of HTTP handlers for funding endpoints
func NewGinHandlers(requester *Requester) *GinHandlers {
	return &GinHandlers{requester: requester}
}

// PendingFundingHandler handles GET requests listing funding requests that
// have been issued but not yet acknowledged by treasury
func (h *GinHandlers) PendingFundingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.requester.Pending())
	}
}

// AcknowledgeFundingHandler handles POST requests marking an exchange's
// funding requests as handled
// URL parameter: exchange
func (h *GinHandlers) AcknowledgeFundingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("exchange")
		if name == "" {
			response.BadRequest(c, "Exchange name is required")
			return
		}
		h.requester.Acknowledge(name)
		response.Success(c, gin.H{"exchange": name, "status": "acknowledged"})
	}
}
