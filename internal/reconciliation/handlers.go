package reconciliation

import (
	"github.com/gin-gonic/gin"
	"github.com/monetra/autoinvest/pkg/response"
)

// GinHandlers contains HTTP handlers for on-demand reconciliation
type GinHandlers struct {
	processor *Processor
}

// NewGinHandlers creates a new set of HTTP handlers for reconciliation endpoints
func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{processor: processor}
}

// RunHandler handles POST requests that trigger one reconciliation pass
// outside the regular schedule: pending orders are refreshed, then queued
// retries and continuations are submitted.
func (h *GinHandlers) RunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.processor.ReconcilePending(c.Request.Context()); err != nil {
			response.Handle(c, nil, err)
			return
		}
		if err := h.processor.SubmitQueued(c.Request.Context()); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"status": "reconciliation completed"})
	}
}
