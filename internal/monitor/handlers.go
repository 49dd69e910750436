package monitor

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/autopilot/pkg/response"
)

// GinHandlers contains HTTP handlers for internal monitoring endpoints
type GinHandlers struct {
	registry *Registry
}

func NewGinHandlers(registry *Registry) *GinHandlers {
	return &GinHandlers{
		registry: registry,
	}
}

// EvaluateHandler runs a single evaluation pass over all active rules
func (h *GinHandlers) EvaluateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary := h.registry.Evaluate(c.Request.Context(), time.Now())
		response.Success(c, gin.H{
			"evaluated": summary.Evaluated,
			"triggered": summary.Triggered,
			"errors":    summary.Errors,
		})
	}
}
