package scheduler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/autopilot/internal/types"
	"github.com/ksred/autopilot/pkg/response"
)

// GinHandlers contains HTTP handlers for internal scheduling endpoints
type GinHandlers struct {
	scheduler *Scheduler
}

func NewGinHandlers(s *Scheduler) *GinHandlers {
	return &GinHandlers{
		scheduler: s,
	}
}

// TickHandler runs a single scheduling pass immediately instead of waiting
// for the next interval. Useful for operational tooling and testing.
func (h *GinHandlers) TickHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		summary := h.scheduler.Tick(c.Request.Context(), now)
		response.Success(c, types.TickResponse{
			Attempted: summary.Attempted,
			Succeeded: summary.Succeeded,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
			Timestamp: now,
		})
	}
}
