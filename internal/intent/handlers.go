package intent

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/ksred/autopilot/internal/auth"
	"github.com/ksred/autopilot/pkg/response"
	"github.com/rs/zerolog/log"
)

// GinHandlers contains HTTP handlers for intent endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitIntentHandler handles POST requests to submit a new intent. The
// request text is planned, validated and accepted synchronously; execution
// runs in the background and is observed through the status endpoint.
func (h *GinHandlers) SubmitIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		var request struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		intent, err := h.service.Submit(c.Request.Context(), ownerID, request.Text)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		go func(intentID string) {
			if _, err := h.service.Execute(context.Background(), intentID); err != nil {
				log.Error().
					Str("service", "intent").
					Str("intent_id", intentID).
					Err(err).
					Msg("background intent execution failed")
			}
		}(intent.IntentID)

		response.Success(c, intent)
	}
}

// GetIntentHandler handles GET requests for an intent's status.
func (h *GinHandlers) GetIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		status, err := h.service.Status(c.Param("intent_id"), ownerID)
		if err != nil || status == nil {
			response.NotFound(c, "Intent not found")
			return
		}

		response.Success(c, status)
	}
}

// ConfirmIntentHandler handles POST requests delivering a confirmation
// decision for an intent that requires one.
func (h *GinHandlers) ConfirmIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		var request struct {
			Approved *bool `json:"approved" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if !h.service.Confirm(c.Param("intent_id"), *request.Approved) {
			response.NotFound(c, "No execution awaiting confirmation for this intent")
			return
		}

		response.Success(c, gin.H{"intent_id": c.Param("intent_id"), "approved": *request.Approved})
	}
}

// CancelIntentHandler handles POST requests to cancel an intent.
func (h *GinHandlers) CancelIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		intentID := c.Param("intent_id")
		existing, err := h.service.db.GetIntentByOwner(intentID, ownerID)
		if err != nil || existing == nil {
			response.NotFound(c, "Intent not found")
			return
		}

		ok, err := h.service.Cancel(intentID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if !ok {
			response.Conflict(c, "Intent is already terminal")
			return
		}

		response.Success(c, gin.H{"intent_id": intentID, "status": "CANCELLED"})
	}
}

func ownerFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
