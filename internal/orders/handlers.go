package orders

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/autopilot/internal/auth"
	"github.com/ksred/autopilot/internal/ledger"
	"github.com/ksred/autopilot/internal/types"
	"github.com/ksred/autopilot/pkg/response"
)

// GinHandlers contains HTTP handlers for standing order endpoints.
type GinHandlers struct {
	service *Service
	ledger  *ledger.Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints.
func NewGinHandlers(service *Service, ledgerService *ledger.Service) *GinHandlers {
	return &GinHandlers{
		service: service,
		ledger:  ledgerService,
	}
}

// CreateOrderHandler handles POST requests to create standing orders.
// Requires a valid JWT token and idempotency key in headers.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		var order types.StandingOrder
		if err := c.ShouldBindJSON(&order); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		order.OwnerID = ownerID

		if err := h.service.CreateOrder(&order, idempotencyKey); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for all of the caller's orders.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		orders, err := h.service.ListOrders(ownerID)
		response.Handle(c, orders, err)
	}
}

// GetOrderHandler handles GET requests for a single order with its execution
// history.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		orderID := c.Param("order_id")
		order, err := h.service.GetOrderForOwner(orderID, ownerID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		records, err := h.ledger.History(orderID, 50)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, types.OrderHistoryResponse{Order: order, Records: records})
	}
}

// CancelOrderHandler handles POST requests to cancel an order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return h.lifecycleHandler(func(orderID string) (bool, error) {
		return h.service.CancelOrder(orderID)
	})
}

// PauseOrderHandler handles POST requests to pause an order.
func (h *GinHandlers) PauseOrderHandler() gin.HandlerFunc {
	return h.lifecycleHandler(func(orderID string) (bool, error) {
		return h.service.PauseOrder(orderID)
	})
}

// ResumeOrderHandler handles POST requests to resume a paused order.
func (h *GinHandlers) ResumeOrderHandler() gin.HandlerFunc {
	return h.lifecycleHandler(func(orderID string) (bool, error) {
		return h.service.ResumeOrder(orderID)
	})
}

func (h *GinHandlers) lifecycleHandler(apply func(orderID string) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := ownerFromContext(c)
		if ownerID == "" {
			response.Unauthorized(c, "Invalid owner in token")
			return
		}

		orderID := c.Param("order_id")
		order, err := h.service.GetOrderForOwner(orderID, ownerID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		ok, err := apply(orderID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if !ok {
			response.Conflict(c, "Order is not in a state that allows this transition")
			return
		}

		updated, err := h.service.GetOrder(orderID)
		response.Handle(c, updated, err)
	}
}

func ownerFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetClientID(claims)
}
