package handlers

import (
	"context"
	"net/http"

	"escrow_wallet/internal/middleware"
	"escrow_wallet/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

//go:generate mockgen -source=order_handlers.go -destination=../mocks/mock_order_service.go -package=mocks OrderService

type OrderService interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.EscrowOrder, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error)
	PayOrder(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, gatewayRef string) (models.EscrowOrder, error)
	ConfirmCompletion(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error)
	RequestRefund(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error)
}

type OrderHTTPHandler struct {
	service OrderService
}

func NewOrderHTTPHandler(service OrderService) *OrderHTTPHandler {
	return &OrderHTTPHandler{service: service}
}

func (h *OrderHTTPHandler) RegisterRoutes(r *gin.Engine, guards Guards) {
	orders := r.Group("/api/v1/orders")
	{
		orders.POST("", guards.Auth.Authenticate(), guards.idempotency(), h.HandleCreate)
		orders.GET("/:order_id", guards.Auth.Authenticate(), h.HandleGet)
		orders.POST("/:order_id/pay", guards.Auth.Authenticate(), guards.idempotency(), h.HandlePay)
		orders.POST("/:order_id/cancel", guards.Auth.Authenticate(), guards.idempotency(), h.HandleCancel)
		orders.POST("/:order_id/payment-callback", guards.Auth.RequireAdmin(), h.HandlePaymentCallback)
		orders.POST("/:order_id/complete", guards.Auth.RequireAdmin(), guards.idempotency(), h.HandleComplete)
		orders.POST("/:order_id/refund", guards.Auth.RequireAdmin(), guards.idempotency(), h.HandleRefund)
	}
}

func (h *OrderHTTPHandler) HandleCreate(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if claims, ok := middleware.ClaimsFrom(c); ok && claims.Role != middleware.RoleAdmin && claims.Subject != req.PayerID.String() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	order, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHTTPHandler) HandleGet(c *gin.Context) {
	h.handle(c, participant, h.service.GetOrder)
}

func (h *OrderHTTPHandler) HandlePay(c *gin.Context) {
	h.handle(c, payer, h.service.PayOrder)
}

func (h *OrderHTTPHandler) HandleComplete(c *gin.Context) {
	h.handle(c, nil, h.service.ConfirmCompletion)
}

func (h *OrderHTTPHandler) HandleRefund(c *gin.Context) {
	h.handle(c, nil, h.service.RequestRefund)
}

func (h *OrderHTTPHandler) HandleCancel(c *gin.Context) {
	h.handle(c, payer, h.service.CancelOrder)
}

func (h *OrderHTTPHandler) HandlePaymentCallback(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	var req models.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	order, err := h.service.ConfirmPayment(c.Request.Context(), orderID, req.GatewayRef)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// orderAccess decides whether a non-admin caller may act on an order.
type orderAccess func(subject string, order models.EscrowOrder) bool

func payer(subject string, order models.EscrowOrder) bool {
	return subject == order.PayerID.String()
}

func participant(subject string, order models.EscrowOrder) bool {
	return subject == order.PayerID.String() || subject == order.PayeeID.String()
}

func (h *OrderHTTPHandler) handle(c *gin.Context, access orderAccess, op func(context.Context, uuid.UUID) (models.EscrowOrder, error)) {
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	if access != nil && !h.authorize(c, orderID, access) {
		return
	}
	order, err := op(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// authorize loads the order for callers with a non-admin token. Without auth
// there are no claims and every caller passes.
func (h *OrderHTTPHandler) authorize(c *gin.Context, orderID uuid.UUID, access orderAccess) bool {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.Role == middleware.RoleAdmin {
		return true
	}
	order, err := h.service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return false
	}
	if !access(claims.Subject, order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}
