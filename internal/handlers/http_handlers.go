package handlers

import (
	"context"
	"net/http"

	"escrow_wallet/internal/fees"
	"escrow_wallet/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=http_handlers.go -destination=../mocks/mock_wallet_service.go -package=mocks WalletService

type WalletService interface {
	Deposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (models.Wallet, error)
	GetWallet(ctx context.Context, walletID uuid.UUID) (models.Wallet, error)
	PreviewWithdrawalFee(amount decimal.Decimal) (fees.Preview, error)
}

type WalletHTTPHandler struct {
	service WalletService
}

func NewWalletHTTPHandler(service WalletService) *WalletHTTPHandler {
	return &WalletHTTPHandler{service: service}
}

func (h *WalletHTTPHandler) RegisterRoutes(r *gin.Engine, guards Guards) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/wallets/:actor_id", guards.Auth.RequireActor("actor_id"), h.HandleGetWallet)
		v1.POST("/wallets/:actor_id/withdrawals", guards.Auth.RequireActor("actor_id"), guards.idempotency(), h.HandleWithdraw)
		v1.POST("/wallets/:actor_id/deposits", guards.Auth.RequireAdmin(), guards.idempotency(), h.HandleDeposit)
		v1.GET("/fees/withdrawal", h.HandlePreviewFee)
	}
}

func (h *WalletHTTPHandler) HandleGetWallet(c *gin.Context) {
	walletID, ok := parseID(c, "actor_id")
	if !ok {
		return
	}
	wallet, err := h.service.GetWallet(c.Request.Context(), walletID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *WalletHTTPHandler) HandleWithdraw(c *gin.Context) {
	walletID, ok := parseID(c, "actor_id")
	if !ok {
		return
	}
	var req models.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	wallet, err := h.service.Withdraw(c.Request.Context(), walletID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *WalletHTTPHandler) HandleDeposit(c *gin.Context) {
	walletID, ok := parseID(c, "actor_id")
	if !ok {
		return
	}
	var req models.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	balance, err := h.service.Deposit(c.Request.Context(), walletID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"walletId": walletID, "balance": balance.String()})
}

func (h *WalletHTTPHandler) HandlePreviewFee(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	preview, err := h.service.PreviewWithdrawalFee(amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}
