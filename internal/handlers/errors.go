package handlers

import (
	"errors"
	"net/http"

	"escrow_wallet/internal/models"

	"github.com/gin-gonic/gin"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{models.ErrInvalidAmount, http.StatusBadRequest},
	{models.ErrWalletNotFound, http.StatusNotFound},
	{models.ErrOrderNotFound, http.StatusNotFound},
	{models.ErrInsufficientFunds, http.StatusConflict},
	{models.ErrInvalidStateTransition, http.StatusConflict},
	{models.ErrEscrowWallet, http.StatusConflict},
	{models.ErrConcurrencyConflict, http.StatusConflict},
	{models.ErrGatewayFailure, http.StatusPaymentRequired},
}

// writeError answers with the sentinel text only, so storage errors never
// reach the client.
func writeError(c *gin.Context, err error) {
	for _, s := range statusBySentinel {
		if !errors.Is(err, s.err) {
			continue
		}
		body := gin.H{"error": s.err.Error()}
		var gwErr *models.GatewayError
		if errors.As(err, &gwErr) {
			body["reason"] = gwErr.Reason
		}
		c.JSON(s.status, body)
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
}
