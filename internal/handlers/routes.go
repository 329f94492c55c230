package handlers

import (
	"escrow_wallet/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Guards are the middlewares put in front of the routes. The zero value
// disables auth and idempotency.
type Guards struct {
	Auth        *middleware.Auth
	Idempotency gin.HandlerFunc
}

func (g Guards) idempotency() gin.HandlerFunc {
	if g.Idempotency == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return g.Idempotency
}
