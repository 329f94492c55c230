package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks PaymentGateway

// Authorization is the outcome of a charge attempt. A decline is not an
// error: Approved is false and Reason says why.
type Authorization struct {
	Approved  bool
	Reference string
	Reason    string
}

type PaymentGateway interface {
	Authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (Authorization, error)
}
