package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// CreateOrderRequest describes a booking. Tuition is either given directly
// or derived from the hourly rate and the number of booked hours.
type CreateOrderRequest struct {
	ListingID     string           `json:"listingId" binding:"required"`
	ListingTitle  string           `json:"listingTitle" binding:"required"`
	PayerID       uuid.UUID        `json:"payerId" binding:"required"`
	PayeeID       uuid.UUID        `json:"payeeId" binding:"required"`
	TuitionAmount *decimal.Decimal `json:"tuitionAmount"`
	HourlyRate    *decimal.Decimal `json:"hourlyRate"`
	Hours         *decimal.Decimal `json:"hours"`
}

type PaymentCallbackRequest struct {
	GatewayRef string `json:"gatewayRef" binding:"required"`
}
