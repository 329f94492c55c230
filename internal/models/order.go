package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderRefunded  OrderStatus = "refunded"
	OrderCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled},
	OrderPaid:    {OrderCompleted, OrderRefunded},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

type EscrowOrder struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ListingID        string          `db:"listing_id" json:"listingId"`
	ListingTitle     string          `db:"listing_title" json:"listingTitle"`
	PayerID          uuid.UUID       `db:"payer_id" json:"payerId"`
	PayeeID          uuid.UUID       `db:"payee_id" json:"payeeId"`
	TuitionAmount    decimal.Decimal `db:"tuition_amount" json:"tuitionAmount"`
	ServiceFeeRate   decimal.Decimal `db:"service_fee_rate" json:"serviceFeeRate"`
	ServiceFeeAmount decimal.Decimal `db:"service_fee_amount" json:"serviceFeeAmount"`
	TotalCharged     decimal.Decimal `db:"total_charged" json:"totalCharged"`
	HeldAmount       decimal.Decimal `db:"held_amount" json:"heldAmount"`
	Status           OrderStatus     `db:"status" json:"status"`
	GatewayRef       string          `db:"gateway_ref" json:"gatewayRef,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// OrderTransition is the next state of an order together with the ledger
// entries that must be committed with it.
type OrderTransition struct {
	Order   EscrowOrder
	Entries []LedgerEntry
}

// TransitionFunc decides the transition for the locked current order.
// A nil transition with a nil error means the request was already applied.
type TransitionFunc func(current EscrowOrder) (*OrderTransition, error)

type TransitionResult struct {
	Order    EscrowOrder
	Previous OrderStatus
	Postings []Posting
	Applied  bool
}
