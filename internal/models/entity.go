package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindPayment    TransactionKind = "payment"
	KindIncome     TransactionKind = "income"
	KindWithdrawal TransactionKind = "withdrawal"
	KindRefund     TransactionKind = "refund"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindPayment, KindIncome, KindWithdrawal, KindRefund:
		return true
	}
	return false
}

// IsOutflow reports whether transactions of this kind carry a negative amount.
func (k TransactionKind) IsOutflow() bool {
	return k == KindPayment || k == KindWithdrawal
}

type TransactionStatus string

const (
	TxStatusSuccess TransactionStatus = "success"
	TxStatusPending TransactionStatus = "pending"
	TxStatusFailed  TransactionStatus = "failed"
)

type Wallet struct {
	ID           uuid.UUID       `db:"id" json:"walletId"`
	Balance      decimal.Decimal `db:"balance" json:"balance"`
	Transactions []Transaction   `json:"transactions"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}

type Transaction struct {
	ID           string            `db:"id" json:"id"`
	WalletID     uuid.UUID         `db:"wallet_id" json:"walletId"`
	Kind         TransactionKind   `db:"kind" json:"kind"`
	Amount       decimal.Decimal   `db:"amount" json:"amount"`
	Title        string            `db:"title" json:"title"`
	Fee          *decimal.Decimal  `db:"fee" json:"fee,omitempty"`
	Counterparty string            `db:"counterparty" json:"counterparty,omitempty"`
	Status       TransactionStatus `db:"status" json:"status"`
	OrderID      *uuid.UUID        `db:"order_id" json:"orderId,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"createdAt"`
}

// TransactionDraft is a balance change that has not been committed yet.
// The ledger assigns id, status and timestamp when it is applied.
type TransactionDraft struct {
	Kind         TransactionKind
	Amount       decimal.Decimal
	Title        string
	Fee          *decimal.Decimal
	Counterparty string
	OrderID      *uuid.UUID
}

// LedgerEntry binds a draft to the wallet it must be applied to.
type LedgerEntry struct {
	WalletID uuid.UUID
	Draft    TransactionDraft
}

// Posting is a committed transaction and the wallet balance right after it.
type Posting struct {
	Transaction  Transaction
	BalanceAfter decimal.Decimal
}
