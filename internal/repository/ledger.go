package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow_wallet/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, wallet_id, kind, amount, title, fee, counterparty, status, order_id, created_at`

// applyTransaction commits one draft against a wallet inside tx. The wallet
// row stays locked until tx ends, so the balance check, the log insert and
// the balance update are seen by other writers as one step.
func applyTransaction(
	ctx context.Context,
	tx pgx.Tx,
	walletID uuid.UUID,
	draft models.TransactionDraft,
	now time.Time,
) (models.Transaction, decimal.Decimal, error) {
	if err := validateDraft(draft); err != nil {
		return models.Transaction{}, decimal.Zero, err
	}

	var currentBalance decimal.Decimal
	err := tx.QueryRow(ctx, "SELECT balance FROM wallets WHERE id = $1 FOR UPDATE", walletID).Scan(&currentBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		if draft.Kind.IsOutflow() {
			return models.Transaction{}, decimal.Zero, models.ErrWalletNotFound
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallets (id, balance, created_at, updated_at) VALUES ($1, 0, $2, $2)
			ON CONFLICT (id) DO NOTHING`, walletID, now); err != nil {
			return models.Transaction{}, decimal.Zero, fmt.Errorf("upsert wallet: %w", err)
		}
		err = tx.QueryRow(ctx, "SELECT balance FROM wallets WHERE id = $1 FOR UPDATE", walletID).Scan(&currentBalance)
	}
	if err != nil {
		return models.Transaction{}, decimal.Zero, fmt.Errorf("lock wallet: %w", err)
	}

	newBalance := currentBalance.Add(draft.Amount)
	if newBalance.IsNegative() {
		return models.Transaction{}, currentBalance, models.ErrInsufficientFunds
	}

	record := models.Transaction{
		ID:           ulid.Make().String(),
		WalletID:     walletID,
		Kind:         draft.Kind,
		Amount:       draft.Amount,
		Title:        draft.Title,
		Fee:          draft.Fee,
		Counterparty: draft.Counterparty,
		Status:       models.TxStatusSuccess,
		OrderID:      draft.OrderID,
		CreatedAt:    now,
	}

	fee := decimal.NullDecimal{}
	if record.Fee != nil {
		fee = decimal.NewNullDecimal(*record.Fee)
	}
	orderID := uuid.NullUUID{}
	if record.OrderID != nil {
		orderID = uuid.NullUUID{UUID: *record.OrderID, Valid: true}
	}

	_, err = tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, walletID, string(record.Kind), record.Amount, record.Title, fee,
		record.Counterparty, string(record.Status), orderID, record.CreatedAt,
	)
	if err != nil {
		return models.Transaction{}, currentBalance, fmt.Errorf("insert transaction: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3", newBalance, now, walletID)
	if err != nil {
		return models.Transaction{}, currentBalance, fmt.Errorf("update balance: %w", err)
	}

	return record, newBalance, nil
}

func validateDraft(draft models.TransactionDraft) error {
	if !draft.Kind.Valid() {
		return fmt.Errorf("unknown transaction kind %q", draft.Kind)
	}
	if draft.Amount.IsZero() {
		return fmt.Errorf("%w: must not be zero", models.ErrInvalidAmount)
	}
	if draft.Kind.IsOutflow() != draft.Amount.IsNegative() {
		return fmt.Errorf("%w: sign does not match %s", models.ErrInvalidAmount, draft.Kind)
	}
	return nil
}

func scanTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var (
		t       models.Transaction
		kind    string
		status  string
		fee     decimal.NullDecimal
		orderID uuid.NullUUID
	)
	err := row.Scan(&t.ID, &t.WalletID, &kind, &t.Amount, &t.Title, &fee, &t.Counterparty, &status, &orderID, &t.CreatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	t.Kind = models.TransactionKind(kind)
	t.Status = models.TransactionStatus(status)
	if fee.Valid {
		f := fee.Decimal
		t.Fee = &f
	}
	if orderID.Valid {
		id := orderID.UUID
		t.OrderID = &id
	}
	return t, nil
}
