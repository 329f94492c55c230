package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"escrow_wallet/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, listing_id, listing_title, payer_id, payee_id, tuition_amount, service_fee_rate,
	service_fee_amount, total_charged, held_amount, status, gateway_ref, created_at, updated_at`

type OrderPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewOrderPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *OrderPGRepository {
	return &OrderPGRepository{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *OrderPGRepository) Create(ctx context.Context, order models.EscrowOrder) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO escrow_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		order.ID, order.ListingID, order.ListingTitle, order.PayerID, order.PayeeID,
		order.TuitionAmount, order.ServiceFeeRate, order.ServiceFeeAmount, order.TotalCharged,
		order.HeldAmount, string(order.Status), order.GatewayRef, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create order",
			slog.String("order_id", order.ID.String()),
			slog.Any("err", err),
		)
		return err
	}
	return nil
}

func (r *OrderPGRepository) Get(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM escrow_orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EscrowOrder{}, models.ErrOrderNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get order",
			slog.String("order_id", orderID.String()),
			slog.Any("err", err),
		)
		return models.EscrowOrder{}, err
	}
	return order, nil
}

// Transition locks the order row, lets decide pick the next state from the
// locked snapshot and commits the new state together with its ledger
// entries. Concurrent transitions of one order are serialized by the row
// lock, so a replayed callback observes the state left by the first one.
func (r *OrderPGRepository) Transition(
	ctx context.Context,
	orderID uuid.UUID,
	decide models.TransitionFunc,
) (models.TransitionResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("order_id", orderID.String()),
			slog.Any("err", err),
		)
		return models.TransitionResult{}, err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Error("Failed to rollback transaction",
				slog.String("order_id", orderID.String()),
				slog.Any("err", err),
			)
		}
	}()

	current, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM escrow_orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TransitionResult{}, models.ErrOrderNotFound
	}
	if err != nil {
		return models.TransitionResult{}, fmt.Errorf("lock order: %w", err)
	}

	result := models.TransitionResult{Order: current, Previous: current.Status}
	next, err := decide(current)
	if err != nil {
		return result, err
	}
	if next == nil {
		return result, nil
	}

	now := r.now()
	for _, entry := range next.Entries {
		draft := entry.Draft
		draft.OrderID = &orderID
		record, balance, err := applyTransaction(ctx, tx, entry.WalletID, draft, now)
		if err != nil {
			if !isDomainError(err) {
				r.logger.Error("Failed to apply order ledger entry",
					slog.String("order_id", orderID.String()),
					slog.String("wallet_id", entry.WalletID.String()),
					slog.Any("err", err),
				)
			}
			return models.TransitionResult{Order: current, Previous: current.Status}, err
		}
		result.Postings = append(result.Postings, models.Posting{Transaction: record, BalanceAfter: balance})
	}

	updated := next.Order
	updated.UpdatedAt = now
	_, err = tx.Exec(ctx, `UPDATE escrow_orders
		SET status = $1, held_amount = $2, gateway_ref = $3, updated_at = $4
		WHERE id = $5`,
		string(updated.Status), updated.HeldAmount, updated.GatewayRef, updated.UpdatedAt, orderID,
	)
	if err != nil {
		r.logger.Error("Failed to update order",
			slog.String("order_id", orderID.String()),
			slog.Any("err", err),
		)
		return models.TransitionResult{Order: current, Previous: current.Status}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction",
			slog.String("order_id", orderID.String()),
			slog.Any("err", err),
		)
		return models.TransitionResult{Order: current, Previous: current.Status}, err
	}

	result.Order = updated
	result.Applied = true
	return result, nil
}

func scanOrder(row pgx.Row) (models.EscrowOrder, error) {
	var (
		o      models.EscrowOrder
		status string
	)
	err := row.Scan(&o.ID, &o.ListingID, &o.ListingTitle, &o.PayerID, &o.PayeeID, &o.TuitionAmount,
		&o.ServiceFeeRate, &o.ServiceFeeAmount, &o.TotalCharged, &o.HeldAmount, &status, &o.GatewayRef,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.EscrowOrder{}, err
	}
	o.Status = models.OrderStatus(status)
	return o, nil
}
