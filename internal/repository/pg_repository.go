package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"escrow_wallet/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrWalletAlreadyExist = errors.New("wallet already exists")

type WalletPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewWalletPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *WalletPGRepository {
	return &WalletPGRepository{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyTransaction appends draft to the wallet log and moves the balance by
// draft.Amount in a single database transaction.
func (r *WalletPGRepository) ApplyTransaction(
	ctx context.Context,
	walletID uuid.UUID,
	draft models.TransactionDraft,
) (models.Transaction, decimal.Decimal, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Transaction{}, decimal.Zero, err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Error("Failed to rollback transaction",
				slog.String("wallet_id", walletID.String()),
				slog.Any("err", err),
			)
		}
	}()

	record, balance, err := applyTransaction(ctx, tx, walletID, draft, r.now())
	if err != nil {
		if !isDomainError(err) {
			r.logger.Error("Failed to apply transaction",
				slog.String("wallet_id", walletID.String()),
				slog.String("kind", string(draft.Kind)),
				slog.Any("amount", draft.Amount),
				slog.Any("err", err),
			)
		}
		return models.Transaction{}, balance, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Transaction{}, decimal.Zero, err
	}

	return record, balance, nil
}

// GetWallet returns the balance and the latest limit transactions, newest
// first, read from one snapshot so both always agree.
func (r *WalletPGRepository) GetWallet(ctx context.Context, walletID uuid.UUID, limit int) (models.Wallet, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.Wallet{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wallet := models.Wallet{ID: walletID}
	err = tx.QueryRow(ctx, "SELECT balance, created_at, updated_at FROM wallets WHERE id = $1", walletID).
		Scan(&wallet.Balance, &wallet.CreatedAt, &wallet.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, models.ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get wallet",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, err
	}

	rows, err := tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE wallet_id = $1 ORDER BY id DESC LIMIT $2`, walletID, limit)
	if err != nil {
		r.logger.Error("Failed to list transactions",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, err
	}
	wallet.Transactions, err = pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return models.Wallet{}, err
	}
	return wallet, nil
}

func (r *WalletPGRepository) GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, "SELECT balance FROM wallets WHERE id = $1", walletID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, models.ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get balance",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return decimal.Zero, err
	}
	return balance, nil
}

func (r *WalletPGRepository) CreateWallet(ctx context.Context, walletID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "INSERT INTO wallets (id, balance) VALUES ($1, 0)", walletID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrWalletAlreadyExist
		}
		r.logger.Error("Failed to create wallet",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return err
	}
	return nil
}

func isDomainError(err error) bool {
	return errors.Is(err, models.ErrInsufficientFunds) ||
		errors.Is(err, models.ErrInvalidAmount) ||
		errors.Is(err, models.ErrWalletNotFound) ||
		errors.Is(err, models.ErrInvalidStateTransition) ||
		errors.Is(err, models.ErrOrderNotFound)
}
