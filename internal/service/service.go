package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"escrow_wallet/internal/events"
	"escrow_wallet/internal/fees"
	"escrow_wallet/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_wallet_repository.go -package=mocks WalletRepository

const (
	withdrawalTitle        = "Withdraw balance to WeChat Pay"
	withdrawalCounterparty = "WeChat Pay balance"
	depositTitle           = "System top-up"
	depositCounterparty    = "System"

	publishTimeout = 2 * time.Second
)

type WalletRepository interface {
	ApplyTransaction(ctx context.Context, walletID uuid.UUID, draft models.TransactionDraft) (models.Transaction, decimal.Decimal, error)
	GetWallet(ctx context.Context, walletID uuid.UUID, limit int) (models.Wallet, error)
}

type Settings struct {
	MaxRetries   int
	HistoryLimit int
	// EscrowAccountID backs paid orders; its funds only leave through order
	// transitions.
	EscrowAccountID uuid.UUID
}

type WalletService struct {
	repo      WalletRepository
	fees      *fees.Calculator
	publisher events.Publisher
	logger    *slog.Logger
	settings  Settings
}

func NewWalletService(
	repo WalletRepository,
	calc *fees.Calculator,
	publisher events.Publisher,
	logger *slog.Logger,
	settings Settings,
) *WalletService {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 3
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = 50
	}
	return &WalletService{
		repo:      repo,
		fees:      calc,
		publisher: publisher,
		logger:    logger,
		settings:  settings,
	}
}

// Deposit credits the wallet with a system top-up and returns the new balance.
// The wallet is created on the first credit.
func (s *WalletService) Deposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := fees.ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	draft := models.TransactionDraft{
		Kind:         models.KindIncome,
		Amount:       amount,
		Title:        depositTitle,
		Counterparty: depositCounterparty,
	}
	posting, err := retry(s.logger, s.settings.MaxRetries, "deposit", walletAttrs(walletID, amount), func() (models.Posting, error) {
		record, balance, err := s.repo.ApplyTransaction(ctx, walletID, draft)
		return models.Posting{Transaction: record, BalanceAfter: balance}, err
	})
	if err != nil {
		if !errors.Is(err, models.ErrConcurrencyConflict) {
			s.logger.Error("Deposit failed",
				slog.String("wallet_id", walletID.String()),
				slog.Any("amount", amount),
				slog.Any("err", err),
			)
		}
		return decimal.Zero, err
	}

	s.publishPostings(ctx, posting)
	return posting.BalanceAfter, nil
}

// Withdraw debits the gross amount with the tiered fee recorded on the
// transaction and returns the wallet as it is after the debit.
func (s *WalletService) Withdraw(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (models.Wallet, error) {
	if walletID == s.settings.EscrowAccountID && walletID != uuid.Nil {
		s.logger.Warn("Withdraw rejected: escrow account",
			slog.String("wallet_id", walletID.String()),
			slog.Any("amount", amount),
		)
		return models.Wallet{}, models.ErrEscrowWallet
	}
	preview, err := s.fees.ComputeWithdrawalFee(amount)
	if err != nil {
		s.logger.Warn("Withdraw rejected",
			slog.String("wallet_id", walletID.String()),
			slog.Any("amount", amount),
			slog.Any("err", err),
		)
		return models.Wallet{}, err
	}

	fee := preview.Fee
	draft := models.TransactionDraft{
		Kind:         models.KindWithdrawal,
		Amount:       amount.Neg(),
		Title:        withdrawalTitle,
		Fee:          &fee,
		Counterparty: withdrawalCounterparty,
	}
	posting, err := retry(s.logger, s.settings.MaxRetries, "withdraw", walletAttrs(walletID, amount), func() (models.Posting, error) {
		record, balance, err := s.repo.ApplyTransaction(ctx, walletID, draft)
		return models.Posting{Transaction: record, BalanceAfter: balance}, err
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInsufficientFunds), errors.Is(err, models.ErrWalletNotFound):
			s.logger.Warn("Withdraw failed",
				slog.String("wallet_id", walletID.String()),
				slog.Any("amount", amount),
				slog.Any("err", err),
			)
		case errors.Is(err, models.ErrConcurrencyConflict):
		default:
			s.logger.Error("Withdraw failed: unknown error",
				slog.String("wallet_id", walletID.String()),
				slog.Any("amount", amount),
				slog.Any("err", err),
			)
		}
		return models.Wallet{}, err
	}

	s.publishPostings(ctx, posting)

	wallet, err := s.repo.GetWallet(ctx, walletID, s.settings.HistoryLimit)
	if err != nil {
		// The debit is committed; answer with what we know rather than an error.
		s.logger.Warn("Withdraw: failed to reload wallet",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{
			ID:           walletID,
			Balance:      posting.BalanceAfter,
			Transactions: []models.Transaction{posting.Transaction},
		}, nil
	}
	return wallet, nil
}

func (s *WalletService) GetWallet(ctx context.Context, walletID uuid.UUID) (models.Wallet, error) {
	wallet, err := s.repo.GetWallet(ctx, walletID, s.settings.HistoryLimit)
	if err != nil {
		if errors.Is(err, models.ErrWalletNotFound) {
			s.logger.Warn("GetWallet: wallet not found",
				slog.String("wallet_id", walletID.String()),
			)
			return models.Wallet{}, err
		}
		s.logger.Error("GetWallet failed",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return models.Wallet{}, err
	}
	return wallet, nil
}

func (s *WalletService) PreviewWithdrawalFee(amount decimal.Decimal) (fees.Preview, error) {
	return s.fees.ComputeWithdrawalFee(amount)
}

func (s *WalletService) publishPostings(ctx context.Context, postings ...models.Posting) {
	publishPostings(ctx, s.publisher, s.logger, postings)
}

// publishPostings is best effort: the ledger is already committed, so a
// failed publish is only logged.
func publishPostings(ctx context.Context, publisher events.Publisher, logger *slog.Logger, postings []models.Posting) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, p := range postings {
		if err := publisher.PublishTransaction(ctx, p.Transaction, p.BalanceAfter); err != nil {
			logger.Warn("Failed to publish transaction event",
				slog.String("transaction_id", p.Transaction.ID),
				slog.String("wallet_id", p.Transaction.WalletID.String()),
				slog.Any("err", err),
			)
		}
	}
}

func walletAttrs(walletID uuid.UUID, amount decimal.Decimal) []any {
	return []any{slog.String("wallet_id", walletID.String()), slog.Any("amount", amount)}
}

// retry runs fn up to attempts times while it fails with a serialization
// failure or a deadlock, backing off exponentially between attempts.
func retry[T any](logger *slog.Logger, attempts int, op string, attrs []any, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for i := 0; i < attempts; i++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if !isRetryableError(err) {
			return res, err
		}
		lastErr = err
		args := append([]any{slog.Int("attempt", i+1), slog.Any("err", err)}, attrs...)
		logger.Warn("Retrying "+op, args...)
		time.Sleep(time.Duration(1<<i) * 10 * time.Microsecond)
	}
	args := append([]any{slog.Any("err", lastErr)}, attrs...)
	logger.Error(op+" failed after retries", args...)
	return zero, fmt.Errorf("%w: %s", models.ErrConcurrencyConflict, lastErr)
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
