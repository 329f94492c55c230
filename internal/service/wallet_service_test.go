package service_test

import (
	"context"
	"testing"

	"escrow_wallet/internal/events"
	"escrow_wallet/internal/fees"
	"escrow_wallet/internal/mocks"
	"escrow_wallet/internal/models"
	"escrow_wallet/internal/service"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalculator(t *testing.T) *fees.Calculator {
	t.Helper()
	calc, err := fees.NewCalculator(fees.DefaultRules())
	require.NoError(t, err)
	return calc
}

func newMockedWalletService(t *testing.T, ctrl *gomock.Controller) (*service.WalletService, *mocks.MockWalletRepository) {
	repo := mocks.NewMockWalletRepository(ctrl)
	svc := service.NewWalletService(repo, newCalculator(t), events.NoopPublisher{}, testLogger, service.Settings{
		MaxRetries:      3,
		HistoryLimit:    20,
		EscrowAccountID: escrowAccount,
	})
	return svc, repo
}

func TestDeposit_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()
	amount := decimal.RequireFromString("100.99")

	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, draft models.TransactionDraft) (models.Transaction, decimal.Decimal, error) {
			assert.Equal(t, models.KindIncome, draft.Kind)
			assert.True(t, draft.Amount.Equal(amount))
			assert.Equal(t, "System top-up", draft.Title)
			assert.Nil(t, draft.Fee)
			return models.Transaction{ID: "tx"}, amount, nil
		})

	balance, err := svc.Deposit(context.Background(), walletID, amount)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(amount))
}

func TestDeposit_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, _ := newMockedWalletService(t, ctrl)

	for _, amount := range []string{"0", "-5", "1.001"} {
		_, err := svc.Deposit(context.Background(), uuid.New(), decimal.RequireFromString(amount))
		assert.ErrorIs(t, err, models.ErrInvalidAmount, amount)
	}
}

func TestDeposit_Retry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()
	amount := decimal.NewFromInt(100)

	retryErr := &pgconn.PgError{Code: "40001", Message: "serialization failure"}
	gomock.InOrder(
		repo.EXPECT().
			ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
			Return(models.Transaction{}, decimal.Zero, retryErr),
		repo.EXPECT().
			ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
			Return(models.Transaction{ID: "tx"}, decimal.NewFromInt(100), nil),
	)

	balance, err := svc.Deposit(context.Background(), walletID, amount)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestDeposit_RetriesExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	retryErr := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		Return(models.Transaction{}, decimal.Zero, retryErr).
		Times(3)

	_, err := svc.Deposit(context.Background(), walletID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
}

func TestDeposit_NonRetryableError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		Return(models.Transaction{}, decimal.Zero, assert.AnError).
		Times(1)

	_, err := svc.Deposit(context.Background(), walletID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWithdraw_RecordsGrossAmountAndFee(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, draft models.TransactionDraft) (models.Transaction, decimal.Decimal, error) {
			assert.Equal(t, models.KindWithdrawal, draft.Kind)
			assert.True(t, draft.Amount.Equal(decimal.NewFromInt(-200)))
			require.NotNil(t, draft.Fee)
			assert.True(t, draft.Fee.Equal(decimal.NewFromInt(10)))
			assert.Equal(t, "Withdraw balance to WeChat Pay", draft.Title)
			assert.Equal(t, "WeChat Pay balance", draft.Counterparty)
			return models.Transaction{ID: "tx", Kind: draft.Kind, Amount: draft.Amount, Fee: draft.Fee}, decimal.NewFromInt(50), nil
		})
	repo.EXPECT().
		GetWallet(gomock.Any(), walletID, 20).
		Return(models.Wallet{ID: walletID, Balance: decimal.NewFromInt(50)}, nil)

	wallet, err := svc.Withdraw(context.Background(), walletID, decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
}

func TestWithdraw_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, _ := newMockedWalletService(t, ctrl)

	wallet, err := svc.Withdraw(context.Background(), uuid.New(), decimal.Zero)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	assert.True(t, wallet.Balance.IsZero())
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		Return(models.Transaction{}, decimal.NewFromInt(100), models.ErrInsufficientFunds)

	_, err := svc.Withdraw(context.Background(), walletID, decimal.NewFromInt(150))
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestWithdraw_Retry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	retryErr := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	gomock.InOrder(
		repo.EXPECT().
			ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
			Return(models.Transaction{}, decimal.Zero, retryErr),
		repo.EXPECT().
			ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
			Return(models.Transaction{ID: "tx"}, decimal.NewFromInt(50), nil),
		repo.EXPECT().
			GetWallet(gomock.Any(), walletID, gomock.Any()).
			Return(models.Wallet{ID: walletID, Balance: decimal.NewFromInt(50)}, nil),
	)

	wallet, err := svc.Withdraw(context.Background(), walletID, decimal.NewFromInt(50))
	assert.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
}

func TestWithdraw_ReloadFailureStillSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		Return(models.Transaction{ID: "tx"}, decimal.NewFromInt(7), nil)
	repo.EXPECT().
		GetWallet(gomock.Any(), walletID, gomock.Any()).
		Return(models.Wallet{}, assert.AnError)

	wallet, err := svc.Withdraw(context.Background(), walletID, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(7)))
	require.Len(t, wallet.Transactions, 1)
	assert.Equal(t, "tx", wallet.Transactions[0].ID)
}

func TestWithdraw_PublishesEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockWalletRepository(ctrl)
	pub := mocks.NewMockPublisher(ctrl)
	svc := service.NewWalletService(repo, newCalculator(t), pub, testLogger, service.Settings{})
	walletID := uuid.New()

	record := models.Transaction{ID: "tx", WalletID: walletID, Kind: models.KindWithdrawal}
	repo.EXPECT().
		ApplyTransaction(gomock.Any(), walletID, gomock.Any()).
		Return(record, decimal.NewFromInt(5), nil)
	pub.EXPECT().
		PublishTransaction(gomock.Any(), record, decimal.NewFromInt(5)).
		Return(assert.AnError)
	repo.EXPECT().
		GetWallet(gomock.Any(), walletID, 50).
		Return(models.Wallet{ID: walletID, Balance: decimal.NewFromInt(5)}, nil)

	// a failed publish does not fail the withdrawal
	_, err := svc.Withdraw(context.Background(), walletID, decimal.NewFromInt(5))
	assert.NoError(t, err)
}

func TestGetWallet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	repo.EXPECT().GetWallet(gomock.Any(), walletID, 20).Return(models.Wallet{}, models.ErrWalletNotFound)

	_, err := svc.GetWallet(context.Background(), walletID)
	assert.ErrorIs(t, err, models.ErrWalletNotFound)
}

func TestGetWallet_OtherError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, repo := newMockedWalletService(t, ctrl)
	walletID := uuid.New()

	repo.EXPECT().GetWallet(gomock.Any(), walletID, 20).Return(models.Wallet{}, assert.AnError)

	_, err := svc.GetWallet(context.Background(), walletID)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPreviewWithdrawalFee(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, _ := newMockedWalletService(t, ctrl)

	preview, err := svc.PreviewWithdrawalFee(decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, preview.Fee.Equal(decimal.NewFromInt(10)))
	assert.True(t, preview.NetAmount.Equal(decimal.NewFromInt(190)))
	assert.Equal(t, "5%", preview.RateApplied)

	_, err = svc.PreviewWithdrawalFee(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestWithdraw_EscrowAccountIsRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc, _ := newMockedWalletService(t, ctrl)

	_, err := svc.Withdraw(context.Background(), escrowAccount, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, models.ErrEscrowWallet)
}
