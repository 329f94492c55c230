package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrow_wallet/internal/events"
	"escrow_wallet/internal/fees"
	"escrow_wallet/internal/handlers"
	"escrow_wallet/internal/middleware"
	"escrow_wallet/internal/mocks"
	"escrow_wallet/internal/models"
	"escrow_wallet/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

func newWalletRouter(svc handlers.WalletService, guards handlers.Guards) *gin.Engine {
	r := gin.New()
	handlers.NewWalletHTTPHandler(svc).RegisterRoutes(r, guards)
	return r
}

func doJSON(r http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewBuffer(raw)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleWithdraw_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	r := newWalletRouter(svc, handlers.Guards{})

	walletID := uuid.New()
	svc.EXPECT().
		Withdraw(gomock.Any(), walletID, decimal.RequireFromString("100")).
		Return(models.Wallet{ID: walletID, Balance: decimal.NewFromInt(200)}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/withdrawals", map[string]any{"amount": "100"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.Wallet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, walletID, resp.ID)
	assert.True(t, resp.Balance.Equal(decimal.NewFromInt(200)))
}

func TestHandleWithdraw_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		text   string
	}{
		{models.ErrInsufficientFunds, http.StatusConflict, "insufficient funds"},
		{fmt.Errorf("%w: at most two decimal places", models.ErrInvalidAmount), http.StatusBadRequest, "invalid amount"},
		{models.ErrWalletNotFound, http.StatusNotFound, "wallet not found"},
		{models.ErrEscrowWallet, http.StatusConflict, "escrow account cannot be withdrawn from"},
		{fmt.Errorf("%w: 40001", models.ErrConcurrencyConflict), http.StatusConflict, "concurrency conflict, retry later"},
		{assert.AnError, http.StatusServiceUnavailable, "service unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			svc := mocks.NewMockWalletService(ctrl)
			r := newWalletRouter(svc, handlers.Guards{})

			walletID := uuid.New()
			svc.EXPECT().Withdraw(gomock.Any(), walletID, gomock.Any()).Return(models.Wallet{}, tc.err)

			w := doJSON(r, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/withdrawals", map[string]any{"amount": "1"}, nil)
			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tc.text), w.Body.String())
		})
	}
}

func TestHandleWithdraw_BadRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	r := newWalletRouter(svc, handlers.Guards{})

	w := doJSON(r, http.MethodPost, "/api/v1/wallets/not-a-uuid/withdrawals", map[string]any{"amount": "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/wallets/"+uuid.NewString()+"/withdrawals", map[string]any{"amount": "abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetWallet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	r := newWalletRouter(svc, handlers.Guards{})

	walletID := uuid.New()
	fee := decimal.NewFromInt(10)
	svc.EXPECT().GetWallet(gomock.Any(), walletID).Return(models.Wallet{
		ID:      walletID,
		Balance: decimal.NewFromInt(0),
		Transactions: []models.Transaction{{
			ID:     "01J00000000000000000000000",
			Kind:   models.KindWithdrawal,
			Amount: decimal.NewFromInt(-200),
			Fee:    &fee,
			Status: models.TxStatusSuccess,
		}},
	}, nil)

	w := doJSON(r, http.MethodGet, "/api/v1/wallets/"+walletID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		WalletID     string `json:"walletId"`
		Transactions []struct {
			Kind   string `json:"kind"`
			Amount string `json:"amount"`
			Fee    string `json:"fee"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, walletID.String(), resp.WalletID)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "withdrawal", resp.Transactions[0].Kind)
	assert.Equal(t, "-200", resp.Transactions[0].Amount)
	assert.Equal(t, "10", resp.Transactions[0].Fee)
}

func TestHandleGetWallet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	r := newWalletRouter(svc, handlers.Guards{})

	walletID := uuid.New()
	svc.EXPECT().GetWallet(gomock.Any(), walletID).Return(models.Wallet{}, models.ErrWalletNotFound)

	w := doJSON(r, http.MethodGet, "/api/v1/wallets/"+walletID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeposit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	r := newWalletRouter(svc, handlers.Guards{})

	walletID := uuid.New()
	svc.EXPECT().
		Deposit(gomock.Any(), walletID, decimal.RequireFromString("100.5")).
		Return(decimal.RequireFromString("100.5"), nil)

	w := doJSON(r, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/deposits", map[string]any{"amount": "100.5"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":"100.5"`)
}

func TestHandlePreviewFee(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	r := newWalletRouter(svc, handlers.Guards{})

	svc.EXPECT().
		PreviewWithdrawalFee(decimal.RequireFromString("1000")).
		Return(fees.Preview{
			Amount:      decimal.NewFromInt(1000),
			Fee:         decimal.NewFromInt(50),
			NetAmount:   decimal.NewFromInt(950),
			RateApplied: "capped at 50.00",
			Capped:      true,
		}, nil)

	w := doJSON(r, http.MethodGet, "/api/v1/fees/withdrawal?amount=1000", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rateApplied":"capped at 50.00"`)

	w = doJSON(r, http.MethodGet, "/api/v1/fees/withdrawal?amount=ten", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletRoutes_Auth(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mocks.NewMockWalletService(ctrl)
	auth := middleware.NewAuth("secret", testLogger)
	r := newWalletRouter(svc, handlers.Guards{Auth: auth})

	owner := uuid.New()
	token, err := auth.IssueToken(owner.String(), "", time.Minute)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	svc.EXPECT().GetWallet(gomock.Any(), owner).Return(models.Wallet{ID: owner}, nil)
	w := doJSON(r, http.MethodGet, "/api/v1/wallets/"+owner.String(), nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/wallets/"+uuid.NewString(), nil, bearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// deposits are admin only
	w = doJSON(r, http.MethodPost, "/api/v1/wallets/"+owner.String()+"/deposits", map[string]any{"amount": "5"}, bearer)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlePreviewFee_OutOfRange(t *testing.T) {
	calc, err := fees.NewCalculator(fees.DefaultRules())
	require.NoError(t, err)
	svc := service.NewWalletService(nil, calc, events.NoopPublisher{}, testLogger, service.Settings{})
	r := newWalletRouter(svc, handlers.Guards{})

	for _, amount := range []string{"1e20", "10000000000000", "1e30000000"} {
		start := time.Now()
		w := doJSON(r, http.MethodGet, "/api/v1/fees/withdrawal?amount="+amount, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, amount)
		assert.JSONEq(t, `{"error":"invalid amount"}`, w.Body.String())
		assert.Less(t, time.Since(start), time.Second, amount)
	}
}
