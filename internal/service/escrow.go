package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"escrow_wallet/internal/events"
	"escrow_wallet/internal/fees"
	"escrow_wallet/internal/gateway"
	"escrow_wallet/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -source=escrow.go -destination=../mocks/mock_order_repository.go -package=mocks OrderRepository

type OrderRepository interface {
	Create(ctx context.Context, order models.EscrowOrder) error
	Get(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error)
	Transition(ctx context.Context, orderID uuid.UUID, decide models.TransitionFunc) (models.TransitionResult, error)
}

type EscrowSettings struct {
	EscrowAccountID uuid.UUID
	ServiceFeeRate  decimal.Decimal
	GatewayTimeout  time.Duration
	MaxRetries      int
}

// EscrowService moves orders through pending -> paid -> completed/refunded
// (or pending -> cancelled) and books the matching ledger entries.
type EscrowService struct {
	orders    OrderRepository
	gateway   gateway.PaymentGateway
	publisher events.Publisher
	logger    *slog.Logger
	settings  EscrowSettings
	payments  singleflight.Group
	now       func() time.Time
}

func NewEscrowService(
	orders OrderRepository,
	gw gateway.PaymentGateway,
	publisher events.Publisher,
	logger *slog.Logger,
	settings EscrowSettings,
) *EscrowService {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 3
	}
	if settings.GatewayTimeout <= 0 {
		settings.GatewayTimeout = 15 * time.Second
	}
	return &EscrowService{
		orders:    orders,
		gateway:   gw,
		publisher: publisher,
		logger:    logger,
		settings:  settings,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *EscrowService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.EscrowOrder, error) {
	tuition, err := tuitionOf(req)
	if err != nil {
		return models.EscrowOrder{}, err
	}

	serviceFee := fees.ServiceFee(tuition, s.settings.ServiceFeeRate)
	if !fees.InRange(tuition.Add(serviceFee)) {
		return models.EscrowOrder{}, fmt.Errorf("%w: total charge exceeds %s", models.ErrInvalidAmount, fees.MaxAmount)
	}
	now := s.now()
	order := models.EscrowOrder{
		ID:               uuid.New(),
		ListingID:        req.ListingID,
		ListingTitle:     req.ListingTitle,
		PayerID:          req.PayerID,
		PayeeID:          req.PayeeID,
		TuitionAmount:    tuition,
		ServiceFeeRate:   s.settings.ServiceFeeRate,
		ServiceFeeAmount: serviceFee,
		TotalCharged:     tuition.Add(serviceFee),
		HeldAmount:       decimal.Zero,
		Status:           models.OrderPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return models.EscrowOrder{}, err
	}
	s.logger.Info("Order created",
		slog.String("order_id", order.ID.String()),
		slog.Any("total_charged", order.TotalCharged),
	)
	return order, nil
}

func tuitionOf(req models.CreateOrderRequest) (decimal.Decimal, error) {
	var tuition decimal.Decimal
	switch {
	case req.TuitionAmount != nil:
		tuition = *req.TuitionAmount
	case req.HourlyRate != nil && req.Hours != nil:
		if !req.HourlyRate.IsPositive() || !req.Hours.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: hourly rate and hours must be positive", models.ErrInvalidAmount)
		}
		if !fees.InRange(*req.HourlyRate) || !fees.InRange(*req.Hours) {
			return decimal.Zero, fmt.Errorf("%w: hourly rate or hours out of range", models.ErrInvalidAmount)
		}
		tuition = req.HourlyRate.Mul(*req.Hours).Round(2)
	default:
		return decimal.Zero, fmt.Errorf("%w: tuition amount or hourly rate with hours is required", models.ErrInvalidAmount)
	}
	if err := fees.ValidateAmount(tuition); err != nil {
		return decimal.Zero, err
	}
	return tuition, nil
}

func (s *EscrowService) GetOrder(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	return s.orders.Get(ctx, orderID)
}

// PayOrder charges the payer through the gateway and marks the order paid.
// Paying an already paid order returns it without contacting the gateway.
// Concurrent calls for one order share a single authorization.
func (s *EscrowService) PayOrder(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	v, err, _ := s.payments.Do(orderID.String(), func() (any, error) {
		return s.pay(ctx, orderID)
	})
	if err != nil {
		return models.EscrowOrder{}, err
	}
	order, _ := v.(models.EscrowOrder)
	return order, nil
}

func (s *EscrowService) pay(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return models.EscrowOrder{}, err
	}
	if order.Status == models.OrderPaid {
		return order, nil
	}
	if !order.Status.CanTransitionTo(models.OrderPaid) {
		return models.EscrowOrder{}, invalidTransition(order.Status, models.OrderPaid)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.settings.GatewayTimeout)
	defer cancel()
	auth, err := s.gateway.Authorize(gwCtx, orderID, order.TotalCharged)
	if err != nil {
		reason := "gateway unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "gateway timeout"
		}
		s.logger.Warn("Payment authorization failed",
			slog.String("order_id", orderID.String()),
			slog.Any("err", err),
		)
		return models.EscrowOrder{}, &models.GatewayError{Reason: reason}
	}
	if !auth.Approved {
		s.logger.Info("Payment declined",
			slog.String("order_id", orderID.String()),
			slog.String("reason", auth.Reason),
		)
		return models.EscrowOrder{}, &models.GatewayError{Reason: auth.Reason}
	}
	if auth.Reference == "" {
		return models.EscrowOrder{}, &models.GatewayError{Reason: "missing gateway reference"}
	}

	return s.ConfirmPayment(ctx, orderID, auth.Reference)
}

// ConfirmPayment records a successful authorization. It is the path taken by
// gateway callbacks, which may be delivered more than once.
func (s *EscrowService) ConfirmPayment(ctx context.Context, orderID uuid.UUID, gatewayRef string) (models.EscrowOrder, error) {
	if gatewayRef == "" {
		return models.EscrowOrder{}, &models.GatewayError{Reason: "missing gateway reference"}
	}
	return s.transition(ctx, orderID, "confirm payment", func(current models.EscrowOrder) (*models.OrderTransition, error) {
		if current.Status == models.OrderPaid {
			if current.GatewayRef == gatewayRef {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: order already paid with another reference", models.ErrInvalidStateTransition)
		}
		if !current.Status.CanTransitionTo(models.OrderPaid) {
			return nil, invalidTransition(current.Status, models.OrderPaid)
		}

		next := current
		next.Status = models.OrderPaid
		next.GatewayRef = gatewayRef
		next.HeldAmount = current.TotalCharged
		return &models.OrderTransition{
			Order: next,
			Entries: []models.LedgerEntry{{
				WalletID: s.settings.EscrowAccountID,
				Draft: models.TransactionDraft{
					Kind:         models.KindIncome,
					Amount:       current.TotalCharged,
					Title:        "Escrow hold: " + current.ListingTitle,
					Counterparty: current.PayerID.String(),
				},
			}},
		}, nil
	})
}

// ConfirmCompletion releases the tuition to the payee. The service fee stays
// on the escrow account.
func (s *EscrowService) ConfirmCompletion(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	return s.transition(ctx, orderID, "complete order", func(current models.EscrowOrder) (*models.OrderTransition, error) {
		if current.Status == models.OrderCompleted {
			return nil, nil
		}
		if !current.Status.CanTransitionTo(models.OrderCompleted) {
			return nil, invalidTransition(current.Status, models.OrderCompleted)
		}

		next := current
		next.Status = models.OrderCompleted
		next.HeldAmount = decimal.Zero
		return &models.OrderTransition{
			Order: next,
			Entries: []models.LedgerEntry{
				{
					WalletID: s.settings.EscrowAccountID,
					Draft: models.TransactionDraft{
						Kind:         models.KindPayment,
						Amount:       current.TuitionAmount.Neg(),
						Title:        "Escrow release: " + current.ListingTitle,
						Counterparty: current.PayeeID.String(),
					},
				},
				{
					WalletID: current.PayeeID,
					Draft: models.TransactionDraft{
						Kind:         models.KindIncome,
						Amount:       current.TuitionAmount,
						Title:        current.ListingTitle,
						Counterparty: current.PayerID.String(),
					},
				},
			},
		}, nil
	})
}

// RequestRefund returns the full charge, service fee included, to the
// payer's internal wallet.
func (s *EscrowService) RequestRefund(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	return s.transition(ctx, orderID, "refund order", func(current models.EscrowOrder) (*models.OrderTransition, error) {
		if current.Status == models.OrderRefunded {
			return nil, nil
		}
		if !current.Status.CanTransitionTo(models.OrderRefunded) {
			return nil, invalidTransition(current.Status, models.OrderRefunded)
		}

		next := current
		next.Status = models.OrderRefunded
		next.HeldAmount = decimal.Zero
		return &models.OrderTransition{
			Order: next,
			Entries: []models.LedgerEntry{
				{
					WalletID: s.settings.EscrowAccountID,
					Draft: models.TransactionDraft{
						Kind:         models.KindPayment,
						Amount:       current.TotalCharged.Neg(),
						Title:        "Escrow refund: " + current.ListingTitle,
						Counterparty: current.PayerID.String(),
					},
				},
				{
					WalletID: current.PayerID,
					Draft: models.TransactionDraft{
						Kind:         models.KindRefund,
						Amount:       current.TotalCharged,
						Title:        "Refund: " + current.ListingTitle,
						Counterparty: current.PayeeID.String(),
					},
				},
			},
		}, nil
	})
}

func (s *EscrowService) CancelOrder(ctx context.Context, orderID uuid.UUID) (models.EscrowOrder, error) {
	return s.transition(ctx, orderID, "cancel order", func(current models.EscrowOrder) (*models.OrderTransition, error) {
		if current.Status == models.OrderCancelled {
			return nil, nil
		}
		if !current.Status.CanTransitionTo(models.OrderCancelled) {
			return nil, invalidTransition(current.Status, models.OrderCancelled)
		}
		next := current
		next.Status = models.OrderCancelled
		return &models.OrderTransition{Order: next}, nil
	})
}

func (s *EscrowService) transition(
	ctx context.Context,
	orderID uuid.UUID,
	op string,
	decide models.TransitionFunc,
) (models.EscrowOrder, error) {
	attrs := []any{slog.String("order_id", orderID.String())}
	result, err := retry(s.logger, s.settings.MaxRetries, op, attrs, func() (models.TransitionResult, error) {
		return s.orders.Transition(ctx, orderID, decide)
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound),
			errors.Is(err, models.ErrInvalidStateTransition),
			errors.Is(err, models.ErrInsufficientFunds),
			errors.Is(err, models.ErrGatewayFailure):
			s.logger.Warn("Order transition rejected",
				slog.String("order_id", orderID.String()),
				slog.String("op", op),
				slog.Any("err", err),
			)
		case errors.Is(err, models.ErrConcurrencyConflict):
		default:
			s.logger.Error("Order transition failed",
				slog.String("order_id", orderID.String()),
				slog.String("op", op),
				slog.Any("err", err),
			)
		}
		return models.EscrowOrder{}, err
	}
	if !result.Applied {
		return result.Order, nil
	}

	s.logger.Info("Order status changed",
		slog.String("order_id", orderID.String()),
		slog.String("from", string(result.Previous)),
		slog.String("to", string(result.Order.Status)),
	)
	publishPostings(ctx, s.publisher, s.logger, result.Postings)
	s.publishStatus(ctx, result)
	return result.Order, nil
}

func (s *EscrowService) publishStatus(ctx context.Context, result models.TransitionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishOrderStatus(ctx, result.Order, result.Previous); err != nil {
		s.logger.Warn("Failed to publish order event",
			slog.String("order_id", result.Order.ID.String()),
			slog.Any("err", err),
		)
	}
}

func invalidTransition(from, to models.OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStateTransition, from, to)
}
