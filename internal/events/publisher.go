package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"escrow_wallet/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=publisher.go -destination=../mocks/mock_publisher.go -package=mocks Publisher

const (
	LedgerEventsChannel = "ledger_events"

	TypeTransactionCompleted = "transaction.completed"
	TypeOrderStatusChanged   = "order.status_changed"
)

type Publisher interface {
	PublishTransaction(ctx context.Context, tx models.Transaction, balanceAfter decimal.Decimal) error
	PublishOrderStatus(ctx context.Context, order models.EscrowOrder, previous models.OrderStatus) error
}

type TransactionEvent struct {
	EventType     string           `json:"event_type"`
	TransactionID string           `json:"transaction_id"`
	WalletID      uuid.UUID        `json:"wallet_id"`
	Kind          string           `json:"kind"`
	Amount        decimal.Decimal  `json:"amount"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	OrderID       *uuid.UUID       `json:"order_id,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

type OrderStatusEvent struct {
	EventType      string          `json:"event_type"`
	OrderID        uuid.UUID       `json:"order_id"`
	PreviousStatus string          `json:"previous_status"`
	Status         string          `json:"status"`
	HeldAmount     decimal.Decimal `json:"held_amount"`
	GatewayRef     string          `json:"gateway_ref,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) PublishTransaction(ctx context.Context, tx models.Transaction, balanceAfter decimal.Decimal) error {
	return p.publish(ctx, TransactionEvent{
		EventType:     TypeTransactionCompleted,
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		Kind:          string(tx.Kind),
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		BalanceAfter:  balanceAfter,
		OrderID:       tx.OrderID,
		Timestamp:     tx.CreatedAt,
	})
}

func (p *RedisPublisher) PublishOrderStatus(ctx context.Context, order models.EscrowOrder, previous models.OrderStatus) error {
	return p.publish(ctx, OrderStatusEvent{
		EventType:      TypeOrderStatusChanged,
		OrderID:        order.ID,
		PreviousStatus: string(previous),
		Status:         string(order.Status),
		HeldAmount:     order.HeldAmount,
		GatewayRef:     order.GatewayRef,
		Timestamp:      order.UpdatedAt,
	})
}

func (p *RedisPublisher) publish(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, LedgerEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NoopPublisher is used when Redis is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTransaction(context.Context, models.Transaction, decimal.Decimal) error {
	return nil
}

func (NoopPublisher) PublishOrderStatus(context.Context, models.EscrowOrder, models.OrderStatus) error {
	return nil
}
