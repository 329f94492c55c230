package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type SimulatedConfig struct {
	// Latency delays every authorization. Zero answers immediately.
	Latency time.Duration
	// DeclineAbove rejects amounts strictly greater than it. Zero disables.
	DeclineAbove decimal.Decimal
}

// SimulatedGateway approves charges in-process. Authorizing the same order
// twice returns the reference issued the first time.
type SimulatedGateway struct {
	cfg    SimulatedConfig
	logger *slog.Logger

	mu   sync.Mutex
	refs map[uuid.UUID]string
}

func NewSimulatedGateway(cfg SimulatedConfig, logger *slog.Logger) *SimulatedGateway {
	return &SimulatedGateway{
		cfg:    cfg,
		logger: logger,
		refs:   make(map[uuid.UUID]string),
	}
}

func (g *SimulatedGateway) Authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (Authorization, error) {
	if g.cfg.Latency > 0 {
		timer := time.NewTimer(g.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Authorization{}, fmt.Errorf("authorize order %s: %w", orderID, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Authorization{}, fmt.Errorf("authorize order %s: %w", orderID, err)
	}

	if g.cfg.DeclineAbove.IsPositive() && amount.GreaterThan(g.cfg.DeclineAbove) {
		g.logger.Info("Simulated gateway declined charge",
			slog.String("order_id", orderID.String()),
			slog.Any("amount", amount),
		)
		return Authorization{Reason: "amount exceeds card limit"}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.refs[orderID]
	if !ok {
		ref = "sim_" + ulid.Make().String()
		g.refs[orderID] = ref
	}
	return Authorization{Approved: true, Reference: ref}, nil
}
