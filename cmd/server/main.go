package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow_wallet/internal/config"
	"escrow_wallet/internal/events"
	"escrow_wallet/internal/fees"
	"escrow_wallet/internal/gateway"
	"escrow_wallet/internal/handlers"
	"escrow_wallet/internal/logging"
	"escrow_wallet/internal/middleware"
	"escrow_wallet/internal/repository"
	"escrow_wallet/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	poolConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		logger.Error("failed to parse db config", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	rules := fees.DefaultRules()
	if cfg.FeeRulesFile != "" {
		rules, err = fees.LoadRules(cfg.FeeRulesFile)
		if err != nil {
			logger.Error("failed to load fee rules", "file", cfg.FeeRulesFile, "err", err)
			os.Exit(1)
		}
	}
	calc, err := fees.NewCalculator(rules)
	if err != nil {
		logger.Error("invalid fee rules", "err", err)
		os.Exit(1)
	}

	var (
		rdb       *redis.Client
		publisher events.Publisher = events.NoopPublisher{}
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb)
	} else {
		logger.Warn("REDIS_ADDR is empty: idempotency keys and ledger events are disabled")
	}

	auth := middleware.NewAuth(cfg.JWTSecret, logger)
	if !auth.Enabled() {
		logger.Warn("JWT_SECRET is empty: authentication is disabled")
	}

	walletSvc := service.NewWalletService(
		repository.NewWalletPGRepository(pool, logger),
		calc,
		publisher,
		logger,
		service.Settings{
			MaxRetries:      cfg.LedgerMaxRetries,
			HistoryLimit:    cfg.HistoryLimit,
			EscrowAccountID: cfg.EscrowAccountID,
		},
	)
	escrowSvc := service.NewEscrowService(
		repository.NewOrderPGRepository(pool, logger),
		gateway.NewSimulatedGateway(gateway.SimulatedConfig{
			Latency:      cfg.GatewayLatency,
			DeclineAbove: cfg.GatewayDeclineAbove,
		}, logger),
		publisher,
		logger,
		service.EscrowSettings{
			EscrowAccountID: cfg.EscrowAccountID,
			ServiceFeeRate:  cfg.ServiceFeeRate,
			GatewayTimeout:  cfg.GatewayTimeout,
			MaxRetries:      cfg.LedgerMaxRetries,
		},
	)

	guards := handlers.Guards{Auth: auth, Idempotency: middleware.Idempotency(rdb, logger)}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	handlers.NewWalletHTTPHandler(walletSvc).RegisterRoutes(r, guards)
	handlers.NewOrderHTTPHandler(escrowSvc).RegisterRoutes(r, guards)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
