package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// DefaultEscrowAccountID is the platform wallet that holds paid orders.
var DefaultEscrowAccountID = uuid.MustParse("00000000-0000-0000-0000-00000000e5c0")

type Config struct {
	Port       string
	DBURL      string
	LogLevel   string
	DBMaxConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	EscrowAccountID  uuid.UUID
	ServiceFeeRate   decimal.Decimal
	FeeRulesFile     string
	LedgerMaxRetries int
	HistoryLimit     int

	GatewayTimeout      time.Duration
	GatewayLatency      time.Duration
	GatewayDeclineAbove decimal.Decimal
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load("config.env")

	cfg := &Config{
		Port:     getEnv("APP_PORT", "8080"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		DBURL: fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			os.Getenv("DB_PORT"),
			os.Getenv("DB_NAME"),
		),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		FeeRulesFile:  os.Getenv("FEE_RULES_FILE"),
	}

	var err error
	if cfg.DBMaxConns, err = getInt("DB_MAX_CONNS", 8); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LedgerMaxRetries, err = getInt("LEDGER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayLatency, err = getDuration("GATEWAY_LATENCY", 0); err != nil {
		return nil, err
	}
	if cfg.ServiceFeeRate, err = getDecimal("SERVICE_FEE_RATE", decimal.RequireFromString("0.05")); err != nil {
		return nil, err
	}
	if cfg.ServiceFeeRate.IsNegative() || cfg.ServiceFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("SERVICE_FEE_RATE must be within [0,1], got %s", cfg.ServiceFeeRate)
	}
	if cfg.GatewayDeclineAbove, err = getDecimal("GATEWAY_DECLINE_ABOVE", decimal.Zero); err != nil {
		return nil, err
	}

	cfg.EscrowAccountID = DefaultEscrowAccountID
	if v := os.Getenv("ESCROW_ACCOUNT_ID"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("ESCROW_ACCOUNT_ID: %w", err)
		}
		cfg.EscrowAccountID = id
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%s: invalid non-negative integer %q", key, v)
	}
	return i, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
