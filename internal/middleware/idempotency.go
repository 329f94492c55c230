package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	IdempotencyHitHeader = "X-Idempotency-Hit"

	IdempotencyCacheTTL = 24 * time.Hour
	// LockTimeout bounds how long a crashed request can hold its key.
	LockTimeout = 10 * time.Second

	idempotencyKeyPrefix = "idempotency:"
	lockKeyPrefix        = "idempotency-lock:"
)

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored 2xx response for a repeated Idempotency-Key
// from the same caller on the same path. A duplicate that arrives while the first request is
// still running gets 409. Requests without the header, or a nil client,
// pass straight through.
func Idempotency(rdb *redis.Client, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if rdb == nil || key == "" {
			c.Next()
			return
		}

		ctx := context.WithoutCancel(c.Request.Context())
		scoped := c.Request.Method + ":" + c.Request.URL.Path + ":" + caller(c) + ":" + key
		cacheKey := idempotencyKeyPrefix + scoped
		lockKey := lockKeyPrefix + scoped

		raw, err := rdb.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				c.Header(IdempotencyHitHeader, "true")
				c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
				c.Abort()
				return
			}
			logger.Warn("Dropping unreadable idempotency record", slog.String("key", key))
		case !errors.Is(err, redis.Nil):
			logger.Error("Idempotency lookup failed", slog.String("key", key), slog.Any("err", err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}

		acquired, err := rdb.SetNX(ctx, lockKey, "processing", LockTimeout).Result()
		if err != nil {
			logger.Error("Idempotency lock failed", slog.String("key", key), slog.Any("err", err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "a request with this idempotency key is currently being processed",
			})
			return
		}
		defer func() {
			if err := rdb.Del(ctx, lockKey).Err(); err != nil {
				logger.Warn("Failed to release idempotency lock", slog.String("key", key), slog.Any("err", err))
			}
		}()

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status < 200 || status >= 300 || !json.Valid(recorder.body.Bytes()) {
			return
		}
		payload, err := json.Marshal(cachedResponse{Status: status, Body: recorder.body.Bytes()})
		if err != nil {
			return
		}
		if err := rdb.Set(ctx, cacheKey, payload, IdempotencyCacheTTL).Err(); err != nil {
			logger.Warn("Failed to cache idempotent response", slog.String("key", key), slog.Any("err", err))
		}
	}
}

// caller identifies who owns an idempotency key: the token subject when an
// auth guard ran before, the client address otherwise.
func caller(c *gin.Context) string {
	if claims, ok := ClaimsFrom(c); ok {
		return "sub=" + claims.Subject
	}
	return "ip=" + c.ClientIP()
}
