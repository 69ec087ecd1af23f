// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"agentledger/platform/shared/logger"
)

// RateLimiter tracks per-tenant request rates in Redis: a sliding one-minute
// window as a sorted set and a per-day counter. It is advisory only — every
// operation fails open with a warning when Redis errors, and a nil limiter
// disables window checks entirely. Hard accounting lives in PostgreSQL.
type RateLimiter struct {
	client *redis.Client
	logger *logger.Logger
}

// NewRateLimiter connects to Redis and verifies the connection
func NewRateLimiter(redisURL string) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RateLimiter{client: client, logger: logger.New("ratewindow")}, nil
}

// NewRateLimiterWithClient wraps an existing client; used by tests
func NewRateLimiterWithClient(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, logger: logger.New("ratewindow")}
}

func minuteKey(tenantID string) string {
	return "ratewindow:minute:" + tenantID
}

func dayKey(tenantID string, now time.Time) string {
	return "ratewindow:day:" + tenantID + ":" + now.UTC().Format("2006-01-02")
}

// Hit records one admitted request in the minute window and the day counter.
// Returns the minute-window count including this hit. Fails open on error.
func (rl *RateLimiter) Hit(ctx context.Context, tenantID string) (int64, error) {
	if rl == nil || rl.client == nil {
		return 0, nil
	}

	now := time.Now()
	key := minuteKey(tenantID)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.Add(-time.Minute).UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)
	pipe.Incr(ctx, dayKey(tenantID, now))
	pipe.Expire(ctx, dayKey(tenantID, now), 48*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn(tenantID, "", "Rate window update failed, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return 0, err
	}

	return card.Val() + 1, nil
}

// ObserveMinute returns the current minute-window count without consuming
func (rl *RateLimiter) ObserveMinute(ctx context.Context, tenantID string) (int64, error) {
	if rl == nil || rl.client == nil {
		return 0, nil
	}

	now := time.Now()
	min := fmt.Sprintf("%d", now.Add(-time.Minute).UnixNano())
	count, err := rl.client.ZCount(ctx, minuteKey(tenantID), min, "+inf").Result()
	if err != nil {
		rl.logger.Warn(tenantID, "", "Minute window read failed, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return 0, err
	}
	return count, nil
}

// ObserveDay returns the current UTC day's counter without consuming
func (rl *RateLimiter) ObserveDay(ctx context.Context, tenantID string) (int64, error) {
	if rl == nil || rl.client == nil {
		return 0, nil
	}

	count, err := rl.client.Get(ctx, dayKey(tenantID, time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		rl.logger.Warn(tenantID, "", "Day counter read failed, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return 0, err
	}
	return count, nil
}

// IsHealthy checks Redis connectivity
func (rl *RateLimiter) IsHealthy(ctx context.Context) bool {
	if rl == nil || rl.client == nil {
		return false
	}
	return rl.client.Ping(ctx).Err() == nil
}

// Close releases the Redis connection pool
func (rl *RateLimiter) Close() error {
	if rl == nil || rl.client == nil {
		return nil
	}
	return rl.client.Close()
}
