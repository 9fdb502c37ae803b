package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitpass/internal/config"
	"fitpass/internal/models"

	"github.com/redis/go-redis/v9"
)

var errNilClient = errors.New("redis client is nil")

// RedisIntentStore keeps order intent copies and rate-limit counters in Redis.
type RedisIntentStore struct {
	client *redis.Client
}

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisIntentStore(client *redis.Client) *RedisIntentStore {
	return &RedisIntentStore{client: client}
}

func intentKey(gatewayOrderID string) string {
	return "order_intent:" + gatewayOrderID
}

func (r *RedisIntentStore) SaveIntent(ctx context.Context, intent *models.OrderIntent, ttl time.Duration) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	if err := r.client.Set(ctx, intentKey(intent.GatewayOrderID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save intent in redis: %w", err)
	}
	return nil
}

func (r *RedisIntentStore) GetIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	val, err := r.client.Get(ctx, intentKey(gatewayOrderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent from redis: %w", err)
	}

	var intent models.OrderIntent
	if err := json.Unmarshal([]byte(val), &intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	return &intent, nil
}

func (r *RedisIntentStore) DeleteIntent(ctx context.Context, gatewayOrderID string) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Del(ctx, intentKey(gatewayOrderID)).Err(); err != nil {
		return fmt.Errorf("failed to delete intent from redis: %w", err)
	}
	return nil
}

// CheckRateLimit counts calls for key in a fixed window and reports whether
// the call is within limit.
func (r *RedisIntentStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	rk := "rate_limit:" + key
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rk)
		pipe.ExpireNX(ctx, rk, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
