package caching

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService wraps Redis for the two concerns this backend shares
// across process instances: the per-organization receipt rate limiter
// and the Square plan-variation id cache.
type CacheService interface {
	// Rate limiting: fixed window counter per key.
	IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (limited bool, retryAfter time.Duration, err error)

	// Plan variation mapping (plan type -> Square plan variation id).
	GetPlanVariation(ctx context.Context, merchantID, planType string) (string, error)
	SetPlanVariation(ctx context.Context, merchantID, planType, variationID string) error

	// Generic string operations.
	SetString(ctx context.Context, key string, value string, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

func (r *redisCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	cacheKey := fmt.Sprintf("shulpad:ratelimit:%s", key)
	count, err := r.client.Incr(ctx, cacheKey).Result()
	if err != nil {
		return true, 0, err
	}

	// Set expiry on first request in the window
	if count == 1 {
		r.client.Expire(ctx, cacheKey, window)
	}

	if count <= int64(limit) {
		return false, 0, nil
	}

	ttl, err := r.client.TTL(ctx, cacheKey).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return true, ttl, nil
}

func (r *redisCacheService) GetPlanVariation(ctx context.Context, merchantID, planType string) (string, error) {
	key := fmt.Sprintf("shulpad:planvar:%s:%s", merchantID, planType)
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // cache miss
		}
		return "", err
	}
	return val, nil
}

func (r *redisCacheService) SetPlanVariation(ctx context.Context, merchantID, planType, variationID string) error {
	key := fmt.Sprintf("shulpad:planvar:%s:%s", merchantID, planType)
	return r.client.Set(ctx, key, variationID, 30*24*time.Hour).Err()
}

func (r *redisCacheService) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, "shulpad:"+key, value, ttl).Err()
}

func (r *redisCacheService) GetString(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, "shulpad:"+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // cache miss
		}
		return "", err
	}
	return val, nil
}

func (r *redisCacheService) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, "shulpad:"+key).Err()
}
