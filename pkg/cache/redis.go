package cache

import (
	"context"
	"errors"
	"time"

	redisclient "github.com/shopkite/paypal-checkout-backend/pkg/redis"
)

// Redis adapts the shared redis client to the Cache contract.
type Redis struct {
	client *redisclient.Client
}

func NewRedis(client *redisclient.Client) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.client.CacheKey(key))
	if err != nil {
		if redisclient.IsMiss(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.client.CacheKey(key), value, ttl)
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	return r.client.Exists(ctx, r.client.CacheKey(key))
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.client.CacheKey(key))
}
