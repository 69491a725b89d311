package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Redis backs the prediction cache with a shared key-value store. All
// operations run through a circuit breaker so a struggling Redis degrades
// to cache misses instead of adding latency to every request.
type Redis struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

func NewRedis(client *redis.Client) *Redis {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "prediction-cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("cache: breaker %s %s -> %s", name, from, to)
		},
	})
	return &Redis{client: client, breaker: cb}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := r.breaker.Execute(func() (interface{}, error) {
		b, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		return b, err
	})
	if err != nil {
		log.Printf("cache: get %s: %v", key, err)
		return nil, false
	}
	b := value.([]byte)
	if b == nil {
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
}
