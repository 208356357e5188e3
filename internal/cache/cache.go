// Package cache is a Redis-backed latest-value store. The bridge
// writes the most recent market data per symbol through it; the request
// router serves its cache and derived-calculation sources from it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no cached value exists for a symbol.
var ErrNotFound = errors.New("not in cache")

// Config locates the Redis instance.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache stores the latest raw market-data payload per symbol.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies reachability.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, ttl: cfg.TTL, logger: logger}, nil
}

func key(symbol string) string {
	return "latest:" + symbol
}

// SetLatest stores the most recent payload for a symbol.
func (c *Cache) SetLatest(ctx context.Context, symbol string, data []byte) error {
	if err := c.client.Set(ctx, key(symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set latest %s: %w", symbol, err)
	}
	return nil
}

// GetLatest returns the most recent payload for a symbol.
func (c *Cache) GetLatest(ctx context.Context, symbol string) ([]byte, error) {
	data, err := c.client.Get(ctx, key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
		}
		return nil, fmt.Errorf("get latest %s: %w", symbol, err)
	}
	return data, nil
}

// Ping checks Redis reachability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
