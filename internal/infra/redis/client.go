package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the checkpoint payload backend.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func payloadKey(namespace, id string) string {
	return fmt.Sprintf("%s:payload:%s", namespace, id)
}

func indexKey(namespace string) string {
	return fmt.Sprintf("%s:index", namespace)
}

// SetPayload stores one checkpoint payload under the namespace.
func (c *Client) SetPayload(ctx context.Context, namespace, id string, data []byte) error {
	if err := c.rdb.Set(ctx, payloadKey(namespace, id), data, 0).Err(); err != nil {
		return fmt.Errorf("set payload failed: %w", err)
	}
	return nil
}

// GetPayload fetches one checkpoint payload. Missing keys report found=false.
func (c *Client) GetPayload(ctx context.Context, namespace, id string) (data []byte, found bool, err error) {
	data, err = c.rdb.Get(ctx, payloadKey(namespace, id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get payload failed: %w", err)
	}
	return data, true, nil
}

// DeletePayload removes one checkpoint payload.
func (c *Client) DeletePayload(ctx context.Context, namespace, id string) error {
	if err := c.rdb.Del(ctx, payloadKey(namespace, id)).Err(); err != nil {
		return fmt.Errorf("del payload failed: %w", err)
	}
	return nil
}

// SetIndex stores the serialized checkpoint index for the namespace.
func (c *Client) SetIndex(ctx context.Context, namespace string, data []byte) error {
	if err := c.rdb.Set(ctx, indexKey(namespace), data, 0).Err(); err != nil {
		return fmt.Errorf("set index failed: %w", err)
	}
	return nil
}

// GetIndex fetches the serialized checkpoint index for the namespace.
// A missing index reports found=false, which callers treat as an empty store.
func (c *Client) GetIndex(ctx context.Context, namespace string) (data []byte, found bool, err error) {
	data, err = c.rdb.Get(ctx, indexKey(namespace)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get index failed: %w", err)
	}
	return data, true, nil
}
