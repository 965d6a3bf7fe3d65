package checkpoint

import (
	"context"

	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
)

// RedisBackend stores payloads and the index in Redis, namespaced so several
// stores can share one instance.
type RedisBackend struct {
	client    *redisclient.Client
	namespace string
}

// NewRedisBackend wraps client under the given key namespace
// (default "checkpoints").
func NewRedisBackend(client *redisclient.Client, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = "checkpoints"
	}
	return &RedisBackend{client: client, namespace: namespace}
}

func (b *RedisBackend) WritePayload(ctx context.Context, id string, data []byte) (string, error) {
	if err := b.client.SetPayload(ctx, b.namespace, id, data); err != nil {
		return "", err
	}
	// The location is the checkpoint id itself; the client derives the key.
	return id, nil
}

func (b *RedisBackend) ReadPayload(ctx context.Context, location string) ([]byte, bool, error) {
	return b.client.GetPayload(ctx, b.namespace, location)
}

func (b *RedisBackend) DeletePayload(ctx context.Context, location string) error {
	return b.client.DeletePayload(ctx, b.namespace, location)
}

func (b *RedisBackend) WriteIndex(ctx context.Context, data []byte) error {
	return b.client.SetIndex(ctx, b.namespace, data)
}

func (b *RedisBackend) ReadIndex(ctx context.Context) ([]byte, bool, error) {
	return b.client.GetIndex(ctx, b.namespace)
}
