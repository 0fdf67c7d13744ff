package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisStateKey = "feedbackdesk:state:default"

// RedisStateBackend stores the snapshot as one JSON value without expiry.
type RedisStateBackend struct {
	rdb *redis.Client
	key string
}

func NewRedisStateBackend(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisStateBackendWithClient(redis.NewClient(opts), redisStateKey), nil
}

func NewRedisStateBackendWithClient(rdb *redis.Client, key string) *RedisStateBackend {
	if strings.TrimSpace(key) == "" {
		key = redisStateKey
	}
	return &RedisStateBackend{rdb: rdb, key: key}
}

func (b *RedisStateBackend) Load() (*Snapshot, error) {
	if b == nil || b.rdb == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), backendOperationTimeout)
	defer cancel()
	data, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *RedisStateBackend) Save(snapshot *Snapshot) error {
	if b == nil || b.rdb == nil || snapshot == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), backendOperationTimeout)
	defer cancel()
	return b.rdb.Set(ctx, b.key, data, 0).Err()
}

func (b *RedisStateBackend) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
