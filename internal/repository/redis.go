package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// progressTTL keeps a finished status readable long after the run.
const progressTTL = 30 * 24 * time.Hour

// NewRedisClient creates a Redis client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisProgressRepository stores the progress record as JSON under one key.
type RedisProgressRepository struct {
	client *redis.Client
	key    string
}

func NewRedisProgressRepository(client *redis.Client, key string) *RedisProgressRepository {
	return &RedisProgressRepository{
		client: client,
		key:    key,
	}
}

func (r *RedisProgressRepository) Get(ctx context.Context) (models.Progress, error) {
	if r.client == nil {
		return models.Progress{}, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return models.IdleProgress(), nil
	}
	if err != nil {
		return models.Progress{}, fmt.Errorf("failed to get progress from redis: %w", err)
	}

	var p models.Progress
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return models.Progress{}, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return p, nil
}

func (r *RedisProgressRepository) Set(ctx context.Context, p models.Progress) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, progressTTL).Err(); err != nil {
		return fmt.Errorf("failed to set progress in redis: %w", err)
	}
	return nil
}

// releaseScript deletes the lock only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock is a RunLock shared by every process using the same Redis.
type RedisRunLock struct {
	client *redis.Client
	key    string
}

func NewRedisRunLock(client *redis.Client, key string) *RedisRunLock {
	return &RedisRunLock{client: client, key: key}
}

func (l *RedisRunLock) TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if l.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

func (l *RedisRunLock) Release(ctx context.Context, owner string) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Reset drops the lock whatever its owner. Only safe when no importer is live.
func (l *RedisRunLock) Reset(ctx context.Context) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to reset run lock: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
