package store

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// DefaultRedisPrefix namespaces balancewatch keys.
const DefaultRedisPrefix = "balancewatch:"

// RedisConfig holds connection parameters for a Redis store.
type RedisConfig struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Redis stores blobs as plain Redis strings.
type Redis struct {
	client rueidis.Client
	prefix string
}

// NewRedis connects to Redis via rueidis.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if len(cfg.Addrs) == 0 {
		return nil, bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"storage.redis_addrs": "required"})
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, bwerr.WrapWith(bwerr.ErrStorage, err, "connecting to redis")
	}
	return NewRedisWithClient(client, cfg.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client rueidis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := r.client.B().Get().Key(r.prefix + key).Build()
	data, err := r.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, bwerr.WrapWith(bwerr.ErrStorage, err, "redis get %s", key)
	}
	return data, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	cmd := r.client.B().Set().Key(r.prefix + key).Value(rueidis.BinaryString(value)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return bwerr.WrapWith(bwerr.ErrStorage, err, "redis set %s", key)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close implements Store.
func (r *Redis) Close() error {
	r.client.Close()
	return nil
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*File)(nil)
	_ Store = (*Redis)(nil)
)
