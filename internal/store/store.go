// Package store provides the durable key-value state the refresh
// coordinator persists into: in-memory, a JSON file, or Redis.
package store

import (
	"context"

	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Store is a durable blob store keyed by string.
type Store interface {
	// Get returns the blob stored at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value at key, replacing any previous blob.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases underlying resources.
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemory(), nil
	case config.StorageFile, "":
		return NewFile(cfg.Path)
	case config.StorageRedis:
		return NewRedis(RedisConfig{Addrs: cfg.RedisAddrs, DB: cfg.RedisDB})
	default:
		return nil, bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"storage.driver": cfg.Driver})
	}
}
