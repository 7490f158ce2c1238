// Package synckv wraps the synchronous key-value store spec.md §6 requires:
// plain string get/set/delete over Redis, holding device id, session salt,
// lock priority metadata, rotation timestamps, and classification opt-in
// flags — never part of a C6 transaction's atomic set.
package synckv

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
)

// Config holds the Redis connection settings, trimmed from the teacher's
// CacheConfig to what a synchronous string store actually needs.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the teacher's CacheConfig defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store is the synchronous key-value store collaborator interface C1-C5
// consume. Values are always plain strings — callers own their own
// encoding (the encrypted envelope in C2 is JSON-then-base64 before it
// ever reaches here).
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New dials Redis and verifies connectivity before returning.
func New(cfg *Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindLockAcquisition, "failed to connect to sync kv store", err).WithContext("addr", cfg.Addr)
	}

	logger.Info("connected to sync kv store", "addr", cfg.Addr, "db", cfg.DB)
	return &Store{client: client, logger: logger.With("component", "synckv")}, nil
}

// NewFromClient wraps an already-constructed Redis client without
// pinging it.
func NewFromClient(client *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger.With("component", "synckv")}
}

// Client exposes the underlying Redis client so collaborators that need
// their own command surface (internal/lock's SetNX/Eval) can share this
// store's connection rather than dialing a second one.
func (s *Store) Client() *redis.Client { return s.client }

// Get returns the string value at key, or ("", false, nil) if absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, coreerrors.Wrap(coreerrors.KindWriteBlocked, "sync kv get failed", err).WithContext("key", key)
	}
	return val, true, nil
}

// Set writes value at key with no expiry; callers manage their own
// lifecycle (device binding, rotation timestamps, etc. are not TTL'd).
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return coreerrors.Wrap(coreerrors.KindWriteBlocked, "sync kv set failed", err).WithContext("key", key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return coreerrors.Wrap(coreerrors.KindWriteBlocked, "sync kv delete failed", err).WithContext("key", key)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
