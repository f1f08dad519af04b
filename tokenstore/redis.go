package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "meetgate:token"

// RedisStore shares one record between several instances of the service.
// SET and DEL replace the whole value atomically.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
	log *zap.Logger
}

// NewRedisStore uses rdb under key. An empty key selects DefaultRedisKey.
func NewRedisStore(rdb redis.UniversalClient, key string, log *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, key: key, log: log}
}

func (s *RedisStore) Location() string {
	return "redis:" + s.key
}

func (s *RedisStore) Load(ctx context.Context) (*Record, bool) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("redis token unreadable, treating as absent", zap.String("key", s.key), zap.Error(err))
		}
		return nil, false
	}
	rec := decodeRecord(data)
	if rec == nil {
		s.log.Warn("redis token corrupt, treating as absent", zap.String("key", s.key))
		return nil, false
	}
	return rec, true
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write redis token: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete redis token: %w", err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
