package redis

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"

	"ex-remover/internal/domain/ports/repository"
)

var _ repository.CounterStore = (*CounterStore)(nil)

// CounterStore keeps counters as plain integer keys under a prefix.
type CounterStore struct {
	cli    *redis.Client
	prefix string
}

func NewCounterStore(c *Client, prefix string) *CounterStore {
	if prefix == "" {
		prefix = "exremover:"
	}
	return &CounterStore{cli: c.cli, prefix: prefix}
}

func (s *CounterStore) key(k string) string { return s.prefix + k }

func (s *CounterStore) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := s.cli.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *CounterStore) Set(ctx context.Context, key string, value int64) error {
	return s.cli.Set(ctx, s.key(key), value, 0).Err()
}

// SetMany writes all pairs in a MULTI/EXEC block.
func (s *CounterStore) SetMany(ctx context.Context, values map[string]int64) error {
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range values {
			p.Set(ctx, s.key(k), v, 0)
		}
		return nil
	})
	return err
}

func (s *CounterStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return s.cli.IncrBy(ctx, s.key(key), delta).Result()
}

func (s *CounterStore) Delete(ctx context.Context, key string) error {
	return s.cli.Del(ctx, s.key(key)).Err()
}

// Close is a no-op; the shared Client owns the connection.
func (s *CounterStore) Close() error { return nil }
