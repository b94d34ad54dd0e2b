package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ex-remover/internal/domain/ports/repository"
)

// Compile-time check
var _ repository.CounterStore = (*CounterStore)(nil)

type CounterStore struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewCounterStore(pool *pgxpool.Pool, tm repository.TransactionManager) *CounterStore {
	return &CounterStore{pool: pool, tm: tm}
}

func (s *CounterStore) Get(ctx context.Context, key string) (int64, bool, error) {
	ex, err := getExecutor(s.pool, nil)
	if err != nil {
		return 0, false, err
	}
	var v int64
	err = ex.QueryRow(ctx, `SELECT value FROM counters WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *CounterStore) Set(ctx context.Context, key string, value int64) error {
	return s.set(ctx, nil, key, value)
}

// SetMany writes every pair in one transaction.
func (s *CounterStore) SetMany(ctx context.Context, values map[string]int64) error {
	return s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for k, v := range values {
			if err := s.set(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *CounterStore) set(ctx context.Context, tx repository.Tx, key string, value int64) error {
	ex, err := getExecutor(s.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `
		INSERT INTO counters (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (s *CounterStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	ex, err := getExecutor(s.pool, nil)
	if err != nil {
		return 0, err
	}
	var v int64
	err = ex.QueryRow(ctx, `
		INSERT INTO counters (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = counters.value + EXCLUDED.value, updated_at = now()
		RETURNING value`, key, delta).Scan(&v)
	return v, err
}

func (s *CounterStore) Delete(ctx context.Context, key string) error {
	ex, err := getExecutor(s.pool, nil)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `DELETE FROM counters WHERE key = $1`, key)
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (s *CounterStore) Close() error { return nil }
