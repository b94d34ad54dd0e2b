package repository

import "context"

// CounterStore is a durable integer key-value store. Credit balances, the
// one-time bonus flag, pending purchases and influencer tallies live here.
type CounterStore interface {
	// Get returns found=false when the key was never written.
	Get(ctx context.Context, key string) (value int64, found bool, err error)
	Set(ctx context.Context, key string, value int64) error
	// SetMany writes all pairs atomically.
	SetMany(ctx context.Context, values map[string]int64) error
	// Incr adds delta (missing keys start at zero) and returns the new value.
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
