// File: internal/usecase/ledger.go
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/ports/repository"
)

// CreditPolicy controls how a ledger is initialised for an installation.
type CreditPolicy struct {
	DefaultBalance int64
	OneTimeBonus   int64
}

// DefaultCreditPolicy matches a fresh installation: 3 credits plus a 3 credit welcome bonus.
var DefaultCreditPolicy = CreditPolicy{DefaultBalance: 3, OneTimeBonus: 3}

type LedgerOp string

const (
	LedgerOpReserve LedgerOp = "reserve"
	LedgerOpRefund  LedgerOp = "refund"
	LedgerOpGrant   LedgerOp = "grant"
	LedgerOpBonus   LedgerOp = "bonus"
)

// LedgerEntry records one balance mutation.
type LedgerEntry struct {
	Op      LedgerOp
	Amount  int64
	Balance int64
	At      time.Time
}

// Delta is the signed change the entry applied to the balance.
func (e LedgerEntry) Delta() int64 {
	if e.Op == LedgerOpReserve {
		return -e.Amount
	}
	return e.Amount
}

// InsufficientCreditsError reports the shortfall of a rejected reservation.
type InsufficientCreditsError struct {
	Needed    int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Needed, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == domain.ErrInsufficientCredits
}

// Shortfall is how many credits the user must top up.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Needed - e.Available
}

func balanceKey(installation string) string { return "credits:" + installation }
func bonusKey(installation string) string   { return "credits:" + installation + ":bonus_applied" }
func pendingKey(installation string) string { return "credits:" + installation + ":pending" }

// CreditLedger holds the credit balance of one installation. The balance is
// kept in memory and written through to the counter store after every change.
type CreditLedger struct {
	mu           sync.Mutex
	store        repository.CounterStore
	installation string
	balance      int64
	entries      []LedgerEntry
	onEntry      []func(LedgerEntry)

	purchaseMu sync.Mutex

	log *zerolog.Logger
}

// OpenLedger loads (or initialises) the ledger of an installation. A missing
// or negative stored balance falls back to the default; the one-time bonus is
// granted exactly once, together with its flag.
func OpenLedger(ctx context.Context, store repository.CounterStore, installationID string, policy CreditPolicy, logger *zerolog.Logger) (*CreditLedger, error) {
	if store == nil || installationID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "CreditLedger").Str("installation_id", installationID).Logger()

	bal, found, err := store.Get(ctx, balanceKey(installationID))
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if !found || bal < 0 {
		bal = policy.DefaultBalance
	}

	led := &CreditLedger{store: store, installation: installationID, log: &l}

	applied, _, err := store.Get(ctx, bonusKey(installationID))
	if err != nil {
		return nil, fmt.Errorf("load bonus flag: %w", err)
	}
	if applied == 0 && policy.OneTimeBonus > 0 {
		bal += policy.OneTimeBonus
		if err := store.SetMany(ctx, map[string]int64{
			balanceKey(installationID): bal,
			bonusKey(installationID):   1,
		}); err != nil {
			return nil, fmt.Errorf("apply bonus: %w", err)
		}
		led.entries = append(led.entries, LedgerEntry{Op: LedgerOpBonus, Amount: policy.OneTimeBonus, Balance: bal, At: time.Now()})
		l.Info().Int64("bonus", policy.OneTimeBonus).Int64("balance", bal).Msg("one-time bonus applied")
	} else if err := store.Set(ctx, balanceKey(installationID), bal); err != nil {
		return nil, fmt.Errorf("store balance: %w", err)
	}

	led.balance = bal
	return led, nil
}

func (c *CreditLedger) Installation() string { return c.installation }

func (c *CreditLedger) Balance() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// Entries returns a copy of the mutations made since the ledger was opened.
func (c *CreditLedger) Entries() []LedgerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LedgerEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// OnEntry registers a hook called after every balance mutation.
func (c *CreditLedger) OnEntry(fn func(LedgerEntry)) {
	c.mu.Lock()
	c.onEntry = append(c.onEntry, fn)
	c.mu.Unlock()
}

// Reserve subtracts n credits, or fails with *InsufficientCreditsError
// leaving the balance untouched.
func (c *CreditLedger) Reserve(ctx context.Context, n int64) error {
	if n < 0 {
		return domain.ErrInvalidArgument
	}
	c.mu.Lock()
	if c.balance < n {
		avail := c.balance
		c.mu.Unlock()
		c.log.Debug().Int64("needed", n).Int64("available", avail).Msg("reservation rejected")
		return &InsufficientCreditsError{Needed: n, Available: avail}
	}
	c.balance -= n
	if err := c.store.Set(ctx, balanceKey(c.installation), c.balance); err != nil {
		c.balance += n
		c.mu.Unlock()
		return fmt.Errorf("persist reservation: %w", err)
	}
	entry := c.appendLocked(LedgerOpReserve, n)
	hooks := c.onEntry
	c.mu.Unlock()

	c.emit(hooks, entry)
	return nil
}

// Refund adds n credits back. The in-memory balance is always updated; a
// persistence failure is returned for the caller to log.
func (c *CreditLedger) Refund(ctx context.Context, n int64) error {
	return c.add(ctx, LedgerOpRefund, n)
}

// Grant adds purchased credits.
func (c *CreditLedger) Grant(ctx context.Context, n int64) error {
	return c.add(ctx, LedgerOpGrant, n)
}

func (c *CreditLedger) add(ctx context.Context, op LedgerOp, n int64) error {
	if n < 0 {
		return domain.ErrInvalidArgument
	}
	c.mu.Lock()
	c.balance += n
	err := c.store.Set(ctx, balanceKey(c.installation), c.balance)
	entry := c.appendLocked(op, n)
	hooks := c.onEntry
	c.mu.Unlock()

	c.emit(hooks, entry)
	if err != nil {
		c.log.Error().Err(err).Str("op", string(op)).Int64("amount", n).Msg("failed to persist balance")
		return fmt.Errorf("persist %s: %w", op, err)
	}
	return nil
}

func (c *CreditLedger) appendLocked(op LedgerOp, n int64) LedgerEntry {
	e := LedgerEntry{Op: op, Amount: n, Balance: c.balance, At: time.Now()}
	c.entries = append(c.entries, e)
	return e
}

func (c *CreditLedger) emit(hooks []func(LedgerEntry), e LedgerEntry) {
	c.log.Debug().Str("op", string(e.Op)).Int64("amount", e.Amount).Int64("balance", e.Balance).Msg("ledger entry")
	for _, h := range hooks {
		h(e)
	}
}
