package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/domain/ports/repository"
)

// SessionRegistry keeps one Session per installation for a long-running
// server. Ledgers are opened lazily on first use.
type SessionRegistry struct {
	store       repository.CounterStore
	ai          adapter.VisionEditAdapter
	policy      CreditPolicy
	opts        []SessionOption
	ledgerHooks []func(LedgerEntry)
	log         *zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*registryEntry
	now      func() time.Time
}

type registryEntry struct {
	session  *Session
	lastUsed time.Time
}

func NewSessionRegistry(store repository.CounterStore, ai adapter.VisionEditAdapter, policy CreditPolicy, logger *zerolog.Logger, opts ...SessionOption) *SessionRegistry {
	return &SessionRegistry{
		store:    store,
		ai:       ai,
		policy:   policy,
		opts:     opts,
		log:      logger,
		sessions: make(map[string]*registryEntry),
		now:      time.Now,
	}
}

// OnLedgerEntry registers fn on every ledger the registry opens.
func (r *SessionRegistry) OnLedgerEntry(fn func(LedgerEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgerHooks = append(r.ledgerHooks, fn)
}

// Session returns the installation's session, opening its ledger if needed.
func (r *SessionRegistry) Session(ctx context.Context, installation string) (*Session, error) {
	if installation == "" {
		return nil, domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[installation]; ok {
		e.lastUsed = r.now()
		return e.session, nil
	}
	led, err := OpenLedger(ctx, r.store, installation, r.policy, r.log)
	if err != nil {
		return nil, err
	}
	for _, fn := range r.ledgerHooks {
		led.OnEntry(fn)
	}
	s := NewSession(led, r.ai, r.log, r.opts...)
	r.sessions[installation] = &registryEntry{session: s, lastUsed: r.now()}
	return s, nil
}

// Len reports how many sessions are open.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle closes sessions unused for longer than maxIdle. Sessions with
// work in flight are kept. The ledger stays in the store, so an evicted
// installation simply reopens on its next request.
func (r *SessionRegistry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	evicted := 0

	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastUsed.After(cutoff) {
			continue
		}
		if err := e.session.Discard(); errors.Is(err, domain.ErrRunStarted) {
			continue
		}
		delete(r.sessions, id)
		evicted++
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.log.Debug().Int("evicted", evicted).Msg("idle sessions closed")
	}
	return evicted
}

// Close discards every active batch.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, e := range sessions {
		e.session.Close()
	}
}
