package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ex-remover/internal/config"
	"ex-remover/internal/domain/ports/repository"
	pg "ex-remover/internal/infra/db/postgres"
	"ex-remover/internal/infra/db/sqlite"
	"ex-remover/internal/infra/logging"
	"ex-remover/internal/infra/memory"
	red "ex-remover/internal/infra/redis"
	"ex-remover/internal/usecase"
)

var errBatchActive = errors.New("another batch is already running for this installation")

type commandContext struct {
	configFlag *string
	devFlag    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
	log        *zerolog.Logger
}

func newCommandContext(configFlag *string, devFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, devFlag: devFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadConfig(strings.TrimSpace(*c.configFlag), *c.devFlag)
		if err != nil {
			c.configErr = fmt.Errorf("config: %w", err)
			return
		}
		c.config = cfg
		c.log = logging.New(cfg.Log, cfg.Runtime.Dev)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *zerolog.Logger {
	if c.log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return c.log
}

func (c *commandContext) policy() usecase.CreditPolicy {
	return usecase.CreditPolicy{
		DefaultBalance: c.config.Credits.DefaultBalance,
		OneTimeBonus:   c.config.Credits.OneTimeBonus,
	}
}

// backend is the opened counter store plus whatever clients it needs.
type backend struct {
	Store  repository.CounterStore
	Redis  *red.Client
	closes []func()
}

func (b *backend) Close() {
	for i := len(b.closes) - 1; i >= 0; i-- {
		b.closes[i]()
	}
}

func (c *commandContext) openBackend(ctx context.Context) (*backend, error) {
	cfg := c.config
	log := c.logger()
	b := &backend{}
	switch cfg.Storage.Backend {
	case "memory":
		b.Store = memory.NewCounterStore()
	case "sqlite":
		s, err := sqlite.Open(cfg.Storage.SQLite)
		if err != nil {
			return nil, err
		}
		b.Store = s
		b.closes = append(b.closes, func() { _ = s.Close() })
	case "redis":
		cli, err := red.NewClient(ctx, &cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = cli
		b.Store = red.NewCounterStore(cli, "exremover:")
		b.closes = append(b.closes, func() { _ = cli.Close() })
	case "postgres":
		pool, err := pg.Connect(ctx, cfg.Storage.Database)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		statsCtx, stop := context.WithCancel(context.Background())
		go pg.ReportPoolStats(statsCtx, pool, 15*time.Second)
		b.Store = pg.NewCounterStore(pool, pg.NewTxManager(pool))
		b.closes = append(b.closes, pool.Close, stop)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	log.Debug().Str("backend", cfg.Storage.Backend).Msg("credit store opened")
	return b, nil
}

// installationID returns the id stored in the state dir, creating it on first use.
func (c *commandContext) installationID() (string, error) {
	dir := c.config.Storage.StateDir
	path := filepath.Join(dir, "installation")
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure state dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// lockInstallation keeps a single batch per installation. Local state is
// guarded with a file lock; shared redis state with a redis lock.
func (c *commandContext) lockInstallation(ctx context.Context, b *backend, installation string) (func(), error) {
	if b.Redis != nil {
		locker := red.NewLocker(b.Redis)
		key := "exremover:lock:" + installation
		token, err := locker.TryLock(ctx, key, time.Hour)
		if errors.Is(err, red.ErrLockHeld) {
			return nil, errBatchActive
		}
		if err != nil {
			return nil, err
		}
		return func() { _ = locker.Unlock(context.Background(), key, token) }, nil
	}

	if err := os.MkdirAll(c.config.Storage.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	lock := flock.New(filepath.Join(c.config.Storage.StateDir, "batch.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errBatchActive
	}
	return func() { _ = lock.Unlock() }, nil
}

// openLedger opens the installation ledger on an already opened backend.
func (c *commandContext) openLedger(ctx context.Context, b *backend) (*usecase.CreditLedger, error) {
	id, err := c.installationID()
	if err != nil {
		return nil, err
	}
	return usecase.OpenLedger(ctx, b.Store, id, c.policy(), c.logger())
}
