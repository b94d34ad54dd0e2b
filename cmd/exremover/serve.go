package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ex-remover/internal/infra/adapters/ai"
	"ex-remover/internal/infra/metrics"
	red "ex-remover/internal/infra/redis"
	"ex-remover/internal/infra/scheduler"
	"ex-remover/internal/infra/web"
	"ex-remover/internal/infra/worker"
	"ex-remover/internal/usecase"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, ctx)
		},
	}
}

func serve(ctx context.Context, cc *commandContext) error {
	cfg := cc.config
	log := cc.logger()
	if cfg.HTTP.SessionSecret == "" {
		return errors.New("http.session_secret (or EXREMOVER_SESSION_SECRET) is required")
	}
	if cfg.Runtime.Dev {
		log.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	be, err := cc.openBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	vision, err := ai.NewFromConfig(ctx, cfg.AI, log)
	if err != nil {
		return err
	}

	tracker := usecase.NewInfluencerTracker(be.Store, log)
	sessions := usecase.NewSessionRegistry(be.Store, vision, cc.policy(), log,
		usecase.WithInfluencerTracker(tracker),
		usecase.WithTransitionListener(metrics.TransitionListener),
		usecase.WithSweepObserver(metrics.SweepObserver),
	)
	sessions.OnLedgerEntry(metrics.LedgerHook)
	defer sessions.Close()

	evict := scheduler.NewScheduler("evict-idle-sessions", 5*time.Minute, func(context.Context) error {
		sessions.EvictIdle(cfg.HTTP.SessionIdle)
		return nil
	}, log)
	evict.Start(ctx)
	defer evict.Stop()

	pool := worker.NewPool(cfg.Workers.Size, log)
	pool.Start(context.WithoutCancel(ctx))

	deps := web.Deps{
		HTTP:        cfg.HTTP,
		Credits:     cfg.Credits,
		Sessions:    sessions,
		Influencers: tracker,
		Pool:        pool,
		Auth:        web.NewAuthManager(cfg.HTTP.SessionSecret, !cfg.Runtime.Dev, cfg.HTTP.SessionTTL),
		Logger:      log,
	}
	if be.Redis != nil {
		deps.Limiter = red.NewRateLimiter(be.Redis)
		deps.LimitKey = func(id string) string { return red.InstallationKey(id, "provider") }
	}
	srv := web.NewServer(deps)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		pool.Stop()
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// accepted jobs hold reserved credits; let them finish
	pool.Stop()
	return nil
}
