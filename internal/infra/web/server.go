package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ex-remover/internal/config"
	"ex-remover/internal/infra/metrics"
	"ex-remover/internal/infra/worker"
	"ex-remover/internal/usecase"
)

// Deps are the collaborators of the HTTP API.
type Deps struct {
	HTTP        config.HTTPConfig
	Credits     config.CreditsConfig
	Sessions    *usecase.SessionRegistry
	Influencers *usecase.InfluencerTracker
	Pool        *worker.Pool
	Auth        *AuthManager
	Limiter     Limiter                          // optional
	LimitKey    func(installation string) string // optional
	Logger      *zerolog.Logger
}

type Server struct {
	d   Deps
	log *zerolog.Logger
	srv *http.Server
}

func NewServer(d Deps) *Server {
	l := d.Logger.With().Str("component", "WebServer").Logger()
	if d.HTTP.HandlerTimeout <= 0 {
		d.HTTP.HandlerTimeout = 30 * time.Second
	}
	if d.LimitKey == nil {
		d.LimitKey = func(id string) string { return "rate_limit:" + id + ":provider" }
	}
	return &Server{d: d, log: &l}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(s.log),
		RequestLog(s.log),
		Recover(s.log),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.d.HTTP.HandlerTimeout))
		r.Post("/sessions", s.createSession)
		r.Get("/influencers/{code}", s.influencerTally)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(s.d.Auth))

			r.Get("/credits", s.getCredits)
			r.Post("/credits/purchase", s.startPurchase)
			r.Post("/credits/confirm", s.confirmPurchase)

			r.Post("/batch", s.createBatch)
			r.Get("/batch", s.getBatch)
			r.Delete("/batch", s.discardBatch)
			r.Put("/batch/target", s.setTarget)
			r.Get("/batch/export", s.exportBatch)
			r.Get("/batch/images/{id}/result", s.imageResult)
			r.Post("/batch/images/{id}/absent", s.confirmAbsent)

			// provider-backed
			r.Group(func(r chi.Router) {
				r.Use(RateLimit(s.d.Limiter, s.d.LimitKey, s.d.HTTP.RateLimit, s.d.HTTP.RateWindow, s.log))
				r.Post("/batch/identify", s.identify)
				r.Post("/batch/run", s.runBatch)
				r.Post("/batch/images/{id}/repoint", s.reverify(false))
				r.Post("/batch/images/{id}/refix", s.reverify(true))
			})
		})
	})
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.d.HTTP.Addr,
		Handler:           s.Router(),
		ReadTimeout:       s.d.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.d.HTTP.WriteTimeout,
	}
	s.log.Info().Str("addr", s.d.HTTP.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
