package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/infra/metrics"
	"ex-remover/internal/usecase"
)

var _ adapter.VisionEditAdapter = (*instrumentedAI)(nil)

// instrumentedAI records latency and quota refusals per provider call.
type instrumentedAI struct {
	inner    adapter.VisionEditAdapter
	provider string
	log      *zerolog.Logger
}

func NewInstrumentedAI(inner adapter.VisionEditAdapter, provider string, logger *zerolog.Logger) adapter.VisionEditAdapter {
	l := logger.With().Str("component", "VisionAdapter").Str("provider", provider).Logger()
	return &instrumentedAI{inner: inner, provider: provider, log: &l}
}

func (a *instrumentedAI) observe(op string, start time.Time, err error) {
	ms := time.Since(start).Milliseconds()
	metrics.ObserveAICall(a.provider, op, ms, err == nil)
	if err == nil {
		a.log.Debug().Str("op", op).Int64("latency_ms", ms).Msg("provider call")
		return
	}
	if usecase.IsBillingOrQuota(err) {
		metrics.IncAIQuotaError(a.provider, op)
	}
	a.log.Warn().Err(err).Str("op", op).Int64("latency_ms", ms).Msg("provider call failed")
}

func (a *instrumentedAI) Identify(ctx context.Context, image []byte, mimeType string, point model.Point) (string, error) {
	start := time.Now()
	desc, err := a.inner.Identify(ctx, image, mimeType, point)
	a.observe("identify", start, err)
	return desc, err
}

func (a *instrumentedAI) Verify(ctx context.Context, image []byte, mimeType string, description string) (bool, error) {
	start := time.Now()
	ok, err := a.inner.Verify(ctx, image, mimeType, description)
	a.observe("verify", start, err)
	return ok, err
}

func (a *instrumentedAI) Edit(ctx context.Context, image []byte, mimeType string, description string) (model.Image, error) {
	start := time.Now()
	img, err := a.inner.Edit(ctx, image, mimeType, description)
	a.observe("edit", start, err)
	return img, err
}
