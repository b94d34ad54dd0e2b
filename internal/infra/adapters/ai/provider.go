// File: internal/infra/adapters/ai/provider.go
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ex-remover/internal/config"
	"ex-remover/internal/domain/ports/adapter"
)

// NewFromConfig builds the configured provider adapter, wrapped with the
// concurrency limit and instrumentation.
func NewFromConfig(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (adapter.VisionEditAdapter, error) {
	var (
		inner adapter.VisionEditAdapter
		err   error
	)
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case adapter.ProviderGemini:
		inner, err = NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.TextModel, cfg.ImageModel, cfg.Timeout)
	case adapter.ProviderOpenAI:
		inner, err = NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIImage, cfg.Timeout)
	case adapter.ProviderNoop:
		inner = NewNoopAIAdapter(logger)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s adapter: %w", provider, err)
	}
	logger.Info().Str("provider", provider).Int("concurrent_limit", cfg.ConcurrentLimit).Msg("vision adapter ready")
	return NewInstrumentedAI(NewLimitedAI(inner, cfg.ConcurrentLimit), provider, logger), nil
}
