package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

var _ adapter.VisionEditAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.VisionEditAdapter for local/dev testing.
// It always finds the subject and returns the picture unchanged.
type NoopAIAdapter struct {
	delay time.Duration
	log   *zerolog.Logger
}

// NewNoopAIAdapter constructs the noop adapter.
func NewNoopAIAdapter(logger *zerolog.Logger) *NoopAIAdapter {
	l := logger.With().Str("component", "NoopAIAdapter").Logger()
	return &NoopAIAdapter{delay: 100 * time.Millisecond, log: &l}
}

func (a *NoopAIAdapter) wait(ctx context.Context) error {
	select {
	case <-time.After(a.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *NoopAIAdapter) Identify(ctx context.Context, image []byte, mimeType string, point model.Point) (string, error) {
	if err := a.wait(ctx); err != nil {
		return "", err
	}
	a.log.Debug().Int("x", point.X).Int("y", point.Y).Msg("identify")
	return fmt.Sprintf("Person standing near (x=%d, y=%d)", point.X, point.Y), nil
}

func (a *NoopAIAdapter) Verify(ctx context.Context, image []byte, mimeType string, description string) (bool, error) {
	if err := a.wait(ctx); err != nil {
		return false, err
	}
	a.log.Debug().Int("bytes", len(image)).Msg("verify")
	return true, nil
}

func (a *NoopAIAdapter) Edit(ctx context.Context, image []byte, mimeType string, description string) (model.Image, error) {
	if err := a.wait(ctx); err != nil {
		return model.Image{}, err
	}
	a.log.Debug().Int("bytes", len(image)).Msg("edit")
	return model.Image{MIMEType: mimeType, Data: image}, nil
}
